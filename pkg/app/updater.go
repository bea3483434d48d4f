package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"
)

const updaterLogPrefix = "app:updater"

var (
	// ErrUpToDate is returned when an endpoint answers 204 No Content.
	ErrUpToDate = errors.New("updater: already up to date")
	// ErrReleaseNotFound is returned when no endpoint produced a release.
	ErrReleaseNotFound = errors.New("updater: no release found")
	// ErrInactive is returned when the updater is disabled.
	ErrInactive = errors.New("updater: not active")
)

// UpdaterConfig configures release checks.
type UpdaterConfig struct {
	Active bool
	// Endpoints are tried in order. {{current_version}}, {{target}} and {{arch}}
	// are substituted before the request.
	Endpoints []string
	// Target overrides the detected OS name.
	Target string
	// Constraint, if set, limits which remote versions are offered, e.g. "^1".
	Constraint string
	Timeout    time.Duration
	Headers    map[string]string
}

// Platform is the download for one target.
type Platform struct {
	URL       string `json:"url"`
	Signature string `json:"signature"`
}

// Release is a release manifest. It accepts the static form with a platforms
// map and the dynamic form with url and signature at the top level.
type Release struct {
	Version   string
	Notes     string
	PubDate   *time.Time
	Platforms map[string]Platform
}

// UnmarshalJSON decodes either manifest form and validates the version.
func (r *Release) UnmarshalJSON(b []byte) error {
	var raw struct {
		Version   string              `json:"version"`
		Name      string              `json:"name"`
		Notes     string              `json:"notes"`
		PubDate   string              `json:"pub_date"`
		Platforms map[string]Platform `json:"platforms"`
		URL       string              `json:"url"`
		Signature string              `json:"signature"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	version := raw.Version
	if version == "" {
		version = raw.Name
	}
	v, err := ParseVersion(version)
	if err != nil {
		return err
	}
	out := Release{Version: v.String(), Notes: raw.Notes, Platforms: raw.Platforms}
	if raw.PubDate != "" {
		t, err := time.Parse(time.RFC3339, raw.PubDate)
		if err != nil {
			return fmt.Errorf("invalid value for `pub_date`: %w", err)
		}
		out.PubDate = &t
	}
	if out.Platforms == nil {
		if raw.URL == "" {
			return errors.New("the `url` field was not set on the updater response")
		}
		if raw.Signature == "" {
			return errors.New("the `signature` field was not set on the updater response")
		}
		out.Platforms = map[string]Platform{"": {URL: raw.URL, Signature: raw.Signature}}
	}
	*r = out
	return nil
}

// platform returns the download for target, falling back to the dynamic entry.
func (r *Release) platform(target string) (Platform, error) {
	if p, ok := r.Platforms[target]; ok {
		return p, nil
	}
	if p, ok := r.Platforms[""]; ok {
		return p, nil
	}
	return Platform{}, fmt.Errorf("%s - release has no platform %q", updaterLogPrefix, target)
}

// Update is the outcome of a release check.
type Update struct {
	ShouldUpdate   bool       `json:"shouldUpdate"`
	Version        string     `json:"version"`
	CurrentVersion string     `json:"currentVersion"`
	Notes          string     `json:"notes,omitempty"`
	Date           *time.Time `json:"date,omitempty"`
	URL            string     `json:"url,omitempty"`
	Signature      string     `json:"signature,omitempty"`
}

// Updater checks remote endpoints for newer releases.
type Updater struct {
	cfg     UpdaterConfig
	current string
	client  *http.Client
}

// NewUpdater creates an Updater for the running version. A nil client uses
// one with cfg.Timeout.
func NewUpdater(cfg UpdaterConfig, currentVersion string, client *http.Client) *Updater {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Updater{cfg: cfg, current: currentVersion, client: client}
}

// Target returns the OS name substituted for {{target}}.
func (u *Updater) Target() string {
	if u.cfg.Target != "" {
		return u.cfg.Target
	}
	return runtime.GOOS
}

// Arch returns the architecture substituted for {{arch}}.
func Arch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "i686"
	case "arm":
		return "armv7"
	}
	return runtime.GOARCH
}

func (u *Updater) endpointURL(tmpl string) string {
	return strings.NewReplacer(
		"{{current_version}}", u.current,
		"{{target}}", u.Target(),
		"{{arch}}", Arch(),
	).Replace(tmpl)
}

// Check queries the endpoints in order and returns the first usable release.
// Non-2xx answers and transport errors move on to the next endpoint.
func (u *Updater) Check(ctx context.Context) (*Update, error) {
	if !u.cfg.Active {
		return nil, ErrInactive
	}
	if len(u.cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("%s - no endpoints configured: %w", updaterLogPrefix, ErrReleaseNotFound)
	}

	var (
		release *Release
		lastErr error
	)
	for _, tmpl := range u.cfg.Endpoints {
		url := u.endpointURL(tmpl)
		r, err := u.fetch(ctx, url)
		if errors.Is(err, ErrUpToDate) {
			return nil, ErrUpToDate
		}
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - endpoint %s failed: %v", updaterLogPrefix, url, err))
			lastErr = err
			continue
		}
		release = r
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, lastErr
	}
	if release == nil {
		return nil, ErrReleaseNotFound
	}

	should, err := IsNewer(u.current, release.Version)
	if err != nil {
		return nil, err
	}
	if should && u.cfg.Constraint != "" {
		if should, err = Satisfies(release.Version, u.cfg.Constraint); err != nil {
			return nil, err
		}
	}

	target := u.Target() + "-" + Arch()
	if u.cfg.Target != "" {
		target = u.cfg.Target
	}
	platform, err := release.platform(target)
	if err != nil {
		return nil, err
	}

	slog.Info(fmt.Sprintf("%s - remote %s, current %s, update=%v", updaterLogPrefix, release.Version, u.current, should))
	return &Update{
		ShouldUpdate:   should,
		Version:        release.Version,
		CurrentVersion: u.current,
		Notes:          release.Notes,
		Date:           release.PubDate,
		URL:            platform.URL,
		Signature:      platform.Signature,
	}, nil
}

// errStatus marks a non-2xx answer so Check moves on.
type errStatus int

func (e errStatus) Error() string {
	return fmt.Sprintf("unexpected status %d", int(e))
}

func (u *Updater) fetch(ctx context.Context, url string) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to build request: %w", updaterLogPrefix, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range u.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s - request failed: %w", updaterLogPrefix, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrUpToDate
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, errStatus(resp.StatusCode)
	}

	var r Release
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("%s - invalid release manifest: %w", updaterLogPrefix, err)
	}
	return &r, nil
}
