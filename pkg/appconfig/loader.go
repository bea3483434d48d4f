package appconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/morezero/desktop-bridge/pkg/app"
	"github.com/morezero/desktop-bridge/pkg/events"
	"github.com/morezero/desktop-bridge/pkg/window"
)

const logPrefix = "appconfig:loader"

// Load reads the app config. Paths are tried in order: any passed in, then
// APP_CONFIG_FILE, then config/app.yaml and app.yaml. Missing files are
// skipped; if none exists the built-in default is returned. A file that
// exists but does not parse or validate is an error.
func Load(paths ...string) (*Config, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("APP_CONFIG_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/app.yaml", "app.yaml")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		cfg, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s - %s: %w", logPrefix, p, err)
		}
		slog.Info(fmt.Sprintf("%s - loaded app config from %s", logPrefix, p))
		return cfg, nil
	}

	slog.Info(fmt.Sprintf("%s - using default app config", logPrefix))
	return Default(), nil
}

// Parse decodes and validates YAML. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	def := Default()
	if len(cfg.Windows) == 0 {
		cfg.Windows = def.Windows
	}
	if !cfg.Allowlist.All && cfg.Allowlist.Modules == nil {
		cfg.Allowlist = def.Allowlist
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks names, labels and versions.
func (c *Config) Validate() error {
	if c.Package.Name == "" {
		return errors.New("package.name is required")
	}
	if _, err := app.ParseVersion(c.Package.Version); err != nil {
		return fmt.Errorf("package.version: %w", err)
	}
	seen := make(map[string]bool, len(c.Windows))
	for i, w := range c.Windows {
		if err := events.ValidateLabel(w.Label); err != nil {
			return fmt.Errorf("windows[%d]: %w", i, err)
		}
		if seen[w.Label] {
			return fmt.Errorf("windows[%d]: duplicate label %q", i, w.Label)
		}
		seen[w.Label] = true
	}
	if c.Updater.Active && len(c.Updater.Endpoints) == 0 {
		return errors.New("updater.endpoints is required when the updater is active")
	}
	return nil
}

// UpdaterSettings converts the updater section for app.NewUpdater.
func (c *Config) UpdaterSettings() app.UpdaterConfig {
	return app.UpdaterConfig{
		Active:     c.Updater.Active,
		Endpoints:  append([]string(nil), c.Updater.Endpoints...),
		Target:     c.Updater.Target,
		Constraint: c.Updater.Constraint,
		Timeout:    c.Updater.Timeout,
		Headers:    c.Updater.Headers,
	}
}

// Info returns the package metadata for the App module.
func (c *Config) Info() app.Info {
	return app.Info{Name: c.Package.Name, Version: c.Package.Version}
}

// Default returns the built-in configuration: one main window and the
// commands the bridge itself serves.
func Default() *Config {
	return &Config{
		Package: PackageConfig{Name: "desktop-bridge", Version: "0.1.0"},
		Windows: []window.Options{{Label: "main", Title: "desktop-bridge", Center: true}},
		Allowlist: AllowlistConfig{
			Modules: map[string][]string{
				"App":     {"*"},
				"Event":   {"*"},
				"Window":  {"*"},
				"Updater": {"checkUpdate"},
			},
		},
	}
}
