package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/morezero/desktop-bridge/pkg/commsutil"
	"github.com/morezero/desktop-bridge/pkg/db"
	"github.com/morezero/desktop-bridge/pkg/host"
	"github.com/morezero/desktop-bridge/pkg/transport"
	"github.com/morezero/desktop-bridge/pkg/window"
)

// statusSource is the part of the host the HTTP endpoints read.
type statusSource interface {
	Health(ctx context.Context) *host.HealthOutput
}

// journalReader is the read side of the invocation journal.
type journalReader interface {
	ListRecentInvocations(ctx context.Context, p db.ListInvocationsParams) ([]db.Invocation, error)
	Summarize(ctx context.Context, since time.Time) ([]db.CommandSummary, error)
}

// defaultSummaryWindow is used by /invocations/summary without ?since.
const defaultSummaryWindow = 24 * time.Hour

// routes builds the HTTP mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/connection", s.handleConnection)
	mux.HandleFunc("/invocations", s.handleInvocations)
	mux.HandleFunc("/invocations/summary", s.handleSummary)
	if s.ws != nil {
		mux.Handle("/ws", s.ws)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - encode response: %v", logPrefix, err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.host.Health(ctx)
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// connectionInfo tells out-of-process windows where to invoke. Clients stamp
// every message with their own session ID under SessionHeader.
type connectionInfo struct {
	NatsURL        string   `json:"natsUrl"`
	Prefix         string   `json:"prefix"`
	InvokeSubject  string   `json:"invokeSubject"`
	ReplySubject   string   `json:"replySubject"`
	SessionHeader  string   `json:"sessionHeader"`
	WebSocket      bool     `json:"webSocket"`
	WindowCommands []string `json:"windowCommands"`
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, connectionInfo{
		NatsURL:        s.cfg.COMMSURL,
		Prefix:         s.cfg.SubjectPrefix,
		InvokeSubject:  commsutil.BuildInvokeSubject(s.cfg.SubjectPrefix, "{label}"),
		ReplySubject:   commsutil.BuildReplySubject(s.cfg.SubjectPrefix, "{label}"),
		SessionHeader:  transport.SessionHeader,
		WebSocket:      s.ws != nil,
		WindowCommands: window.ManageTypes(),
	})
}

// parseInvocationParams reads label, module, failed, since and limit.
// since accepts RFC 3339 or a duration back from now such as 15m.
func parseInvocationParams(q url.Values, now time.Time) (db.ListInvocationsParams, error) {
	p := db.ListInvocationsParams{
		Label:  q.Get("label"),
		Module: q.Get("module"),
	}
	if v := q.Get("failed"); v != "" {
		failed, err := strconv.ParseBool(v)
		if err != nil {
			return p, fmt.Errorf("failed: %w", err)
		}
		p.FailedOnly = failed
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return p, fmt.Errorf("limit: %q is not a non-negative integer", v)
		}
		p.Limit = limit
	}
	if v := q.Get("since"); v != "" {
		since, err := parseSince(v, now)
		if err != nil {
			return p, err
		}
		p.Since = since
	}
	return p, nil
}

func parseSince(v string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("since: %q is negative", v)
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("since: %q is neither a duration nor RFC 3339", v)
	}
	return t, nil
}

func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "invocation journal disabled", http.StatusNotFound)
		return
	}
	p, err := parseInvocationParams(r.URL.Query(), time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.journal.ListRecentInvocations(r.Context(), p)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - list invocations: %v", logPrefix, err))
		http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
		return
	}
	if rows == nil {
		rows = []db.Invocation{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "invocation journal disabled", http.StatusNotFound)
		return
	}
	now := time.Now()
	since := now.Add(-defaultSummaryWindow)
	if v := r.URL.Query().Get("since"); v != "" {
		var err error
		if since, err = parseSince(v, now); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	rows, err := s.journal.Summarize(r.Context(), since)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - summarize invocations: %v", logPrefix, err))
		http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
		return
	}
	if rows == nil {
		rows = []db.CommandSummary{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// homePageTemplate is the HTML status page.
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Health.App}} – desktop-bridge</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .error { color: #cc0000; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>{{.Health.App}} {{.Health.Version}}</h1>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Uptime: {{.Health.Uptime}}</p>
    <p>Listeners: <span class="stat">{{.Health.Listeners}}</span></p>
    <p>Modules: {{range .Health.Modules}}{{.}} {{end}}</p>
  </section>

  <section>
    <h2>Windows</h2>
    {{if not .Health.Windows}}
    <p>No windows.</p>
    {{else}}
    <table>
      <thead><tr><th>Label</th><th>Attached</th></tr></thead>
      <tbody>
        {{range .Health.Windows}}
        <tr><td>{{.}}</td><td>{{if index $.Attached .}}yes{{else}}no{{end}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  {{if .JournalEnabled}}
  <section>
    <h2>Recent invocations</h2>
    {{if .JournalError}}
    <p class="error">Could not load the journal: {{.JournalError}}</p>
    {{else if not .Invocations}}
    <p>No invocations recorded.</p>
    {{else}}
    <table>
      <thead><tr><th>At</th><th>Window</th><th>Module</th><th>Command</th><th>Result</th></tr></thead>
      <tbody>
        {{range .Invocations}}
        <tr>
          <td>{{.InvokedAt.Format "15:04:05"}}</td>
          <td>{{.Label}}</td>
          <td>{{.Module}}</td>
          <td>{{.Command}}</td>
          <td>{{if .Ok}}ok{{else}}<span class="error">{{.ErrorCode}}</span>{{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
  {{end}}
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health         *host.HealthOutput
	Attached       map[string]bool
	JournalEnabled bool
	Invocations    []db.Invocation
	JournalError   string
}

// homeInvocations is how many journal rows the home page shows.
const homeInvocations = 20

// handleHome returns an HTTP handler for the status page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		health := s.host.Health(ctx)
		data := homeData{
			Health:         health,
			Attached:       make(map[string]bool, len(health.Attached)),
			JournalEnabled: s.journal != nil,
		}
		for _, label := range health.Attached {
			data.Attached[label] = true
		}
		if s.journal != nil {
			rows, err := s.journal.ListRecentInvocations(ctx, db.ListInvocationsParams{Limit: homeInvocations})
			if err != nil {
				data.JournalError = err.Error()
			} else {
				data.Invocations = rows
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
