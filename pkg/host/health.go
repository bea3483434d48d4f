package host

import (
	"context"
	"time"
)

// Pinger is implemented by journals that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthOutput is the result of Health.
type HealthOutput struct {
	Status    string       `json:"status"`
	App       string       `json:"app"`
	Version   string       `json:"version"`
	Uptime    string       `json:"uptime"`
	Checks    HealthChecks `json:"checks"`
	Windows   []string     `json:"windows"`
	Attached  []string     `json:"attached"`
	Listeners int          `json:"listeners"`
	Modules   []string     `json:"modules"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks holds individual health check results. Journal is nil when
// no journal is configured.
type HealthChecks struct {
	Journal *bool `json:"journal,omitempty"`
}

// Health reports what the host is serving. It is unhealthy only when a
// configured journal cannot be reached.
func (h *Host) Health(ctx context.Context) *HealthOutput {
	out := &HealthOutput{
		Status:    "healthy",
		App:       h.info.Name,
		Version:   h.info.Version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Windows:   h.windows.Labels(),
		Attached:  h.hub.Windows(),
		Listeners: h.hub.ListenerCount(),
		Modules:   h.router.Modules(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if p, ok := h.journal.(Pinger); ok {
		ok := p.Ping(ctx) == nil
		out.Checks.Journal = &ok
		if !ok {
			out.Status = "unhealthy"
		}
	}
	return out
}
