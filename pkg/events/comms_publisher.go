package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/desktop-bridge/pkg/commsutil"
	"github.com/morezero/desktop-bridge/pkg/envelope"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// Prefix is the subject root, e.g. from BRIDGE_SUBJECT_PREFIX.
	Prefix string
	// AllSubject, when set, also receives every event (e.g. from EVENT_MIRROR_SUBJECT).
	AllSubject string
}

// CommsPublisher mirrors emitted events to NATS subjects.
type CommsPublisher struct {
	nc         *comms.Conn
	prefix     string
	allSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{nc: nc, prefix: commsutil.DefaultPrefix}
	if opts != nil {
		if opts.Prefix != "" {
			p.prefix = opts.Prefix
		}
		p.allSubject = opts.AllSubject
	}
	return p
}

// PublishEvent publishes the event on its per-name subject and, if
// configured, on the catch-all subject.
func (p *CommsPublisher) PublishEvent(_ context.Context, event *Event) error {
	data, err := envelope.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	subject := commsutil.BuildEventSubject(p.prefix, event.Event)
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
		return err
	}

	if p.allSubject != "" {
		if err := p.nc.Publish(p.allSubject, data); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.allSubject, err))
			return err
		}
	}

	slog.Debug(fmt.Sprintf("%s - mirrored event %s", commsPublisherLogPrefix, event.Event))
	return nil
}
