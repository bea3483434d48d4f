package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/desktop-bridge/pkg/callback"
	"github.com/morezero/desktop-bridge/pkg/commsutil"
	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/events"
	"github.com/morezero/desktop-bridge/pkg/ipc"
)

const natsLogPrefix = "transport:nats"

// ControlHeader marks control messages on a window's invoke subject. They
// share the subject with envelopes so they stay ordered with them.
const ControlHeader = "Bridge-Control"

// ControlDetach tells the server the window is gone.
const ControlDetach = "detach"

// SessionHeader carries the client session on every message. Clients that
// share a label are told apart by it, so one of them leaving does not detach
// the others.
const SessionHeader = "Bridge-Session"

// NATSServer serves windows that publish envelopes on <prefix>.<label>.invoke
// and answers on <prefix>.<label>.reply. A window is attached on its first
// message and detached when the last session using its label leaves.
type NATSServer struct {
	nc       *comms.Conn
	prefix   string
	backend  Backend
	attached *attachments

	mu  sync.Mutex
	sub *comms.Subscription
}

// NewNATSServer creates a server. An empty prefix uses commsutil.DefaultPrefix.
func NewNATSServer(nc *comms.Conn, prefix string, backend Backend) *NATSServer {
	if prefix == "" {
		prefix = commsutil.DefaultPrefix
	}
	return &NATSServer{nc: nc, prefix: prefix, backend: backend, attached: newAttachments(backend)}
}

// Start subscribes to the invoke subjects of every window.
func (s *NATSServer) Start() error {
	subject := commsutil.BuildInvokeWildcard(s.prefix)
	sub, err := s.nc.Subscribe(subject, s.handle)
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", natsLogPrefix, subject, err)
	}
	if err := s.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("%s - failed to flush subscription: %w", natsLogPrefix, err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	slog.Info(fmt.Sprintf("%s - serving windows on %s", natsLogPrefix, subject))
	return nil
}

// Windows returns the attached labels in order.
func (s *NATSServer) Windows() []string {
	return s.attached.windows()
}

// Stop unsubscribes and detaches every window.
func (s *NATSServer) Stop() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	s.attached.detachAll()
	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("%s - failed to unsubscribe: %w", natsLogPrefix, err)
	}
	return nil
}

func (s *NATSServer) handle(m *comms.Msg) {
	label, ok := commsutil.LabelFromInvokeSubject(s.prefix, m.Subject)
	if !ok {
		slog.Warn(fmt.Sprintf("%s - ignoring message on %s", natsLogPrefix, m.Subject))
		return
	}
	var session string
	if m.Header != nil {
		session = m.Header.Get(SessionHeader)
	}

	if m.Header != nil && m.Header.Get(ControlHeader) == ControlDetach {
		if s.attached.detach(label, session) {
			slog.Info(fmt.Sprintf("%s - window %s detached", natsLogPrefix, label))
		} else {
			slog.Debug(fmt.Sprintf("%s - session %q left %s, window stays attached", natsLogPrefix, session, label))
		}
		return
	}

	env, err := envelope.DecodeLoose(m.Data)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - dropping unreadable envelope from %s: %v", natsLogPrefix, label, err))
		return
	}
	rp := &natsReplier{nc: s.nc, subject: commsutil.BuildReplySubject(s.prefix, label)}
	attached, err := s.attached.attach(label, session, rp)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - cannot attach %s: %v", natsLogPrefix, label, err))
		return
	}
	if attached {
		slog.Info(fmt.Sprintf("%s - window %s attached (session %q)", natsLogPrefix, label, session))
	}

	if env.Routable() {
		s.backend.Handle(context.Background(), label, env, rp)
		return
	}
	if vErr := env.Validate(); !rejectUnroutable(context.Background(), env, vErr, rp) {
		slog.Warn(fmt.Sprintf("%s - dropping envelope from %s with no error callback: %v", natsLogPrefix, label, vErr))
	}
}

type natsReplier struct {
	nc      *comms.Conn
	subject string
}

func (r *natsReplier) Reply(_ context.Context, reply *envelope.Reply) error {
	data, err := envelope.EncodeReply(reply)
	if err != nil {
		return err
	}
	return r.nc.Publish(r.subject, data)
}

// NATSClient is the frontend end of the NATS transport for one window.
type NATSClient struct {
	nc      *comms.Conn
	label   string
	session string
	invoke  string
	reg     *callback.Registry
	sub     *comms.Subscription
	replies *queue[*envelope.Reply]
	done    chan struct{}
	closed  atomic.Bool
}

// DialNATS subscribes to the window's reply subject and returns a Bridge
// for it.
func DialNATS(nc *comms.Conn, prefix, label string, reg *callback.Registry) (*NATSClient, error) {
	if err := events.ValidateLabel(label); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = commsutil.DefaultPrefix
	}
	c := &NATSClient{
		nc:      nc,
		label:   label,
		session: uuid.NewString(),
		invoke:  commsutil.BuildInvokeSubject(prefix, label),
		reg:     reg,
		replies: newQueue[*envelope.Reply](),
		done:    make(chan struct{}),
	}

	subject := commsutil.BuildReplySubject(prefix, label)
	sub, err := nc.Subscribe(subject, func(m *comms.Msg) {
		r, err := envelope.DecodeReply(m.Data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - dropping malformed reply on %s: %v", natsLogPrefix, m.Subject, err))
			return
		}
		c.replies.push(r)
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", natsLogPrefix, subject, err)
	}
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("%s - failed to flush subscription: %w", natsLogPrefix, err)
	}
	c.sub = sub

	go func() {
		defer close(c.done)
		c.replies.drain(func(r *envelope.Reply) {
			deliver(natsLogPrefix, c.reg, r)
		})
	}()
	return c, nil
}

// Label returns the window label.
func (c *NATSClient) Label() string {
	return c.label
}

// Session returns the ID this client stamps on its messages.
func (c *NATSClient) Session() string {
	return c.session
}

func (c *NATSClient) message() *comms.Msg {
	msg := comms.NewMsg(c.invoke)
	msg.Header.Set(SessionHeader, c.session)
	return msg
}

// Post implements ipc.Bridge.
func (c *NATSClient) Post(_ context.Context, env *envelope.Envelope) error {
	if c.closed.Load() {
		return ipc.ErrTransportAbsent
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	msg := c.message()
	msg.Data = data
	if err := c.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("%s - failed to publish to %s: %w", natsLogPrefix, c.invoke, err)
	}
	return nil
}

// Close tells the server the window is gone and stops delivering replies.
// The NATS connection is left open.
func (c *NATSClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	msg := c.message()
	msg.Header.Set(ControlHeader, ControlDetach)
	err := c.nc.PublishMsg(msg)
	if err == nil {
		err = c.nc.Flush()
	}
	if uErr := c.sub.Unsubscribe(); uErr != nil && err == nil {
		err = uErr
	}
	c.replies.close()
	<-c.done
	if err != nil {
		return fmt.Errorf("%s - close %s: %w", natsLogPrefix, c.label, err)
	}
	return nil
}
