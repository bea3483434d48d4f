package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/morezero/desktop-bridge/pkg/callback"
	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/events"
	"github.com/morezero/desktop-bridge/pkg/ipc"
)

const wsLogPrefix = "transport:websocket"

// WSHandler serves frontends running in a browser, for example a dev server
// preview. The window label comes from the label query parameter; a
// connection without one gets a generated preview label. When two
// connections share a label the newer one receives replies, and the label
// stays attached until both have closed.
type WSHandler struct {
	Backend Backend
	// OriginPatterns lists accepted cross-origin hosts. Empty means same
	// origin only.
	OriginPatterns []string

	once     sync.Once
	attached *attachments
}

func (h *WSHandler) sessions() *attachments {
	h.once.Do(func() { h.attached = newAttachments(h.Backend) })
	return h.attached
}

// ServeHTTP upgrades the connection and routes envelopes until it closes.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := uuid.NewString()
	label := r.URL.Query().Get("label")
	if label == "" {
		label = "preview-" + session[:8]
	}
	if err := events.ValidateLabel(label); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - accept failed for %s: %v", wsLogPrefix, label, err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	rp := &wsReplier{conn: conn, out: newQueue[*envelope.Reply](), done: make(chan struct{})}
	go rp.write(ctx, session)

	sessions := h.sessions()
	defer func() {
		sessions.detach(label, session)
		rp.out.close()
		<-rp.done
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		slog.Info(fmt.Sprintf("%s - session %s (%s) closed", wsLogPrefix, session, label))
	}()

	if _, err := sessions.attach(label, session, rp); err != nil {
		slog.Warn(fmt.Sprintf("%s - cannot attach %s: %v", wsLogPrefix, label, err))
		return
	}
	slog.Info(fmt.Sprintf("%s - session %s attached as %s", wsLogPrefix, session, label))

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				slog.Debug(fmt.Sprintf("%s - session %s read ended: %v", wsLogPrefix, session, err))
			}
			return
		}
		env, err := envelope.DecodeLoose(raw)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - session %s sent an unreadable envelope: %v", wsLogPrefix, session, err))
			continue
		}
		if env.Routable() {
			h.Backend.Handle(ctx, label, env, rp)
			continue
		}
		if vErr := env.Validate(); !rejectUnroutable(ctx, env, vErr, rp) {
			slog.Warn(fmt.Sprintf("%s - session %s sent an envelope with no error callback: %v", wsLogPrefix, session, vErr))
		}
	}
}

// wsReplier queues replies for the connection's single writer.
type wsReplier struct {
	conn *websocket.Conn
	out  *queue[*envelope.Reply]
	done chan struct{}
}

func (r *wsReplier) Reply(_ context.Context, reply *envelope.Reply) error {
	if !r.out.push(reply) {
		return errWindowClosed
	}
	return nil
}

func (r *wsReplier) write(ctx context.Context, session string) {
	defer close(r.done)
	r.out.drain(func(reply *envelope.Reply) {
		if err := wsjson.Write(ctx, r.conn, reply); err != nil {
			slog.Debug(fmt.Sprintf("%s - session %s write failed: %v", wsLogPrefix, session, err))
		}
	})
}

// WSClient is the frontend end of the WebSocket transport.
type WSClient struct {
	conn    *websocket.Conn
	label   string
	reg     *callback.Registry
	writeMu sync.Mutex
	closed  atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// DialWS connects to a WSHandler at rawURL as label.
func DialWS(ctx context.Context, rawURL, label string, reg *callback.Registry) (*WSClient, error) {
	if err := events.ValidateLabel(label); err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid url %q: %w", wsLogPrefix, rawURL, err)
	}
	q := u.Query()
	q.Set("label", label)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to dial %s: %w", wsLogPrefix, u.Redacted(), err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c := &WSClient{conn: conn, label: label, reg: reg, cancel: cancel, done: make(chan struct{})}
	go c.read(readCtx)
	return c, nil
}

// Label returns the window label.
func (c *WSClient) Label() string {
	return c.label
}

func (c *WSClient) read(ctx context.Context) {
	defer close(c.done)
	for {
		var reply envelope.Reply
		if err := wsjson.Read(ctx, c.conn, &reply); err != nil {
			c.closed.Store(true)
			return
		}
		deliver(wsLogPrefix, c.reg, &reply)
	}
}

// Post implements ipc.Bridge.
func (c *WSClient) Post(ctx context.Context, env *envelope.Envelope) error {
	if c.closed.Load() {
		return ipc.ErrTransportAbsent
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsjson.Write(ctx, c.conn, env); err != nil {
		return fmt.Errorf("%s - failed to send envelope: %w", wsLogPrefix, err)
	}
	return nil
}

// Close closes the connection and waits for the reader to stop.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		_ = c.conn.CloseNow()
		<-c.done
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	c.cancel()
	<-c.done
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - close %s: %v", wsLogPrefix, c.label, err))
	}
	return nil
}
