// Package realtime owns the lifecycle of the one authenticated live channel
// a session holds. Every other component reaches the channel through
// Subscribe/Publish and never touches the socket directly.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kevyamon/yely-go/internal/models"
	"github.com/kevyamon/yely-go/internal/observability"
)

// Handler receives the raw payload of one inbound event.
type Handler func(data json.RawMessage)

// Subscription is the token returned by Subscribe; it identifies one handler
// registration so the same event can carry many independent handlers.
type Subscription struct {
	Event string
	fn    Handler
}

// Wire is one established bidirectional connection. Production wraps a
// gorilla websocket; tests inject an in-memory pipe.
type Wire interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer establishes a Wire. It is retried by the manager's own backoff
// policy, so implementations should fail fast.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Wire, error)
}

type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateConnected
)

// Options tunes a Manager. Zero values pick production defaults.
type Options struct {
	URL          string
	Token        string
	Dialer       Dialer
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Logger       *slog.Logger
}

// Manager is the session's connection manager: exactly one per session,
// constructed at login and torn down at logout. Subscriptions requested
// while the channel is absent are buffered and attached, in request order,
// exactly once upon establishment.
type Manager struct {
	url          string
	token        string
	dialer       Dialer
	reconnectMin time.Duration
	reconnectMax time.Duration
	log          *slog.Logger

	mu        sync.Mutex
	st        state
	wire      Wire
	pending   []*Subscription          // FIFO buffer, drained on connect
	live      map[string][]*Subscription
	cancel    context.CancelFunc
	gen       int // invalidates run loops left over from a previous Connect
	everAlive bool
}

func NewManager(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		url:          opts.URL,
		token:        opts.Token,
		dialer:       opts.Dialer,
		reconnectMin: opts.ReconnectMin,
		reconnectMax: opts.ReconnectMax,
		log:          opts.Logger,
		live:         make(map[string][]*Subscription),
	}
}

// Connect establishes the channel. Idempotent: a second call while open or
// connecting is a no-op. Transient dial failures are retried with capped
// exponential backoff and never surfaced as fatal.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.st != stateDisconnected {
		m.mu.Unlock()
		return
	}
	m.st = stateConnecting
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.run(runCtx, gen)
}

// Connected reports whether the channel is currently open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st == stateConnected
}

// Subscribe attaches immediately when the channel exists, otherwise buffers
// the registration until it does. Multiple handlers per event coexist.
func (m *Manager) Subscribe(event string, fn Handler) *Subscription {
	sub := &Subscription{Event: event, fn: fn}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st == stateConnected {
		m.live[event] = append(m.live[event], sub)
	} else {
		m.pending = append(m.pending, sub)
	}
	return sub
}

// Unsubscribe detaches a live registration or removes a buffered one.
// No-op when the token is unknown on both sides.
func (m *Manager) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.live[sub.Event]; ok {
		for i, s := range subs {
			if s == sub {
				m.live[sub.Event] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
	for i, s := range m.pending {
		if s == sub {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

// Publish transmits only when the channel is open and silently drops
// otherwise. Outbound messages are best-effort presence/telemetry, not
// commands, so there is no outbound queue.
func (m *Manager) Publish(event string, v any) {
	m.mu.Lock()
	w := m.wire
	open := m.st == stateConnected
	m.mu.Unlock()
	if !open || w == nil {
		observability.PublishesDropped.Inc()
		m.log.Debug("publish dropped, channel not open", "event", event)
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		m.log.Error("publish marshal failed", "event", event, "error", err)
		return
	}
	if err := w.WriteJSON(models.Envelope{Event: event, Data: data}); err != nil {
		// Transient; the read loop will observe the drop and redial.
		m.log.Debug("publish write failed", "event", event, "error", err)
	}
}

// Close tears the channel down. Idempotent and safe on a never-connected
// manager.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
	m.st = stateDisconnected
	w := m.wire
	m.wire = nil
	m.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

func (m *Manager) run(ctx context.Context, gen int) {
	backoff := m.reconnectMin
	for {
		header := http.Header{}
		if m.token != "" {
			header.Set("Authorization", "Bearer "+m.token)
		}
		w, err := m.dialer.Dial(ctx, m.url, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Debug("channel dial failed", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > m.reconnectMax {
				backoff = m.reconnectMax
			}
			continue
		}
		backoff = m.reconnectMin

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			_ = w.Close()
			return
		}
		m.st = stateConnected
		m.wire = w
		// Drain the buffer in FIFO order; each entry attaches exactly once.
		for _, sub := range m.pending {
			m.live[sub.Event] = append(m.live[sub.Event], sub)
		}
		m.pending = nil
		if m.everAlive {
			observability.ChannelReconnects.Inc()
		}
		m.everAlive = true
		m.mu.Unlock()
		m.log.Info("live channel established")

		m.readLoop(ctx, gen, w)

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.st = stateConnecting
		m.wire = nil
		m.mu.Unlock()
		_ = w.Close()
		if ctx.Err() != nil {
			return
		}
		m.log.Info("live channel dropped, reconnecting")
	}
}

func (m *Manager) readLoop(ctx context.Context, gen int, w Wire) {
	for {
		raw, err := w.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			m.log.Debug("discarding unparseable frame", "error", err)
			continue
		}
		m.dispatch(env.Event, env.Data)
		if ctx.Err() != nil {
			return
		}
	}
}

func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.mu.Lock()
	subs := make([]*Subscription, len(m.live[event]))
	copy(subs, m.live[event])
	m.mu.Unlock()
	for _, s := range subs {
		s.fn(data)
	}
}
