// Package realtime maintains the client's single live WebSocket connection
// to the backend.
//
// The connection's existence and identity are derived from the session: the
// Manager observes session changes and tears down / rebuilds the connection
// whenever the effective token changes. Transport failures are resolved
// locally into connection-state transitions and a fixed-delay reconnect;
// consumers only ever observe states and messages, never raw errors.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"pulse/cmd/internal/dispatch"
	"pulse/cmd/internal/session"
	v1 "pulse/shared/contracts/realtime/v1"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultWriteTimeout   = 5 * time.Second

	// Max bytes per inbound frame (hard limit).
	maxFrameBytes = 1 << 20 // 1 MiB
)

// ConnectionState is the channel lifecycle state. Owned exclusively by the
// Manager and never persisted.
type ConnectionState uint8

const (
	Closed ConnectionState = iota
	Connecting
	Open
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// SessionSource is the slice of the session controller the Manager needs:
// the current credential and change notifications. The Manager never
// mutates the credential.
type SessionSource interface {
	Credential() (session.Credential, bool)
	OnChange(func(session.Change))
}

// Config tunes the channel. Zero values fall back to defaults. The
// reconnect policy is a fixed 3s delay with no backoff and no attempt cap:
// the client is reconnecting to its own backend, so availability wins over
// resource conservation.
type Config struct {
	// Path is appended to the REST base when deriving the ws endpoint.
	Path string
	// ReconnectDelay is the fixed wait before the single reconnect attempt
	// scheduled after an unplanned close.
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// Manager owns at most one live connection at any instant. Starting a new
// one always closes the previous one first; stale read loops and stale
// reconnect timers are fenced off by a monotonically increasing attempt id.
type Manager struct {
	log     *slog.Logger
	sess    SessionSource
	cfg     Config
	metrics *Metrics
	msgs    *dispatch.Hub[v1.Message]

	mu       sync.Mutex
	managing bool
	base     string
	token    string
	state    ConnectionState
	// attempt fences connection epochs: every teardown/re-dial bumps it,
	// and goroutines belonging to an older epoch become no-ops.
	attempt   uint64
	conn      *websocket.Conn
	stopRead  context.CancelFunc
	reconnect *time.Timer

	writeMu sync.Mutex
}

// NewManager constructs a Manager bound to a session source. Metrics may be
// nil. The Manager immediately subscribes to session changes but stays
// inert until Connect.
func NewManager(log *slog.Logger, sess SessionSource, cfg Config, metrics *Metrics) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		log:     log,
		sess:    sess,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		msgs:    dispatch.NewHub[v1.Message](log),
		state:   Closed,
	}
	m.metrics.observeState(Closed)
	sess.OnChange(m.onSessionChange)
	return m
}

// OnMessage registers a handler for every application-level inbound
// message, invoked in arrival order. Keep-alive frames never reach it.
func (m *Manager) OnMessage(fn func(v1.Message)) {
	m.msgs.Subscribe(fn)
}

// ConnectionState returns the current channel state.
func (m *Manager) ConnectionState() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect begins managing a connection derived from base (the REST base
// URL) and the session's current token. It is idempotent while already
// managing the same base with the same token. With no token present the
// Manager waits: the session-change subscription will open the channel once
// a credential appears.
func (m *Manager) Connect(base string) error {
	if _, err := DeriveURL(base, m.cfg.Path, ""); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	cred, ok := m.sess.Credential()
	token := ""
	if ok {
		token = cred.Token
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.managing && m.base == base && m.token == token && m.state != Closed {
		return nil
	}

	m.managing = true
	m.base = base
	m.token = token

	if token == "" {
		m.teardownLocked()
		m.setStateLocked(Closed)
		return nil
	}

	m.startLocked()
	return nil
}

// Disconnect tears down the active connection and cancels any pending
// reconnect timer. The channel stays Closed until Connect is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.managing = false
	m.teardownLocked()
	m.setStateLocked(Closed)
}

// Send writes a client-originated frame on the live connection, stamping an
// envelope id and timestamp when absent.
func (m *Manager) Send(ctx context.Context, out v1.Outbound) error {
	if err := out.Validate(); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if conn == nil || state != Open {
		return fmt.Errorf("send: channel not open (state=%s)", state)
	}

	now := time.Now().UTC()
	if out.ID == "" {
		id, err := NewEnvelopeID(now)
		if err != nil {
			return fmt.Errorf("send: envelope id: %w", err)
		}
		out.ID = id
	}
	if out.TS.IsZero() {
		out.TS = now
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("send: encode: %w", err)
	}
	return m.write(ctx, conn, data)
}

// ---- session coupling ----

// onSessionChange rebinds the channel to the session's effective token.
// Absent->present opens, present->absent closes, and a replaced token
// closes the old connection before opening the new one.
func (m *Manager) onSessionChange(ch session.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.managing {
		return
	}

	token := ""
	if ch.Present {
		token = ch.Credential.Token
	}
	if token == m.token {
		return
	}

	m.log.Debug("realtime.session.rebind", "had_token", m.token != "", "has_token", token != "")
	m.token = token

	if token == "" {
		m.teardownLocked()
		m.setStateLocked(Closed)
		return
	}
	m.startLocked()
}

// ---- connection lifecycle (all *Locked helpers require m.mu) ----

// startLocked opens a new connection epoch: the previous connection and any
// pending timer are dead before the dial goroutine is spawned, so two live
// connections can never overlap.
func (m *Manager) startLocked() {
	m.teardownLocked()

	m.attempt++
	attempt := m.attempt
	m.setStateLocked(Connecting)

	target, err := DeriveURL(m.base, m.cfg.Path, m.token)
	if err != nil {
		// Base was validated in Connect; a failure here means the config
		// changed underneath us. Park the channel instead of crashing.
		m.log.Error("realtime.url.fail", "err", err)
		m.setStateLocked(Closed)
		return
	}

	m.log.Debug("realtime.dial", "url", RedactURL(target))
	go m.dial(attempt, target)
}

func (m *Manager) teardownLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.stopRead != nil {
		m.stopRead()
		m.stopRead = nil
	}
	if m.conn != nil {
		_ = m.conn.CloseNow()
		m.conn = nil
	}
	// Orphan any in-flight dial or read loop.
	m.attempt++
}

func (m *Manager) setStateLocked(s ConnectionState) {
	if m.state == s {
		return
	}
	m.state = s
	m.metrics.observeState(s)
	m.log.Debug("realtime.state", "state", s.String())
}

func (m *Manager) dial(attempt uint64, target string) {
	dialCtx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	conn, resp, err := websocket.Dial(dialCtx, target, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	m.mu.Lock()
	if attempt != m.attempt || !m.managing {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.CloseNow()
		}
		return
	}

	if err != nil {
		m.log.Info("realtime.dial.fail", "err", err)
		m.scheduleReconnectLocked(attempt)
		m.mu.Unlock()
		return
	}

	conn.SetReadLimit(maxFrameBytes)
	readCtx, stopRead := context.WithCancel(context.Background())
	m.conn = conn
	m.stopRead = stopRead
	m.setStateLocked(Open)
	m.mu.Unlock()

	m.log.Info("realtime.connected")
	go m.readLoop(readCtx, attempt, conn)
}

func (m *Manager) readLoop(ctx context.Context, attempt uint64, conn *websocket.Conn) {
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			m.onConnClosed(attempt, err)
			return
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}

		env, err := v1.ParseEnvelope(data)
		if err != nil {
			m.log.Warn("realtime.frame.drop", "err", err)
			m.metrics.incDropped()
			continue
		}

		// Keep-alive is answered in-band and filtered before subscribers.
		if env.Type == v1.TypePing {
			m.metrics.incPings()
			if werr := m.write(ctx, conn, v1.Pong()); werr != nil {
				m.log.Debug("realtime.pong.fail", "err", werr)
			}
			continue
		}

		msg, err := v1.DecodeMessage(env)
		if err != nil {
			m.log.Warn("realtime.frame.drop", "type", env.Type, "err", err)
			m.metrics.incDropped()
			continue
		}

		m.metrics.incMessages()
		m.msgs.Publish(msg)
	}
}

// onConnClosed handles any close, regardless of cause. If this epoch is
// still current and a token remains, exactly one reconnect attempt is
// scheduled after the fixed delay.
func (m *Manager) onConnClosed(attempt uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if attempt != m.attempt || !m.managing {
		return
	}

	if status := websocket.CloseStatus(err); status != -1 {
		m.log.Info("realtime.closed", "close_status", status)
	} else if !errors.Is(err, context.Canceled) {
		m.log.Info("realtime.closed", "err", err)
	}

	if m.stopRead != nil {
		m.stopRead()
		m.stopRead = nil
	}
	if m.conn != nil {
		_ = m.conn.CloseNow()
		m.conn = nil
	}

	m.scheduleReconnectLocked(attempt)
}

func (m *Manager) scheduleReconnectLocked(attempt uint64) {
	if m.token == "" {
		m.setStateLocked(Closed)
		return
	}

	m.setStateLocked(Reconnecting)
	m.metrics.incReconnects()
	m.log.Info("realtime.reconnect.scheduled", "delay", m.cfg.ReconnectDelay)

	m.reconnect = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// A timer that outlived its epoch must not resurrect a connection
		// for a session that no longer exists.
		if !m.managing || attempt != m.attempt || m.token == "" {
			return
		}
		m.startLocked()
	})
}

func (m *Manager) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
