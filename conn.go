package coachsync

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Connection State
// ============================================================================

// ConnState is the push-channel connection state. Exactly one ConnManager, and
// therefore one physical connection, exists per active session.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateClosed       ConnState = "closed"
)

// ============================================================================
// Transport
// ============================================================================

// Conn is one physical push-channel connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a push-channel connection. Injected so the reconnect machine
// is testable without sockets.
type Dialer func(ctx context.Context, url string) (Conn, error)

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// WebSocketDialer returns the production Dialer.
func WebSocketDialer() Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("websocket dial: %w", err)
		}
		return &wsConn{conn: conn}, nil
	}
}

// ============================================================================
// Configuration
// ============================================================================

// ConnConfig configures the ConnManager.
type ConnConfig struct {
	PushURL              string // base push-channel URL, e.g. wss://host
	Token                string // session token, appended as a query parameter
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // 0 means unlimited
	Dialer               Dialer
	Clock                Clock
	Logger               *zap.Logger
}

func (c *ConnConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 3 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = WebSocketDialer()
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) nextDelay() time.Duration {
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// ConnManager
// ============================================================================

// FrameHandler receives one raw inbound frame.
type FrameHandler func(raw []byte)

// StateHandler receives connection state transitions.
type StateHandler func(state ConnState)

// ConnManager owns the single push-channel connection and drives the
// reconnect state machine:
//
//	Disconnected → Connecting → Connected → Reconnecting → Connecting → ...
//	any state → Closed on Disconnect (terminal)
//
// Connect is idempotent while Connecting, Connected, or Reconnecting, so a
// second physical connection can never be opened.
type ConnManager struct {
	cfg   ConnConfig
	log   *zap.Logger
	clock Clock

	mu       sync.Mutex
	state    ConnState
	conn     Conn
	cancelFn context.CancelFunc
	timer    Timer
	recon    reconnector

	handlerMu sync.RWMutex
	onFrame   []FrameHandler
	onState   []StateHandler
}

// NewConnManager creates a connection manager in the Disconnected state.
func NewConnManager(cfg ConnConfig) *ConnManager {
	cfg.defaults()
	return &ConnManager{
		cfg:   cfg,
		log:   cfg.Logger,
		clock: cfg.Clock,
		state: StateDisconnected,
		recon: reconnector{
			baseDelay:   cfg.ReconnectBaseDelay,
			maxDelay:    cfg.ReconnectMaxDelay,
			maxAttempts: cfg.MaxReconnectAttempts,
		},
	}
}

// OnFrame registers a handler for inbound frames. Handlers run sequentially
// on the read loop goroutine so per-connection frame order is preserved.
func (m *ConnManager) OnFrame(h FrameHandler) {
	m.handlerMu.Lock()
	m.onFrame = append(m.onFrame, h)
	m.handlerMu.Unlock()
}

// OnStateChange registers a handler for state transitions.
func (m *ConnManager) OnStateChange(h StateHandler) {
	m.handlerMu.Lock()
	m.onState = append(m.onState, h)
	m.handlerMu.Unlock()
}

// State returns the current connection state.
func (m *ConnManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnManager) setState(s ConnState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.handlerMu.RLock()
	handlers := append([]StateHandler{}, m.onState...)
	m.handlerMu.RUnlock()
	for _, h := range handlers {
		h(s)
	}
}

// Connect establishes the push-channel connection. Calling it while
// Connecting, Connected, or Reconnecting is a no-op (for the last, the armed
// backoff timer already owns the retry; dialing here too would race it into a
// second physical connection); calling it after Disconnect returns
// ErrConnClosed.
func (m *ConnManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrConnClosed
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.setState(StateConnecting)
	if err := m.dialAndRun(ctx); err != nil {
		m.setState(StateDisconnected)
		return err
	}
	return nil
}

// Disconnect closes the connection. Terminal: no auto-reconnect follows.
func (m *ConnManager) Disconnect() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.setState(StateClosed)

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Send writes an event to the push channel. When not Connected the event is
// dropped silently (logged only): confirmed sends are already persisted over
// HTTP, so the mirror broadcast is best-effort.
func (m *ConnManager) Send(ctx context.Context, event interface{}) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if state != StateConnected || conn == nil {
		m.log.Debug("push send dropped, not connected", zap.String("state", string(state)))
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return conn.Write(ctx, data)
}

func (m *ConnManager) dialAndRun(ctx context.Context) error {
	url := m.cfg.PushURL
	if m.cfg.Token != "" {
		url += "?token=" + m.cfg.Token
	}

	conn, err := m.cfg.Dialer(ctx, url)
	if err != nil {
		return err
	}

	connCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		cancel()
		conn.Close()
		return ErrConnClosed
	}
	m.conn = conn
	m.cancelFn = cancel
	m.recon.reset()
	m.mu.Unlock()

	m.setState(StateConnected)
	go m.readLoop(connCtx, conn)
	return nil
}

func (m *ConnManager) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.mu.Lock()
			closed := m.state == StateClosed
			if m.conn == conn {
				m.conn = nil
			}
			m.mu.Unlock()
			if closed || ctx.Err() != nil {
				return
			}

			m.log.Warn("push channel lost", zap.Error(err))
			m.scheduleReconnect()
			return
		}

		m.handlerMu.RLock()
		handlers := append([]FrameHandler{}, m.onFrame...)
		m.handlerMu.RUnlock()
		for _, h := range handlers {
			h(data)
		}
	}
}

func (m *ConnManager) scheduleReconnect() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	if !m.recon.shouldReconnect() {
		m.mu.Unlock()
		m.setState(StateDisconnected)
		return
	}
	delay := m.recon.nextDelay()
	attempt := m.recon.attempt
	m.mu.Unlock()

	m.setState(StateReconnecting)
	m.log.Info("push reconnect scheduled",
		zap.Int("attempt", attempt), zap.Duration("delay", delay))

	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = m.clock.AfterFunc(delay, m.attemptReconnect)
	m.mu.Unlock()
}

func (m *ConnManager) attemptReconnect() {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	m.setState(StateConnecting)
	if err := m.dialAndRun(context.Background()); err != nil {
		m.log.Warn("push reconnect failed", zap.Error(err))
		m.scheduleReconnect()
	}
}
