// Package subscriber implements the Endpoint Subscriber: one long-lived
// task per configured endpoint that maintains a durable WebSocket
// subscription across transient network failures and hands each
// received payload to the pipeline.
package subscriber

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

const (
	heartbeatInterval = 20 * time.Second
	heartbeatTimeout  = 10 * time.Second
	closeTimeout      = 10 * time.Second
	maxInboundFrame   = 10 * 1024 * 1024
	handlerDeadline   = 5 * time.Second
)

// State is a coarse description of where a Connection sits in its
// lifecycle. It is exposed for observability only; the state machine
// itself is driven by control flow in run(), not by explicit transitions
// through this type.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateSubscribed
	StateReceiving
	StateReconnecting
	StateClosed
)

// Endpoint describes one subscribed WebSocket source.
type Endpoint struct {
	URL          string
	InitPayload  string // decoded subscription text sent after connect, "" if none
	InitRequired bool   // member of the family-specific init subset (e.g. Blitzortung)
}

// Handler is invoked for every received, non-empty frame. It is bounded
// by a 5-second processing deadline by the subscriber; implementations
// should not attempt their own separate timeout.
type Handler func(ctx context.Context, endpointURL string, payload []byte)

// Config configures one Subscriber.
type Config struct {
	Endpoint            Endpoint
	QueueSize           int // MESSAGE_QUEUE_MAX_SIZE
	ReconnectDelay      time.Duration
	MaxReconnectAttempts int // 0 means unbounded
	Handler             Handler
	Logger              *zerolog.Logger
}

// Subscriber owns one endpoint's Connection: its socket, its reconnect
// loop, and its bounded receive queue.
type Subscriber struct {
	cfg    Config
	logger zerolog.Logger

	queue chan queuedMessage

	state   atomic.Int32
	attempt atomic.Int32

	mu   sync.Mutex
	conn net.Conn

	dropped   atomic.Int64
	truncated atomic.Int64
}

type queuedMessage struct {
	payload []byte
}

// New creates a Subscriber for one endpoint. It does not connect until
// Run is called.
func New(cfg Config) *Subscriber {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	s := &Subscriber{
		cfg:   cfg,
		queue: make(chan queuedMessage, cfg.QueueSize),
	}
	if cfg.Logger != nil {
		s.logger = cfg.Logger.With().Str("component", "endpoint_subscriber").Str("endpoint", cfg.Endpoint.URL).Logger()
	} else {
		s.logger = zerolog.Nop()
	}
	s.state.Store(int32(StateIdle))
	return s
}

// Run drives the reconnect loop until ctx is cancelled or the maximum
// reconnect attempt count is reached. It starts a dispatcher goroutine
// that drains the queue into cfg.Handler and blocks until both the
// socket loop and the dispatcher have exited.
func (s *Subscriber) Run(ctx context.Context) {
	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatch(dispatchCtx)
	}()

	s.connectLoop(ctx)
	cancelDispatch()
	wg.Wait()
	s.state.Store(int32(StateClosed))
}

// connectLoop implements Idle -> Connecting -> Subscribed -> Receiving
// -> Reconnecting -> ... until ctx is done or the attempt ceiling is hit.
func (s *Subscriber) connectLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		s.state.Store(int32(StateConnecting))
		conn, err := s.dial(ctx)
		if err != nil {
			s.logger.Error().Err(err).Int32("attempt", s.attempt.Load()).Msg("connect failed")
			if !s.waitBeforeReconnect(ctx) {
				return
			}
			continue
		}

		s.setConn(conn)
		s.attempt.Store(0)
		s.state.Store(int32(StateSubscribed))

		if err := s.sendInitMessages(conn); err != nil {
			s.logger.Warn().Err(err).Msg("failed to send init message")
		}

		s.state.Store(int32(StateReceiving))
		s.logger.Info().Msg("connected")

		readErr := s.readLoop(ctx, conn)
		s.closeConn()

		if ctx.Err() != nil {
			return
		}
		if readErr != nil {
			s.logger.Error().Err(readErr).Msg("connection lost")
		}

		s.state.Store(int32(StateReconnecting))
		if !s.waitBeforeReconnect(ctx) {
			return
		}
	}
}

func (s *Subscriber) dial(ctx context.Context) (net.Conn, error) {
	dialer := ws.Dialer{}
	conn, _, _, err := dialer.Dial(ctx, s.cfg.Endpoint.URL)
	return conn, err
}

func (s *Subscriber) sendInitMessages(conn net.Conn) error {
	if s.cfg.Endpoint.InitRequired {
		if err := wsutil.WriteClientMessage(conn, ws.OpText, blitzortungInitMessage); err != nil {
			return fmt.Errorf("init-required message: %w", err)
		}
	}
	if s.cfg.Endpoint.InitPayload != "" {
		if err := wsutil.WriteClientMessage(conn, ws.OpText, []byte(s.cfg.Endpoint.InitPayload)); err != nil {
			return fmt.Errorf("init payload: %w", err)
		}
	}
	return nil
}

// blitzortungInitMessage is the small JSON subscription request sent to
// the init-required endpoint family immediately after connect.
var blitzortungInitMessage = []byte(`{"a":111}`)

// readLoop reads frames until the connection closes, ctx is cancelled,
// or a read error occurs. Each frame is offered to the bounded queue
// with drop-oldest backpressure; a heartbeat goroutine runs alongside it
// for the duration of the connection.
func (s *Subscriber) readLoop(ctx context.Context, conn net.Conn) error {
	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()

	lastPong := make(chan struct{}, 1)
	go s.heartbeat(hbCtx, conn, lastPong)

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn.SetReadDeadline(time.Now().Add(heartbeatInterval + heartbeatTimeout))
		data, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			return err
		}

		switch op {
		case ws.OpPong:
			select {
			case lastPong <- struct{}{}:
			default:
			}
			continue
		case ws.OpPing:
			_ = wsutil.WriteClientMessage(conn, ws.OpPong, nil)
			continue
		case ws.OpClose:
			return fmt.Errorf("server closed connection")
		case ws.OpText, ws.OpBinary:
			// fall through to offer
		default:
			continue
		}

		if len(data) == 0 {
			continue
		}
		if len(data) > maxInboundFrame {
			data = data[:maxInboundFrame]
			s.truncated.Add(1)
		}

		s.offer(data)
	}
}

// heartbeat sends a Ping every heartbeatInterval and closes the
// connection if no Pong arrives within heartbeatTimeout of it.
func (s *Subscriber) heartbeat(ctx context.Context, conn net.Conn, pong <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wsutil.WriteClientMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
			select {
			case <-pong:
			case <-time.After(heartbeatTimeout):
				s.logger.Warn().Msg("heartbeat timeout, closing connection")
				conn.SetDeadline(time.Now())
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// offer applies drop-oldest backpressure: if the queue is full, the
// oldest queued item is discarded to admit the newest.
func (s *Subscriber) offer(payload []byte) {
	msg := queuedMessage{payload: payload}
	select {
	case s.queue <- msg:
		return
	default:
	}

	select {
	case <-s.queue:
		s.dropped.Add(1)
		s.logger.Warn().Msg("queue full, dropped oldest message")
	default:
	}

	select {
	case s.queue <- msg:
	default:
		// Lost a race with another producer; drop the new message too
		// rather than block the read loop.
		s.dropped.Add(1)
	}
}

// dispatch drains the queue and invokes cfg.Handler under a 5-second
// processing deadline per message.
func (s *Subscriber) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			s.invokeHandler(ctx, msg.payload)
		}
	}
}

func (s *Subscriber) invokeHandler(ctx context.Context, payload []byte) {
	deadlineCtx, cancel := context.WithTimeout(ctx, handlerDeadline)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.cfg.Handler(deadlineCtx, s.cfg.Endpoint.URL, payload)
	}()

	select {
	case <-done:
	case <-deadlineCtx.Done():
		s.logger.Error().Msg("handler deadline exceeded, dropping payload")
	}
}

// waitBeforeReconnect sleeps the reconnect delay, honoring ctx
// cancellation, and enforces MaxReconnectAttempts. It returns false if
// the loop should stop.
func (s *Subscriber) waitBeforeReconnect(ctx context.Context) bool {
	attempt := s.attempt.Add(1)
	if s.cfg.MaxReconnectAttempts > 0 && int(attempt) >= s.cfg.MaxReconnectAttempts {
		s.logger.Error().Int32("attempt", attempt).Msg("max reconnect attempts reached")
		return false
	}

	delay := s.cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Subscriber) setConn(c net.Conn) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

func (s *Subscriber) closeConn() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	if c != nil {
		c.SetWriteDeadline(time.Now().Add(closeTimeout))
		_ = wsutil.WriteClientMessage(c, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		_ = c.Close()
	}
}

// Connected reports whether the subscriber currently holds an open
// socket.
func (s *Subscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// QueueDepth returns the current number of frames waiting in the
// per-endpoint receive queue.
func (s *Subscriber) QueueDepth() int { return len(s.queue) }

// QueueCapacity returns the configured bound on the receive queue.
func (s *Subscriber) QueueCapacity() int { return cap(s.queue) }

// Dropped returns the cumulative count of frames discarded by
// drop-oldest backpressure.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Truncated returns the cumulative count of oversized frames truncated
// to maxInboundFrame before being queued.
func (s *Subscriber) Truncated() int64 { return s.truncated.Load() }

// Attempt returns the current reconnect attempt counter.
func (s *Subscriber) Attempt() int32 { return s.attempt.Load() }

// State returns the subscriber's current lifecycle state.
func (s *Subscriber) State() State { return State(s.state.Load()) }

// Endpoint returns the endpoint this subscriber was configured for.
func (s *Subscriber) Endpoint() Endpoint { return s.cfg.Endpoint }

// DecodeInitPayload base64-decodes an endpoint's init payload segment.
// A decode failure is reported to the caller so it can be logged; per
// spec.md §6 the endpoint is still subscribed, just without the
// payload.
func DecodeInitPayload(b64 string) (string, error) {
	if b64 == "" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
