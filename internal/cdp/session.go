package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCommandTimeout bounds how long a command waits for its result.
const DefaultCommandTimeout = 10 * time.Second

// State is the lifecycle state of a Session.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ResultHandler receives the result payload of one command, or the error
// that ended it (protocol error, timeout, closed session).
type ResultHandler func(result json.RawMessage, err error)

// EventHandler receives the params payload of an event.
type EventHandler func(params json.RawMessage)

// Direction marks a traced frame as sent or received.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Tracer records raw frames crossing the connection.
type Tracer interface {
	TraceFrame(dir Direction, frame []byte)
}

// Observer is notified about session traffic.
type Observer interface {
	CommandSent(method string)
	CommandTimedOut(method string)
	FrameReceived(kind string)
}

// Options configures a Session. All callbacks run on the session's reactor
// goroutine, serialized with every result and event handler.
type Options struct {
	CommandTimeout time.Duration
	Dial           DialFunc

	OnReady      func(s *Session)
	OnError      func(err error)
	OnDisconnect func(err error)

	Tracer   Tracer
	Observer Observer
}

type pendingCommand struct {
	method string
	fn     ResultHandler
	timer  *time.Timer
}

// Session owns one debugger connection and correlates commands with their
// results and events with their subscribers.
type Session struct {
	url  string
	opts Options

	state atomic.Int32

	mu      sync.Mutex
	conn    Conn
	nextID  int64
	pending map[int64]*pendingCommand
	events  map[string]EventHandler

	frames   chan []byte
	timeouts chan int64
	done     chan struct{}
	readErr  error

	closeOnce sync.Once
}

// NewSession prepares a session for the websocket debugger URL.
func NewSession(url string, opts Options) *Session {
	if opts.Dial == nil {
		opts.Dial = DialWebSocket
	}
	if opts.CommandTimeout < 0 {
		opts.CommandTimeout = 0
	}
	s := &Session{
		url:      url,
		opts:     opts,
		pending:  make(map[int64]*pendingCommand),
		events:   make(map[string]EventHandler),
		frames:   make(chan []byte),
		timeouts: make(chan int64, 16),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// URL returns the debugger URL the session connects to.
func (s *Session) URL() string { return s.url }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session has disconnected or failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the connection, if any.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.readErr
	default:
		return nil
	}
}

// Connect dials the debugger endpoint. There is no retry: a failed dial
// moves the session to StateFailed and reports through OnError.
func (s *Session) Connect(ctx context.Context) error {
	if s.State() != StateConnecting {
		return fmt.Errorf("cdp session: connect in state %s", s.State())
	}

	slog.Debug("cdp session connecting", "ws_url", s.url)
	conn, err := s.opts.Dial(ctx, s.url)
	if err != nil {
		s.state.Store(int32(StateFailed))
		err = newError(CodeConnectionFailed, "dial "+s.url, err)
		slog.Error("Could not connect to debugger", "ws_url", s.url, "error", err)
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		close(s.done)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.state.Store(int32(StateConnected))
	slog.Info("Connected to debugger", "ws_url", s.url)

	go s.readLoop(conn)
	go s.run()
	return nil
}

// Send issues a command and returns its id. The id counter advances once per
// call even when transmission fails. fn, if non-nil, is invoked exactly once.
func (s *Session) Send(method string, params any, fn ResultHandler) (int64, error) {
	if params == nil {
		params = struct{}{}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	conn := s.conn
	if conn == nil || s.State() != StateConnected {
		s.mu.Unlock()
		return id, newError(CodeNotConnected, fmt.Sprintf("send %s: session is %s", method, s.State()), nil)
	}
	if fn != nil {
		p := &pendingCommand{method: method, fn: fn}
		if s.opts.CommandTimeout > 0 {
			p.timer = time.AfterFunc(s.opts.CommandTimeout, func() { s.expire(id) })
		}
		s.pending[id] = p
	}
	s.mu.Unlock()

	data, err := json.Marshal(Command{ID: id, Method: method, Params: params})
	if err != nil {
		s.dropPending(id)
		return id, fmt.Errorf("cdp session: marshal %s: %w", method, err)
	}
	if s.opts.Tracer != nil {
		s.opts.Tracer.TraceFrame(DirectionSent, data)
	}
	if err := conn.WriteText(data); err != nil {
		s.dropPending(id)
		return id, fmt.Errorf("cdp session: send %s: %w", method, err)
	}

	slog.Debug("cdp command sent", "id", id, "method", method)
	if s.opts.Observer != nil {
		s.opts.Observer.CommandSent(method)
	}
	return id, nil
}

// On subscribes fn to an event method, replacing any earlier subscriber.
// Subscriptions persist for the life of the session.
func (s *Session) On(method string, fn EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.events, method)
		return
	}
	s.events[method] = fn
}

// Close tears down the connection. It is safe to call from handlers.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		slog.Debug("cdp session closing", "ws_url", s.url)
		err = conn.Close()
	})
	return err
}

// HandleEvent adapts a typed handler. Params that do not decode into T are
// logged and dropped.
func HandleEvent[T any](fn func(T)) EventHandler {
	return func(params json.RawMessage) {
		var v T
		if len(params) > 0 {
			if err := json.Unmarshal(params, &v); err != nil {
				slog.Warn("Dropping event with undecodable params", "error", err)
				return
			}
		}
		fn(v)
	}
}

func (s *Session) readLoop(conn Conn) {
	defer close(s.frames)
	for {
		data, err := conn.ReadText()
		if err != nil {
			s.readErr = err
			slog.Debug("cdp session read loop exit", "error", err)
			return
		}
		s.frames <- data
	}
}

// run is the reactor: every handler invocation happens here, one at a time,
// in frame arrival order. OnReady runs before the first frame is dispatched.
func (s *Session) run() {
	if s.opts.OnReady != nil {
		s.opts.OnReady(s)
	}
	for {
		select {
		case id := <-s.timeouts:
			s.timeout(id)
		case data, ok := <-s.frames:
			if !ok {
				s.finish()
				return
			}
			s.dispatch(data)
		}
	}
}

func (s *Session) dispatch(data []byte) {
	if s.opts.Tracer != nil {
		s.opts.Tracer.TraceFrame(DirectionReceived, data)
	}

	msg, err := DecodeInbound(data)
	if err != nil {
		slog.Warn("Dropping malformed frame", "error", err, "bytes", len(data))
		s.observeFrame("malformed")
		return
	}
	s.observeFrame(msg.Kind.String())

	switch msg.Kind {
	case KindResult:
		if p := s.takePending(msg.ID); p != nil {
			p.fn(msg.Result, nil)
		}
	case KindEvent:
		s.mu.Lock()
		fn := s.events[msg.Method]
		s.mu.Unlock()
		if fn != nil {
			fn(msg.Params)
		}
	case KindError:
		slog.Warn("Error returned", "id", msg.ID, "has_id", msg.HasID, "error", msg.Error)
		if msg.HasID {
			if p := s.takePending(msg.ID); p != nil {
				p.fn(nil, msg.Error)
			}
		}
	}
}

func (s *Session) observeFrame(kind string) {
	if s.opts.Observer != nil {
		s.opts.Observer.FrameReceived(kind)
	}
}

// expire runs on the timer goroutine and hands the id to the reactor.
func (s *Session) expire(id int64) {
	select {
	case s.timeouts <- id:
	case <-s.done:
	}
}

func (s *Session) timeout(id int64) {
	p := s.takePending(id)
	if p == nil {
		return
	}
	slog.Warn("Command timed out", "id", id, "method", p.method, "timeout", s.opts.CommandTimeout)
	if s.opts.Observer != nil {
		s.opts.Observer.CommandTimedOut(p.method)
	}
	p.fn(nil, newError(CodeCommandTimedOut,
		fmt.Sprintf("%s (id %d) got no result within %s", p.method, id, s.opts.CommandTimeout), nil))
}

func (s *Session) finish() {
	s.state.Store(int32(StateDisconnected))

	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[int64]*pendingCommand)
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		s.closeOnce.Do(func() { _ = conn.Close() })
	}

	closedErr := newError(CodeSessionClosed, "connection closed before result", s.readErr)
	for id, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		slog.Debug("cdp pending command abandoned", "id", id, "method", p.method)
		p.fn(nil, closedErr)
	}

	slog.Info("Browser disconnected the WebSocket", "ws_url", s.url)
	if s.opts.OnDisconnect != nil {
		s.opts.OnDisconnect(s.readErr)
	}
	close(s.done)
}

func (s *Session) takePending(id int64) *pendingCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

func (s *Session) dropPending(id int64) {
	_ = s.takePending(id)
}

// IsClosed reports whether err means the session ended underneath a command.
func IsClosed(err error) bool {
	return errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrNotConnected)
}
