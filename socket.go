// TFADHLOON event channel
//
// Exactly one live websocket per process. The Socket owns the connect /
// reconnect lifecycle and an event bus:
// - Connect is idempotent; at most one outstanding attempt at a time
// - On/Off register handlers per event name, invoked in registration order
// - Emit is fire-and-forget; failure shows up on the state observable,
//   never as a thrown error
// - Reconnection is capped with a fixed delay between attempts; exhausting
//   the cap lands in a terminal disconnected state until Connect is called
//   again explicitly
//
// The server does not persist room membership across reconnects, so the
// onConnect hook fires on every connected transition and the controller
// re-announces presence there. A silent reconnect without a re-join would
// leave this player's view frozen while the room moves on.

package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the observable channel lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// wireMessage is the JSON envelope on the channel, both directions.
type wireMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw payload of one pushed event.
type Handler func(data json.RawMessage)

type subscription struct {
	id int
	fn Handler
}

type stateSubscription struct {
	id int
	fn func(ConnState)
}

// Socket is the process-wide connection manager.
type Socket struct {
	cfg *Config
	url string

	mu        sync.Mutex
	state     ConnState
	running   bool
	gen       int
	conn      *websocket.Conn
	nextID    int
	handlers  map[string][]subscription
	stateSubs []stateSubscription
	onConnect func()
	cancel    context.CancelFunc

	send chan wireMessage
}

func newSocket(cfg *Config, url string) *Socket {
	return &Socket{
		cfg:      cfg,
		url:      url,
		handlers: make(map[string][]subscription),
		send:     make(chan wireMessage, 16),
	}
}

// OnConnect sets the hook fired after every connected transition. Set it
// before Connect.
func (s *Socket) OnConnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = fn
}

// State returns the current lifecycle state.
func (s *Socket) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// On registers a handler for an event name and returns a token for Off.
// Multiple handlers per name run in registration order.
func (s *Socket) On(event string, fn Handler) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.handlers[event] = append(s.handlers[event], subscription{id: s.nextID, fn: fn})
	return s.nextID
}

// Off deregisters a handler previously registered with On.
func (s *Socket) Off(event string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.handlers[event]
	for i, sub := range subs {
		if sub.id == id {
			s.handlers[event] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// OnStateChange registers an observer for lifecycle transitions.
func (s *Socket) OnStateChange(fn func(ConnState)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.stateSubs = append(s.stateSubs, stateSubscription{id: s.nextID, fn: fn})
	return s.nextID
}

// OffStateChange deregisters a state observer.
func (s *Socket) OffStateChange(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.stateSubs {
		if sub.id == id {
			s.stateSubs = append(s.stateSubs[:i], s.stateSubs[i+1:]...)
			return
		}
	}
}

// Emit sends an event to the server. Fire-and-forget: when the channel is
// down the message is dropped and the state observable tells the story.
func (s *Socket) Emit(event string, payload any) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			logf(s.cfg, "SOCKET: Cannot encode %s payload: %v", event, err)
			return
		}
		data = raw
	}

	s.mu.Lock()
	connected := s.state == StateConnected
	s.mu.Unlock()

	if !connected {
		logf(s.cfg, "SOCKET: Dropping %s emit while %s", event, s.State())
		return
	}

	select {
	case s.send <- wireMessage{Event: event, Data: data}:
	default:
		logf(s.cfg, "SOCKET: Send buffer full, dropping %s", event)
	}
}

// Connect opens the channel. No-op if a connection or attempt is already
// in flight. Each call starts a new lifecycle generation so a loop from a
// prior Connect winding down late cannot touch the new one's bookkeeping.
func (s *Socket) Connect() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.transition(StateConnecting)
	go s.run(ctx, gen)
}

// Disconnect tears down the channel and releases every handler
// registration. The loop is marked dead here, not when the run goroutine
// notices, so a Connect issued right after is always honored.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	s.handlers = make(map[string][]subscription)
	s.running = false
	cancel := s.cancel
	conn := s.conn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// run owns the dial/read/reconnect loop for one Connect call.
func (s *Socket) run(ctx context.Context, gen int) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.timeout}
	attempts := 0

	for {
		if ctx.Err() != nil {
			s.finish(gen)
			return
		}

		conn, _, err := dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				s.finish(gen)
				return
			}
			attempts++
			logf(s.cfg, "SOCKET: Dial failed (attempt %d/%d): %v", attempts, s.cfg.reconnectAttempts, err)
			if attempts >= s.cfg.reconnectAttempts {
				logf(s.cfg, "SOCKET: Reconnect budget exhausted")
				s.finish(gen)
				return
			}
			s.transition(StateReconnecting)
			if !sleepCtx(ctx, s.cfg.reconnectDelay) {
				s.finish(gen)
				return
			}
			continue
		}

		attempts = 0
		s.mu.Lock()
		s.conn = conn
		onConnect := s.onConnect
		s.mu.Unlock()
		s.transition(StateConnected)
		logf(s.cfg, "SOCKET: Connected to %s", s.url)

		// Presence is not remembered server-side; re-announce every time.
		if onConnect != nil {
			onConnect()
		}

		done := make(chan struct{})
		go s.writePump(conn, done)
		s.readPump(ctx, conn)
		close(done)
		_ = conn.Close()

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()

		if ctx.Err() != nil {
			s.finish(gen)
			return
		}

		s.transition(StateReconnecting)
		logf(s.cfg, "SOCKET: Connection lost, reconnecting")
		if !sleepCtx(ctx, s.cfg.reconnectDelay) {
			s.finish(gen)
			return
		}
	}
}

func (s *Socket) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				logf(s.cfg, "SOCKET: Read error: %v", err)
			}
			return
		}

		logf(s.cfg, "SOCKET: Received %s (%s)", msg.Event, humanReadableSize(int64(len(msg.Data))))
		s.dispatch(msg.Event, msg.Data)
	}
}

func (s *Socket) writePump(conn *websocket.Conn, done <-chan struct{}) {
	for {
		select {
		case msg := <-s.send:
			if err := conn.WriteJSON(msg); err != nil {
				logf(s.cfg, "SOCKET: Write error: %v", err)
				_ = conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

// dispatch invokes handlers for one inbound event, in registration order.
// Handlers run on the read goroutine, so deliveries are serialized.
func (s *Socket) dispatch(event string, data json.RawMessage) {
	s.mu.Lock()
	subs := append([]subscription(nil), s.handlers[event]...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(data)
	}
}

// transition updates the state and notifies observers outside the lock.
func (s *Socket) transition(next ConnState) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	observers := append([]stateSubscription(nil), s.stateSubs...)
	s.mu.Unlock()

	for _, sub := range observers {
		sub.fn(next)
	}
}

// finish marks the lifecycle loop as stopped. Terminal until the next
// explicit Connect. A loop from a superseded generation exits silently;
// the current generation owns the state.
func (s *Socket) finish(gen int) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()
	s.transition(StateDisconnected)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
