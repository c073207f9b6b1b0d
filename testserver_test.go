package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const testWait = 2 * time.Second

// gameServer is a fake backend: enough of the HTTP surface and the event
// channel to exercise the client end to end.
type gameServer struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	requests map[string]int
	snapshot GameSnapshot

	upgrader websocket.Upgrader
	connMu   sync.Mutex
	conns    []*websocket.Conn
	inbound  chan wireMessage
}

func newGameServer(t *testing.T) *gameServer {
	t.Helper()

	gs := &gameServer{
		t:        t,
		requests: make(map[string]int),
		inbound:  make(chan wireMessage, 32),
	}

	mux := httprouter.New()
	mux.GET("/ws", gs.serveWS)
	mux.GET("/api/games/:code", gs.serveGet)
	mux.GET("/api/games/:code/:action", gs.serveGetAction)
	mux.POST("/api/games/:code", gs.servePost)
	mux.POST("/api/games/:code/:action", gs.servePostAction)

	gs.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		gs.closeConns()
		gs.srv.Close()
	})
	return gs
}

func (gs *gameServer) count(key string) {
	gs.mu.Lock()
	gs.requests[key]++
	gs.mu.Unlock()
}

func (gs *gameServer) hits(key string) int {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.requests[key]
}

func (gs *gameServer) setSnapshot(snap GameSnapshot) {
	gs.mu.Lock()
	gs.snapshot = snap
	gs.mu.Unlock()
}

func writeEnvelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	raw, _ := json.Marshal(data)
	_ = json.NewEncoder(w).Encode(apiEnvelope{Status: "success", Data: raw})
}

func (gs *gameServer) serveGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	gs.count("GET /" + code)

	if code == "test" {
		writeEnvelope(w, map[string]string{"message": "pong"})
		return
	}

	gs.mu.Lock()
	snap := gs.snapshot
	gs.mu.Unlock()
	writeEnvelope(w, snap)
}

func (gs *gameServer) serveGetAction(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code, action := ps.ByName("code"), ps.ByName("action")
	gs.count("GET /" + code + "/" + action)

	// The validate route shares its shape with /:code/:action.
	if code == "validate" {
		writeEnvelope(w, ValidateResult{IsValid: true, CanJoin: true})
		return
	}

	switch action {
	case "leaderboard":
		writeEnvelope(w, map[string]any{"leaderboard": []ScoreEntry{{PlayerID: "p1", Score: 30}}})
	case "question":
		writeEnvelope(w, map[string]any{"question": &Question{ID: "q1", Text: "Tea or coffee?"}})
	default:
		http.NotFound(w, r)
	}
}

func (gs *gameServer) servePost(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	gs.count("POST /" + code)

	switch code {
	case "create":
		writeEnvelope(w, CreateResult{
			GameCode: "AB12",
			PlayerID: "p1",
			Players:  []PlayerState{{ID: "p1", Name: "Ahmed", IsHost: true}},
		})
	case "join":
		writeEnvelope(w, JoinResult{
			PlayerID: "p2",
			Players: []PlayerState{
				{ID: "p1", Name: "Ahmed", IsHost: true},
				{ID: "p2", Name: "Sara"},
			},
		})
	default:
		http.NotFound(w, r)
	}
}

func (gs *gameServer) servePostAction(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gs.count("POST /" + ps.ByName("code") + "/" + ps.ByName("action"))
	writeEnvelope(w, map[string]string{"message": "ok"})
}

func (gs *gameServer) serveWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := gs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	gs.connMu.Lock()
	gs.conns = append(gs.conns, conn)
	gs.connMu.Unlock()

	go func() {
		for {
			var msg wireMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			gs.inbound <- msg
		}
	}()
}

// push broadcasts one event to every connected client.
func (gs *gameServer) push(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		gs.t.Fatalf("encoding push payload: %v", err)
	}

	gs.connMu.Lock()
	defer gs.connMu.Unlock()
	for _, conn := range gs.conns {
		_ = conn.WriteJSON(wireMessage{Event: event, Data: raw})
	}
}

// closeConns drops every live channel, forcing clients to reconnect.
func (gs *gameServer) closeConns() {
	gs.connMu.Lock()
	defer gs.connMu.Unlock()
	for _, conn := range gs.conns {
		_ = conn.Close()
	}
	gs.conns = nil
}

// nextMessage waits for one inbound client message.
func (gs *gameServer) nextMessage(t *testing.T) wireMessage {
	t.Helper()
	select {
	case msg := <-gs.inbound:
		return msg
	case <-time.After(testWait):
		t.Fatal("timed out waiting for a client message")
		return wireMessage{}
	}
}

func testConfig(t *testing.T, serverURL string) *Config {
	t.Helper()
	return &Config{
		server:            serverURL,
		name:              "Ahmed",
		maxPlayers:        4,
		reconnectAttempts: 5,
		reconnectDelay:    25 * time.Millisecond,
		timeout:           time.Second,
		countdown:         60 * time.Millisecond,
		answerDeadline:    time.Second,
		identityFile:      filepath.Join(t.TempDir(), "identity.json"),
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
