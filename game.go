// TFADHLOON game controller
//
// Ties the pieces together: identity is hydrated first, then a snapshot
// seeds the session store, then the event channel opens and joins the room.
// Pushed events mutate the store; every reconnect re-joins the room and
// re-fetches a snapshot, which supersedes anything accumulated while the
// channel was down. Only this controller writes to the store; screens are
// read-only observers.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

type eventBinding struct {
	event string
	id    int
}

// Controller owns one player's participation in one game.
type Controller struct {
	cfg      *Config
	api      *APIClient
	store    *Store
	socket   *Socket
	identity *IdentityStore

	playerID   string
	playerName string
	gameCode   string

	bindings []eventBinding
	notices  chan string

	countdownMu sync.Mutex
	countdown   *time.Timer

	questionMu    sync.Mutex
	questionFetch bool
}

func newController(cfg *Config) *Controller {
	return &Controller{
		cfg:      cfg,
		api:      newAPIClient(cfg),
		store:    newStore(cfg),
		socket:   newSocket(cfg, wsURL(cfg.server)),
		identity: newIdentityStore(cfg.identityFile),
		notices:  make(chan string, 8),
	}
}

// wsURL derives the event channel endpoint from the server base URL.
func wsURL(server string) string {
	trimmed := strings.TrimSuffix(server, "/")
	switch {
	case strings.HasPrefix(trimmed, "https://"):
		return "wss://" + strings.TrimPrefix(trimmed, "https://") + "/ws"
	case strings.HasPrefix(trimmed, "http://"):
		return "ws://" + strings.TrimPrefix(trimmed, "http://") + "/ws"
	default:
		return "ws://" + trimmed + "/ws"
	}
}

// Create creates a new room with this player as host and enters it.
func (c *Controller) Create(ctx context.Context, name string, maxPlayers int) error {
	if err := c.identity.Hydrate(); err != nil {
		return err
	}

	result, err := c.api.CreateGame(ctx, name, maxPlayers)
	if err != nil {
		return err
	}

	id := Identity{PlayerID: result.PlayerID, PlayerName: name, GameCode: result.GameCode}
	if err := c.identity.Save(id); err != nil {
		return err
	}

	logf(c.cfg, "GAME: Created room %s as %s", result.GameCode, result.PlayerID)
	return c.attach(ctx, id)
}

// Join validates and joins an existing room, then enters it.
func (c *Controller) Join(ctx context.Context, code, name string) error {
	if err := c.identity.Hydrate(); err != nil {
		return err
	}

	verdict, err := c.api.ValidateCode(ctx, code)
	if err != nil {
		return err
	}
	if !verdict.IsValid {
		return fmt.Errorf("%w: room %s does not exist or has expired", ErrValidationFailed, code)
	}
	if !verdict.CanJoin {
		return fmt.Errorf("%w: room %s is full or already playing", ErrValidationFailed, code)
	}

	result, err := c.api.JoinGame(ctx, code, name)
	if err != nil {
		return err
	}

	id := Identity{PlayerID: result.PlayerID, PlayerName: name, GameCode: code}
	if err := c.identity.Save(id); err != nil {
		return err
	}

	logf(c.cfg, "GAME: Joined room %s as %s", code, result.PlayerID)
	return c.attach(ctx, id)
}

// Resume re-enters an in-progress game using the persisted identity.
func (c *Controller) Resume(ctx context.Context) error {
	if err := c.identity.Hydrate(); err != nil {
		return err
	}

	id, _ := c.identity.Value()
	if id.PlayerID == "" || id.GameCode == "" {
		return errNoSession
	}

	logf(c.cfg, "GAME: Resuming room %s as %s", id.GameCode, id.PlayerID)
	return c.attach(ctx, id)
}

// attach seeds the store from a fresh snapshot and opens the event channel.
// The snapshot fetch never runs before identity hydration has completed.
func (c *Controller) attach(ctx context.Context, id Identity) error {
	if _, hydrated := c.identity.Value(); !hydrated {
		return fmt.Errorf("identity not hydrated")
	}

	c.playerID = id.PlayerID
	c.playerName = id.PlayerName
	c.gameCode = id.GameCode

	snap, err := c.api.GameState(ctx, c.gameCode)
	if err != nil {
		return err
	}
	c.store.ApplySnapshot(snap)
	c.syncCountdown()
	c.ensureQuestion(ctx)

	c.bindEvents(ctx)

	c.socket.OnConnect(func() {
		c.joinRoom()
		go c.refetch(ctx)
	})
	c.socket.Connect()
	return nil
}

// joinRoom re-announces presence on the channel. Called on every connected
// transition; the server forgets channel-level membership across reconnects.
func (c *Controller) joinRoom() {
	sess := c.store.Session()
	me, _ := sess.Player(c.playerID)
	c.socket.Emit("joinRoom", map[string]any{
		"gameCode":   c.gameCode,
		"playerId":   c.playerID,
		"playerName": c.playerName,
		"isHost":     me.IsHost,
	})
}

// refetch pulls a fresh snapshot after a reconnect. The wholesale replace
// supersedes any event-derived state accumulated while disconnected.
func (c *Controller) refetch(ctx context.Context) {
	snap, err := c.api.GameState(ctx, c.gameCode)
	if err != nil {
		// Transient; the next push or reconnect will catch us up.
		logf(c.cfg, "GAME: Snapshot refetch failed: %v", err)
		return
	}
	c.store.ApplySnapshot(snap)
	c.syncCountdown()
	c.ensureQuestion(ctx)
}

// ensureQuestion backfills the round's question over HTTP when no push
// carried it. At most one fetch in flight; a question delivered by a push
// in the meantime wins.
func (c *Controller) ensureQuestion(ctx context.Context) {
	sess := c.store.Session()
	if sess.CurrentQuestion != nil {
		return
	}
	if sess.Phase != PhasePrediction && sess.Phase != PhaseAnswering {
		return
	}

	c.questionMu.Lock()
	if c.questionFetch {
		c.questionMu.Unlock()
		return
	}
	c.questionFetch = true
	c.questionMu.Unlock()

	go func() {
		defer func() {
			c.questionMu.Lock()
			c.questionFetch = false
			c.questionMu.Unlock()
		}()

		q, err := c.FetchQuestion(ctx)
		if err != nil {
			logf(c.cfg, "GAME: Question fetch failed: %v", err)
			return
		}
		c.store.FillQuestion(q)
	}()
}

func (c *Controller) bindEvents(ctx context.Context) {
	for _, event := range sessionEvents {
		event := event
		id := c.socket.On(event, func(data json.RawMessage) {
			c.store.ApplyEvent(event, data)
			c.syncCountdown()
			c.ensureQuestion(ctx)
		})
		c.bindings = append(c.bindings, eventBinding{event: event, id: id})
	}

	for _, event := range []string{"error", "game-error"} {
		id := c.socket.On(event, func(data json.RawMessage) {
			c.pushNotice("server error: " + strings.TrimSpace(string(data)))
		})
		c.bindings = append(c.bindings, eventBinding{event: event, id: id})
	}
}

// Notices carries user-visible, non-fatal messages (server errors and the
// like) to the active screen.
func (c *Controller) Notices() <-chan string {
	return c.notices
}

func (c *Controller) pushNotice(text string) {
	select {
	case c.notices <- text:
	default:
	}
}

// syncCountdown re-arms the local phase timers after every authoritative
// update: the announcement countdown and the answering deadline. Timers only
// fire through AdvanceLocally, which refuses to act if anything authoritative
// landed after seq was sampled; authoritative transitions always outrank
// local timers.
func (c *Controller) syncCountdown() {
	sess := c.store.Session()

	c.countdownMu.Lock()
	defer c.countdownMu.Unlock()

	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}

	var next Phase
	var delay time.Duration
	switch sess.Phase {
	case PhaseTurnAnnouncement:
		next, delay = PhasePrediction, c.cfg.countdown
	case PhaseAnswering:
		next, delay = PhaseResults, c.cfg.answerDeadline
	default:
		return
	}

	from, seq := sess.Phase, sess.LastEventSeq
	c.countdown = time.AfterFunc(delay, func() {
		if c.store.AdvanceLocally(from, next, seq) {
			logf(c.cfg, "GAME: Timer expired, advancing to %s locally", next)
		}
	})
}

// StartGame asks the server to start; only the host may call this.
func (c *Controller) StartGame(ctx context.Context) error {
	sess := c.store.Session()
	me, ok := sess.Player(c.playerID)
	if !ok || !me.IsHost {
		return fmt.Errorf("%w: only the host can start the game", ErrValidationFailed)
	}
	return c.api.StartGame(ctx, c.gameCode, c.playerID)
}

// SubmitPredictions sends this player's predictions over both paths.
// The original client shipped REST-only, channel-only, and redundant
// variants across revisions; the server dedupes, so redundancy is safe.
func (c *Controller) SubmitPredictions(ctx context.Context, predictions []Prediction) error {
	err := c.api.SubmitPredictions(ctx, c.gameCode, c.playerID, predictions)
	c.socket.Emit("submitPrediction", map[string]any{
		"gameCode":    c.gameCode,
		"playerId":    c.playerID,
		"predictions": predictions,
	})
	return err
}

// SubmitAnswer sends the active player's answer over both paths.
func (c *Controller) SubmitAnswer(ctx context.Context, answer string) error {
	err := c.api.SubmitAnswer(ctx, c.gameCode, c.playerID, answer)
	c.socket.Emit("submitAnswer", map[string]any{
		"gameCode": c.gameCode,
		"playerId": c.playerID,
		"answer":   answer,
	})
	return err
}

// FetchLeaderboard pulls the current standings on demand.
func (c *Controller) FetchLeaderboard(ctx context.Context) ([]ScoreEntry, error) {
	return c.api.Leaderboard(ctx, c.gameCode)
}

// FetchQuestion pulls the round's question when a push never delivered it.
func (c *Controller) FetchQuestion(ctx context.Context) (*Question, error) {
	return c.api.CurrentQuestion(ctx, c.gameCode)
}

// Leave exits the game for good: server first, then channel, then the
// persisted identity. Transient failures along the way do not keep the
// player trapped in the room.
func (c *Controller) Leave(ctx context.Context) error {
	var firstErr error
	if c.gameCode != "" && c.playerID != "" {
		if err := c.api.LeaveGame(ctx, c.gameCode, c.playerID); err != nil {
			firstErr = err
		}
		c.socket.Emit("leave-game", map[string]any{
			"gameCode": c.gameCode,
			"playerId": c.playerID,
		})
	}

	c.teardown()

	if err := c.identity.Clear(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// teardown deregisters every handler this controller owns and closes the
// channel.
func (c *Controller) teardown() {
	c.countdownMu.Lock()
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
	c.countdownMu.Unlock()

	for _, b := range c.bindings {
		c.socket.Off(b.event, b.id)
	}
	c.bindings = nil
	c.socket.Disconnect()
}
