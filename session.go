// TFADHLOON session store
//
// The single in-memory source of truth for the current game. Two asynchronous
// sources feed it: authoritative snapshots fetched over HTTP and incremental
// events pushed over the socket. Snapshots are applied wholesale (covered
// fields are replaced, never diffed), events merge only the fields their type
// is known to carry. The server provides no sequence numbers, so the only
// defense against state accumulated while disconnected is that every
// reconnect fetches a fresh snapshot which supersedes it.

package main

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"unicode/utf8"
)

const (
	connectionOnline  = "online"
	connectionOffline = "offline"
)

// PlayerState is one entry in the room's ordered player list.
type PlayerState struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	IsHost          bool   `json:"isHost"`
	ConnectionState string `json:"connectionState,omitempty"`
}

// Question is the prompt the active player answers each round.
type Question struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ScoreEntry is one row of the scoreboard. The scoreboard is always
// recomputed wholesale from the latest authoritative payload.
type ScoreEntry struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name,omitempty"`
	Score    int    `json:"score"`
}

// Session is the root aggregate. Mutated only through Store methods.
type Session struct {
	RoomCode        string
	Players         []PlayerState
	Phase           Phase
	CurrentRound    int
	CurrentCycle    int
	CurrentPlayerID string
	CurrentQuestion *Question
	CurrentAnswer   string
	Scoreboard      []ScoreEntry
	MaxPlayers      int

	// LastEventSeq counts applied inbound messages. Local staleness
	// detection only; not gap-free, not globally unique.
	LastEventSeq uint64
}

// Player returns the entry for id, if present.
func (s *Session) Player(id string) (PlayerState, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerState{}, false
}

// Host returns the current host, if any.
func (s *Session) Host() (PlayerState, bool) {
	for _, p := range s.Players {
		if p.IsHost {
			return p, true
		}
	}
	return PlayerState{}, false
}

// GameSnapshot is the raw shape of a full-state payload, from either the
// HTTP API or a full-state push. Field pairs like gameCode/roomCode and
// currentPhase/phase are synonyms across backend revisions; the accessors
// below pick whichever is populated.
type GameSnapshot struct {
	GameCode        string          `json:"gameCode,omitempty"`
	RoomCode        string          `json:"roomCode,omitempty"`
	GameStatus      string          `json:"gameStatus,omitempty"`
	Status          string          `json:"status,omitempty"`
	CurrentPhase    string          `json:"currentPhase,omitempty"`
	Phase           string          `json:"phase,omitempty"`
	CurrentRound    int             `json:"currentRound,omitempty"`
	RoundNumber     int             `json:"roundNumber,omitempty"`
	CurrentCycle    int             `json:"currentCycle,omitempty"`
	CurrentPlayerID string          `json:"currentPlayerId,omitempty"`
	MaxPlayers      int             `json:"maxPlayers,omitempty"`
	Players         []PlayerState   `json:"players,omitempty"`
	CurrentQuestion *Question       `json:"currentQuestion,omitempty"`
	Question        *Question       `json:"question,omitempty"`
	CurrentAnswer   string          `json:"currentAnswer,omitempty"`
	Answer          string          `json:"answer,omitempty"`
	Scoreboard      []ScoreEntry    `json:"scoreboard,omitempty"`
	Leaderboard     []ScoreEntry    `json:"leaderboard,omitempty"`
	LeftPlayer      *PlayerState    `json:"leftPlayer,omitempty"`
	Message         json.RawMessage `json:"message,omitempty"`
}

func (g *GameSnapshot) code() string {
	if g.GameCode != "" {
		return g.GameCode
	}
	return g.RoomCode
}

func (g *GameSnapshot) status() string {
	if g.GameStatus != "" {
		return g.GameStatus
	}
	return g.Status
}

func (g *GameSnapshot) phase() string {
	if g.CurrentPhase != "" {
		return g.CurrentPhase
	}
	return g.Phase
}

func (g *GameSnapshot) round() int {
	if g.CurrentRound > 0 {
		return g.CurrentRound
	}
	return g.RoundNumber
}

func (g *GameSnapshot) question() *Question {
	if g.CurrentQuestion != nil {
		return g.CurrentQuestion
	}
	return g.Question
}

func (g *GameSnapshot) answer() string {
	if g.CurrentAnswer != "" {
		return g.CurrentAnswer
	}
	return g.Answer
}

func (g *GameSnapshot) scores() []ScoreEntry {
	if g.Scoreboard != nil {
		return g.Scoreboard
	}
	return g.Leaderboard
}

// Store owns the Session. All writes go through ApplySnapshot, ApplyEvent,
// or AdvanceLocally; everything else is a read-only observer. A mutex
// serializes appliers, and each event type merges a fixed set of fields,
// so interleaved partial events cannot clobber each other's fields.
type Store struct {
	cfg *Config

	mu      sync.Mutex
	session Session

	// updates is a coalesced change signal for the screen loop.
	updates chan struct{}
}

func newStore(cfg *Config) *Store {
	return &Store{
		cfg:     cfg,
		updates: make(chan struct{}, 1),
	}
}

// Session returns a copy safe to read without holding the store lock.
func (st *Store) Session() Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.copyLocked()
}

// Seq returns the current event counter, for staleness checks.
func (st *Store) Seq() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.LastEventSeq
}

// Updates signals after every applied change. Coalesced: a slow consumer
// sees at least one signal, not one per message.
func (st *Store) Updates() <-chan struct{} {
	return st.updates
}

func (st *Store) copyLocked() Session {
	out := st.session
	out.Players = append([]PlayerState(nil), st.session.Players...)
	out.Scoreboard = append([]ScoreEntry(nil), st.session.Scoreboard...)
	if st.session.CurrentQuestion != nil {
		q := *st.session.CurrentQuestion
		out.CurrentQuestion = &q
	}
	return out
}

func (st *Store) notifyLocked() {
	select {
	case st.updates <- struct{}{}:
	default:
	}
}

// ApplySnapshot replaces the covered fields of the session wholesale.
// Partial snapshots cannot be told apart from omitted-but-unchanged fields
// across the backend's payload shapes, so no diffing: players, phase,
// scoreboard, and question always come from the snapshot, even when empty.
func (st *Store) ApplySnapshot(snap GameSnapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.applySnapshotLocked(snap)
	st.session.Phase = resolvePhase(st.cfg, snap.status(), snap.phase())
	st.session.LastEventSeq++
	st.notifyLocked()
}

func (st *Store) applySnapshotLocked(snap GameSnapshot) {
	// Room code is immutable once set; the server never reassigns it.
	if st.session.RoomCode == "" {
		st.session.RoomCode = snap.code()
	}

	st.session.Players = normalizeHost(st.cfg, append([]PlayerState(nil), snap.Players...))
	st.session.Scoreboard = append([]ScoreEntry(nil), snap.scores()...)
	st.session.CurrentQuestion = snap.question()
	st.session.CurrentAnswer = snap.answer()
	if snap.CurrentPlayerID != "" {
		st.session.CurrentPlayerID = snap.CurrentPlayerID
	}

	if r := snap.round(); r > st.session.CurrentRound {
		st.session.CurrentRound = r
	}
	if snap.CurrentCycle > st.session.CurrentCycle {
		st.session.CurrentCycle = snap.CurrentCycle
	}
	if snap.MaxPlayers > 0 {
		st.session.MaxPlayers = snap.MaxPlayers
	}
}

// ApplyEvent merges one pushed event into the session. Unknown event names
// still bump the sequence counter so staleness checks see them.
func (st *Store) ApplyEvent(name string, data json.RawMessage) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.session.LastEventSeq++

	switch canonicalEvent(name) {
	case eventRoomUpdate:
		st.mergePlayersLocked(data)

	case eventGameStarted:
		// Full-state push: same wholesale rules as a fetched snapshot.
		var snap GameSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			logf(st.cfg, "STATE: Discarding malformed %s payload: %v", name, err)
			break
		}
		st.applySnapshotLocked(snap)
		if snap.status() == "" && snap.phase() == "" {
			st.session.Phase = PhaseTurnAnnouncement
		} else {
			st.session.Phase = resolvePhase(st.cfg, snap.status(), snap.phase())
		}

	case eventRoundStarted:
		var snap GameSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			logf(st.cfg, "STATE: Discarding malformed %s payload: %v", name, err)
			break
		}
		if q := snap.question(); q != nil {
			st.session.CurrentQuestion = q
		}
		if r := snap.round(); r > st.session.CurrentRound {
			st.session.CurrentRound = r
		}
		if snap.CurrentCycle > st.session.CurrentCycle {
			st.session.CurrentCycle = snap.CurrentCycle
		}
		if snap.CurrentPlayerID != "" {
			st.session.CurrentPlayerID = snap.CurrentPlayerID
		}
		st.session.CurrentAnswer = ""
		st.session.Phase = PhasePrediction

	case eventTurnAnnouncement:
		var snap GameSnapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			if snap.CurrentPlayerID != "" {
				st.session.CurrentPlayerID = snap.CurrentPlayerID
			}
			if r := snap.round(); r > st.session.CurrentRound {
				st.session.CurrentRound = r
			}
			if snap.CurrentCycle > st.session.CurrentCycle {
				st.session.CurrentCycle = snap.CurrentCycle
			}
			if q := snap.question(); q != nil {
				st.session.CurrentQuestion = q
			}
		}
		st.session.Phase = PhaseTurnAnnouncement

	case eventAnsweringPhase:
		var snap GameSnapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			if q := snap.question(); q != nil {
				st.session.CurrentQuestion = q
			}
		}
		st.session.Phase = PhaseAnswering

	case eventRoundResults:
		var snap GameSnapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			if s := snap.scores(); s != nil {
				st.session.Scoreboard = append([]ScoreEntry(nil), s...)
			}
			if a := snap.answer(); a != "" {
				st.session.CurrentAnswer = a
			}
		}
		st.session.Phase = PhaseResults

	case eventScoreboardUpdate:
		var snap GameSnapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			if s := snap.scores(); s != nil {
				st.session.Scoreboard = append([]ScoreEntry(nil), s...)
			}
		}
		st.session.Phase = PhaseScoreboard

	case eventFinalScores:
		var snap GameSnapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			if s := snap.scores(); s != nil {
				st.session.Scoreboard = append([]ScoreEntry(nil), s...)
			}
		}
		st.session.Phase = PhaseFinal

	case eventPlayerDisconnected:
		st.removePlayerLocked(data)

	case eventError:
		// Errors carry no session state; the controller surfaces them.

	default:
		logf(st.cfg, "STATE: Ignoring unknown event %q", name)
	}

	st.notifyLocked()
}

// FillQuestion backfills a question fetched over HTTP. It only lands while
// no push has delivered one, and it does not advance the sequence counter:
// a backfill is not an authoritative transition and must not cancel pending
// local timers.
func (st *Store) FillQuestion(q *Question) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if q == nil || st.session.CurrentQuestion != nil {
		return
	}
	copied := *q
	st.session.CurrentQuestion = &copied
	st.notifyLocked()
}

// AdvanceLocally applies an optimistic local phase transition, such as the
// announcement countdown expiring. It succeeds only if nothing authoritative
// has landed since seq was sampled and the phase is still from; authoritative
// updates always outrank local timers.
func (st *Store) AdvanceLocally(from, to Phase, seq uint64) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session.LastEventSeq != seq || st.session.Phase != from {
		return false
	}
	st.session.Phase = to
	st.notifyLocked()
	return true
}

// mergePlayersLocked handles the players-only events. The payload is either
// an object carrying a players field or, in older revisions, a bare array.
func (st *Store) mergePlayersLocked(data json.RawMessage) {
	var snap GameSnapshot
	if err := json.Unmarshal(data, &snap); err == nil && snap.Players != nil {
		st.session.Players = normalizeHost(st.cfg, append([]PlayerState(nil), snap.Players...))
		return
	}

	var players []PlayerState
	if err := json.Unmarshal(data, &players); err == nil && players != nil {
		st.session.Players = normalizeHost(st.cfg, players)
		return
	}

	logf(st.cfg, "STATE: Discarding player update with no usable players field")
}

func (st *Store) removePlayerLocked(data json.RawMessage) {
	var snap GameSnapshot
	if err := json.Unmarshal(data, &snap); err != nil || snap.LeftPlayer == nil || snap.LeftPlayer.ID == "" {
		return
	}

	dst := st.session.Players[:0]
	for _, p := range st.session.Players {
		if p.ID == snap.LeftPlayer.ID {
			continue
		}
		dst = append(dst, p)
	}
	st.session.Players = dst
}

// normalizeHost enforces the at-most-one-host invariant. If a payload
// flags multiple hosts, the first wins and the rest are cleared.
func normalizeHost(cfg *Config, players []PlayerState) []PlayerState {
	seen := false
	for i := range players {
		if !players[i].IsHost {
			continue
		}
		if seen {
			logf(cfg, "STATE: Multiple hosts in payload, keeping the first")
			players[i].IsHost = false
			continue
		}
		seen = true
	}
	return players
}

// Canonical event names. The backend's vocabulary varies across versions;
// canonicalEvent folds the known synonyms.
const (
	eventRoomUpdate         = "roomUpdate"
	eventGameStarted        = "gameStarted"
	eventRoundStarted       = "roundStarted"
	eventTurnAnnouncement   = "turn-announcement"
	eventAnsweringPhase     = "answeringPhase"
	eventRoundResults       = "roundResults"
	eventScoreboardUpdate   = "scoreboard-updated"
	eventFinalScores        = "finalScores"
	eventPlayerDisconnected = "playerDisconnected"
	eventError              = "error"
)

func canonicalEvent(name string) string {
	switch name {
	case "roomUpdate", "player-joined", "player-left", "player-update", "playerUpdate":
		return eventRoomUpdate
	case "gameStarted", "game-started", "game-start":
		return eventGameStarted
	case "roundStarted", "round-started", "new-round", "newRound", "next-round", "round-starting":
		return eventRoundStarted
	case "turn-announcement", "turnAnnouncement":
		return eventTurnAnnouncement
	case "answeringPhase", "answering-phase":
		return eventAnsweringPhase
	case "roundResults", "round-results", "scoringResults", "scoring-results":
		return eventRoundResults
	case "scoreboard-updated", "scoreboardUpdated", "scoreboard-update":
		return eventScoreboardUpdate
	case "finalScores", "final-scores", "game-ended", "gameEnded", "gameCompleted", "game-completed":
		return eventFinalScores
	case "playerDisconnected", "player-disconnected":
		return eventPlayerDisconnected
	case "error", "game-error":
		return eventError
	default:
		return name
	}
}

// sessionEvents lists every push event the controller subscribes to.
var sessionEvents = []string{
	"roomUpdate",
	"player-joined",
	"player-left",
	"player-update",
	"gameStarted",
	"game-started",
	"game-start",
	"roundStarted",
	"round-started",
	"new-round",
	"next-round",
	"round-starting",
	"turn-announcement",
	"answeringPhase",
	"answering-phase",
	"roundResults",
	"round-results",
	"scoringResults",
	"scoreboard-updated",
	"finalScores",
	"final-scores",
	"game-ended",
	"gameCompleted",
	"playerDisconnected",
	"player-disconnected",
}

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{4,8}$`)

// validateRoomCode checks the local constraints on a room code before any
// network call is made.
func validateRoomCode(code string) error {
	if !roomCodePattern.MatchString(code) {
		return fmt.Errorf("%w: room code must be 4-8 uppercase letters or digits", ErrValidationFailed)
	}
	return nil
}

// validatePlayerName checks the local constraints on a display name.
// The limit is counted in runes, not bytes; Arabic names run two bytes
// per character.
func validatePlayerName(name string) error {
	if n := utf8.RuneCountInString(name); n < 1 || n > 20 {
		return fmt.Errorf("%w: player name must be 1-20 characters", ErrValidationFailed)
	}
	return nil
}
