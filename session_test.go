package main

import (
	"encoding/json"
	"errors"
	"testing"
)

func applyEvent(t *testing.T, st *Store, event, payload string) {
	t.Helper()
	st.ApplyEvent(event, json.RawMessage(payload))
}

func TestApplySnapshotFromEnvelope(t *testing.T) {
	raw := []byte(`{"status":"success","data":{"gameCode":"AB12","gameStatus":"waiting","players":[{"id":"p1","name":"Ahmed","isHost":true}]}}`)

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}

	var snap GameSnapshot
	if err := json.Unmarshal(envelope.Data, &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}

	st := newStore(&Config{})
	st.ApplySnapshot(snap)

	sess := st.Session()
	if sess.RoomCode != "AB12" {
		t.Errorf("room code = %q, want AB12", sess.RoomCode)
	}
	if sess.Phase != PhaseLobby {
		t.Errorf("phase = %s, want %s", sess.Phase, PhaseLobby)
	}
	if len(sess.Players) != 1 || sess.Players[0].Name != "Ahmed" || !sess.Players[0].IsHost {
		t.Errorf("players = %+v, want one host named Ahmed", sess.Players)
	}
	if sess.LastEventSeq != 1 {
		t.Errorf("seq = %d, want 1", sess.LastEventSeq)
	}
}

func TestSnapshotReplacesWholesale(t *testing.T) {
	st := newStore(&Config{})

	applyEvent(t, st, "roomUpdate", `{"players":[{"id":"p1","name":"Ahmed","isHost":true},{"id":"p2","name":"Sara"},{"id":"p3","name":"Omar"}]}`)
	if got := len(st.Session().Players); got != 3 {
		t.Fatalf("players after roomUpdate = %d, want 3", got)
	}

	// The snapshot's player list wins even though it is smaller.
	st.ApplySnapshot(GameSnapshot{
		GameCode:   "AB12",
		GameStatus: "active",
		Phase:      "prediction",
		Players: []PlayerState{
			{ID: "p1", Name: "Ahmed", IsHost: true},
			{ID: "p2", Name: "Sara"},
		},
	})

	sess := st.Session()
	if len(sess.Players) != 2 {
		t.Errorf("players after snapshot = %d, want 2", len(sess.Players))
	}
	if sess.Phase != PhasePrediction {
		t.Errorf("phase = %s, want %s", sess.Phase, PhasePrediction)
	}
}

func TestRoomUpdateThenGameStarted(t *testing.T) {
	st := newStore(&Config{})

	applyEvent(t, st, "roomUpdate", `{"players":[{"id":"p1","name":"Ahmed","isHost":true},{"id":"p2","name":"Sara"}]}`)
	applyEvent(t, st, "gameStarted", `{"players":[{"id":"p1","name":"Ahmed","isHost":true},{"id":"p2","name":"Sara"},{"id":"p3","name":"Omar"}],"currentRound":1}`)

	sess := st.Session()
	if len(sess.Players) != 3 {
		t.Errorf("players = %d, want 3", len(sess.Players))
	}
	if sess.Phase != PhaseTurnAnnouncement {
		t.Errorf("phase = %s, want %s", sess.Phase, PhaseTurnAnnouncement)
	}
	if sess.CurrentRound != 1 {
		t.Errorf("round = %d, want 1", sess.CurrentRound)
	}
	if sess.LastEventSeq != 2 {
		t.Errorf("seq = %d, want 2", sess.LastEventSeq)
	}
}

func TestRoundStartedMergesFields(t *testing.T) {
	st := newStore(&Config{})
	st.ApplySnapshot(GameSnapshot{
		GameCode:   "AB12",
		GameStatus: "active",
		Players: []PlayerState{
			{ID: "p1", Name: "Ahmed", IsHost: true},
			{ID: "p2", Name: "Sara"},
		},
		CurrentAnswer: "tea",
	})

	applyEvent(t, st, "roundStarted", `{"question":{"id":"q2","text":"Cats or dogs?"},"roundNumber":2,"currentPlayerId":"p2"}`)

	sess := st.Session()
	if len(sess.Players) != 2 {
		t.Errorf("roundStarted touched the player list: %+v", sess.Players)
	}
	if sess.CurrentQuestion == nil || sess.CurrentQuestion.ID != "q2" {
		t.Errorf("question = %+v, want q2", sess.CurrentQuestion)
	}
	if sess.CurrentRound != 2 {
		t.Errorf("round = %d, want 2", sess.CurrentRound)
	}
	if sess.CurrentPlayerID != "p2" {
		t.Errorf("current player = %q, want p2", sess.CurrentPlayerID)
	}
	if sess.CurrentAnswer != "" {
		t.Errorf("answer = %q, want cleared", sess.CurrentAnswer)
	}
	if sess.Phase != PhasePrediction {
		t.Errorf("phase = %s, want %s", sess.Phase, PhasePrediction)
	}
}

func TestEventSynonymsFold(t *testing.T) {
	st := newStore(&Config{})

	applyEvent(t, st, "player-joined", `{"players":[{"id":"p1","name":"Ahmed","isHost":true}]}`)
	if got := len(st.Session().Players); got != 1 {
		t.Fatalf("players after player-joined = %d, want 1", got)
	}

	applyEvent(t, st, "round-started", `{"question":{"id":"q1","text":"Tea or coffee?"},"currentRound":1}`)
	if st.Session().Phase != PhasePrediction {
		t.Errorf("phase after round-started = %s, want %s", st.Session().Phase, PhasePrediction)
	}

	applyEvent(t, st, "scoring-results", `{"scoreboard":[{"playerId":"p1","score":10}],"answer":"tea"}`)
	sess := st.Session()
	if sess.Phase != PhaseResults {
		t.Errorf("phase after scoring-results = %s, want %s", sess.Phase, PhaseResults)
	}
	if len(sess.Scoreboard) != 1 || sess.Scoreboard[0].Score != 10 {
		t.Errorf("scoreboard = %+v", sess.Scoreboard)
	}
	if sess.CurrentAnswer != "tea" {
		t.Errorf("answer = %q, want tea", sess.CurrentAnswer)
	}

	applyEvent(t, st, "scoreboard-updated", `{"scoreboard":[{"playerId":"p1","score":20}]}`)
	sess = st.Session()
	if sess.Phase != PhaseScoreboard {
		t.Errorf("phase after scoreboard-updated = %s, want %s", sess.Phase, PhaseScoreboard)
	}
	if len(sess.Scoreboard) != 1 || sess.Scoreboard[0].Score != 20 {
		t.Errorf("scoreboard = %+v, want score 20", sess.Scoreboard)
	}

	applyEvent(t, st, "next-round", `{"question":{"id":"q2","text":"Cats or dogs?"},"currentRound":2}`)
	sess = st.Session()
	if sess.Phase != PhasePrediction || sess.CurrentRound != 2 {
		t.Errorf("phase = %s round = %d after next-round, want %s round 2", sess.Phase, sess.CurrentRound, PhasePrediction)
	}

	applyEvent(t, st, "turn-announcement", `{"currentPlayerId":"p1","currentRound":3}`)
	sess = st.Session()
	if sess.Phase != PhaseTurnAnnouncement {
		t.Errorf("phase after turn-announcement = %s, want %s", sess.Phase, PhaseTurnAnnouncement)
	}
	if sess.CurrentPlayerID != "p1" || sess.CurrentRound != 3 {
		t.Errorf("current player = %q round = %d, want p1 round 3", sess.CurrentPlayerID, sess.CurrentRound)
	}

	applyEvent(t, st, "game-ended", `{}`)
	if got := st.Session().Phase; got != PhaseFinal {
		t.Errorf("phase after game-ended = %s, want %s", got, PhaseFinal)
	}
}

func TestGameCompletedEndsGame(t *testing.T) {
	st := newStore(&Config{})
	st.ApplySnapshot(GameSnapshot{GameCode: "AB12", GameStatus: "active", Phase: "prediction"})

	applyEvent(t, st, "gameCompleted", `{"leaderboard":[{"playerId":"p1","score":50}]}`)

	sess := st.Session()
	if sess.Phase != PhaseFinal {
		t.Errorf("phase = %s, want %s", sess.Phase, PhaseFinal)
	}
	if len(sess.Scoreboard) != 1 || sess.Scoreboard[0].Score != 50 {
		t.Errorf("scoreboard = %+v, want final score 50", sess.Scoreboard)
	}
}

func TestRoomUpdateBareArray(t *testing.T) {
	st := newStore(&Config{})

	applyEvent(t, st, "roomUpdate", `[{"id":"p1","name":"Ahmed","isHost":true},{"id":"p2","name":"Sara"}]`)
	if got := len(st.Session().Players); got != 2 {
		t.Errorf("players = %d, want 2", got)
	}
}

func TestPlayerDisconnectedRemoves(t *testing.T) {
	st := newStore(&Config{})
	st.ApplySnapshot(GameSnapshot{
		GameCode: "AB12",
		Players: []PlayerState{
			{ID: "p1", Name: "Ahmed", IsHost: true},
			{ID: "p2", Name: "Sara"},
		},
	})

	applyEvent(t, st, "playerDisconnected", `{"leftPlayer":{"id":"p2"}}`)

	sess := st.Session()
	if len(sess.Players) != 1 || sess.Players[0].ID != "p1" {
		t.Errorf("players = %+v, want only p1", sess.Players)
	}

	// Unknown player and malformed payloads must leave the list alone.
	applyEvent(t, st, "playerDisconnected", `{"leftPlayer":{"id":"nobody"}}`)
	applyEvent(t, st, "playerDisconnected", `not json`)
	if got := len(st.Session().Players); got != 1 {
		t.Errorf("players = %d, want 1", got)
	}
}

func TestMalformedEventKeepsState(t *testing.T) {
	st := newStore(&Config{})
	st.ApplySnapshot(GameSnapshot{
		GameCode:   "AB12",
		GameStatus: "active",
		Phase:      "prediction",
		Players:    []PlayerState{{ID: "p1", Name: "Ahmed", IsHost: true}},
	})
	before := st.Session()

	applyEvent(t, st, "gameStarted", `{{{`)
	applyEvent(t, st, "no-such-event", `{"players":[]}`)

	sess := st.Session()
	if sess.Phase != before.Phase {
		t.Errorf("phase changed to %s after malformed payload", sess.Phase)
	}
	if len(sess.Players) != len(before.Players) {
		t.Errorf("players changed after malformed payload: %+v", sess.Players)
	}
	if sess.LastEventSeq != before.LastEventSeq+2 {
		t.Errorf("seq = %d, want %d", sess.LastEventSeq, before.LastEventSeq+2)
	}
}

func TestRoomCodeImmutable(t *testing.T) {
	st := newStore(&Config{})
	st.ApplySnapshot(GameSnapshot{GameCode: "AB12"})
	st.ApplySnapshot(GameSnapshot{GameCode: "ZZ99"})

	if got := st.Session().RoomCode; got != "AB12" {
		t.Errorf("room code = %q, want AB12", got)
	}
}

func TestRoundsNeverGoBackward(t *testing.T) {
	st := newStore(&Config{})
	st.ApplySnapshot(GameSnapshot{GameCode: "AB12", GameStatus: "active", CurrentRound: 3, CurrentCycle: 2})
	st.ApplySnapshot(GameSnapshot{GameCode: "AB12", GameStatus: "active", CurrentRound: 1, CurrentCycle: 1})

	sess := st.Session()
	if sess.CurrentRound != 3 {
		t.Errorf("round = %d, want 3", sess.CurrentRound)
	}
	if sess.CurrentCycle != 2 {
		t.Errorf("cycle = %d, want 2", sess.CurrentCycle)
	}
}

func TestNormalizeHostKeepsFirst(t *testing.T) {
	st := newStore(&Config{})

	applyEvent(t, st, "roomUpdate", `{"players":[{"id":"p1","name":"Ahmed","isHost":true},{"id":"p2","name":"Sara","isHost":true}]}`)

	sess := st.Session()
	host, ok := sess.Host()
	if !ok || host.ID != "p1" {
		t.Errorf("host = %+v, want p1", host)
	}
	hosts := 0
	for _, p := range sess.Players {
		if p.IsHost {
			hosts++
		}
	}
	if hosts != 1 {
		t.Errorf("host count = %d, want 1", hosts)
	}
}

func TestAdvanceLocally(t *testing.T) {
	st := newStore(&Config{})
	st.ApplySnapshot(GameSnapshot{GameCode: "AB12", GameStatus: "active", Phase: "turn-announcement"})
	seq := st.Seq()

	// An authoritative event lands before the timer fires.
	applyEvent(t, st, "answeringPhase", `{}`)
	if st.AdvanceLocally(PhaseTurnAnnouncement, PhasePrediction, seq) {
		t.Error("stale local advance was applied over an authoritative event")
	}
	if got := st.Session().Phase; got != PhaseAnswering {
		t.Errorf("phase = %s, want %s", got, PhaseAnswering)
	}

	// With nothing in between the local advance goes through.
	st2 := newStore(&Config{})
	st2.ApplySnapshot(GameSnapshot{GameCode: "AB12", GameStatus: "active", Phase: "turn-announcement"})
	if !st2.AdvanceLocally(PhaseTurnAnnouncement, PhasePrediction, st2.Seq()) {
		t.Error("local advance refused with no intervening events")
	}
	if got := st2.Session().Phase; got != PhasePrediction {
		t.Errorf("phase = %s, want %s", got, PhasePrediction)
	}
}

func TestFillQuestion(t *testing.T) {
	st := newStore(&Config{})
	st.ApplySnapshot(GameSnapshot{GameCode: "AB12", GameStatus: "active", Phase: "answering"})
	seq := st.Seq()

	st.FillQuestion(&Question{ID: "q1", Text: "Tea or coffee?"})

	sess := st.Session()
	if sess.CurrentQuestion == nil || sess.CurrentQuestion.ID != "q1" {
		t.Fatalf("question = %+v, want q1", sess.CurrentQuestion)
	}
	// A backfill is not authoritative: the sequence counter stays put.
	if st.Seq() != seq {
		t.Errorf("seq = %d after backfill, want %d", st.Seq(), seq)
	}

	// A question already delivered by a push is never overwritten.
	st.FillQuestion(&Question{ID: "q9", Text: "other"})
	if got := st.Session().CurrentQuestion.ID; got != "q1" {
		t.Errorf("backfill overwrote the pushed question: %s", got)
	}
}

func TestSessionCopyIsDetached(t *testing.T) {
	st := newStore(&Config{})
	st.ApplySnapshot(GameSnapshot{
		GameCode: "AB12",
		Players:  []PlayerState{{ID: "p1", Name: "Ahmed", IsHost: true}},
		Question: &Question{ID: "q1", Text: "Tea or coffee?"},
	})

	sess := st.Session()
	sess.Players[0].Name = "mutated"
	sess.CurrentQuestion.Text = "mutated"

	fresh := st.Session()
	if fresh.Players[0].Name != "Ahmed" {
		t.Error("mutating a returned copy leaked into the store")
	}
	if fresh.CurrentQuestion.Text != "Tea or coffee?" {
		t.Error("mutating a returned question leaked into the store")
	}
}

func TestUpdatesCoalesce(t *testing.T) {
	st := newStore(&Config{})

	for i := 0; i < 10; i++ {
		applyEvent(t, st, "roomUpdate", `{"players":[{"id":"p1","name":"Ahmed","isHost":true}]}`)
	}

	select {
	case <-st.Updates():
	default:
		t.Fatal("no update signal after applied events")
	}
	select {
	case <-st.Updates():
		t.Fatal("update signals were not coalesced")
	default:
	}
}

func TestValidateRoomCode(t *testing.T) {
	valid := []string{"AB12", "ABCD1234", "ZZZZ"}
	for _, code := range valid {
		if err := validateRoomCode(code); err != nil {
			t.Errorf("validateRoomCode(%q) = %v, want nil", code, err)
		}
	}

	invalid := []string{"", "AB", "ab12", "ABC!", "ABCD12345", "AB 1"}
	for _, code := range invalid {
		err := validateRoomCode(code)
		if err == nil {
			t.Errorf("validateRoomCode(%q) = nil, want error", code)
			continue
		}
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("validateRoomCode(%q) = %v, not a validation error", code, err)
		}
	}
}

func TestValidatePlayerName(t *testing.T) {
	if err := validatePlayerName("Ahmed"); err != nil {
		t.Errorf("validatePlayerName(Ahmed) = %v, want nil", err)
	}
	// 16 characters, 2 bytes each; the limit counts characters.
	if err := validatePlayerName("عبدالملك التميمي"); err != nil {
		t.Errorf("validatePlayerName rejected a 16-character Arabic name: %v", err)
	}
	if err := validatePlayerName(""); err == nil {
		t.Error("empty name accepted")
	}
	if err := validatePlayerName("123456789012345678901"); err == nil {
		t.Error("21-character name accepted")
	}
	if err := validatePlayerName("ممممممممممممممممممممم"); err == nil {
		t.Error("21-character Arabic name accepted")
	}
}
