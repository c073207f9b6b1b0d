/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"strings"
)

// Phase is the canonical stage of gameplay the whole room is in.
// The backend has shipped several vocabularies for the same stages
// across revisions, so every raw status/phase pair funnels through
// resolvePhase before anything else looks at it.
type Phase string

const (
	PhaseLobby            Phase = "lobby"
	PhaseTurnAnnouncement Phase = "turn-announcement"
	PhasePrediction       Phase = "prediction"
	PhaseAnswering        Phase = "answering"
	PhaseResults          Phase = "results"
	PhaseScoreboard       Phase = "scoreboard"
	PhaseFinal            Phase = "final"
)

func (p Phase) String() string {
	return string(p)
}

// statusKind buckets the top-level game status field.
type statusKind int

const (
	statusMissing statusKind = iota
	statusWaiting
	statusActive
	statusTerminal
	statusUnknown
)

func classifyStatus(raw string) statusKind {
	switch normalizeToken(raw) {
	case "":
		return statusMissing
	case "waiting", "lobby", "waiting-for-players", "created", "open", "pending":
		return statusWaiting
	case "active", "in-progress", "started", "playing", "running":
		return statusActive
	case "finished", "completed", "complete", "ended", "terminal", "done", "game-over":
		return statusTerminal
	default:
		return statusUnknown
	}
}

// phaseSynonyms maps every phase spelling the backend has ever emitted
// to its canonical value.
var phaseSynonyms = map[string]Phase{
	"turn-announcement": PhaseTurnAnnouncement,
	"announcement":      PhaseTurnAnnouncement,
	"player-turn":       PhaseTurnAnnouncement,
	"playerturn":        PhaseTurnAnnouncement,
	"turn":              PhaseTurnAnnouncement,

	"prediction":  PhasePrediction,
	"predictions": PhasePrediction,
	"predicting":  PhasePrediction,

	"answering":       PhaseAnswering,
	"answer":          PhaseAnswering,
	"answering-phase": PhaseAnswering,

	"results":         PhaseResults,
	"result":          PhaseResults,
	"round-results":   PhaseResults,
	"scoring":         PhaseResults,
	"scoring-results": PhaseResults,

	"scoreboard":  PhaseScoreboard,
	"scores":      PhaseScoreboard,
	"leaderboard": PhaseScoreboard,
	"standings":   PhaseScoreboard,

	"final":        PhaseFinal,
	"final-scores": PhaseFinal,
	"finished":     PhaseFinal,
}

// normalizeToken lowercases and converts underscore/camelCase spellings
// to the kebab-case the synonym tables are keyed on.
func normalizeToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw) + 4)
	for i, r := range raw {
		switch {
		case r == '_' || r == ' ':
			b.WriteByte('-')
		case r >= 'A' && r <= 'Z':
			if i > 0 && raw[i-1] != '-' && raw[i-1] != '_' && raw[i-1] != ' ' && !(raw[i-1] >= 'A' && raw[i-1] <= 'Z') {
				b.WriteByte('-')
			}
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// resolvePhase derives the canonical phase from a raw status/phase pair.
// It is total: any input, including garbage, maps into the canonical set.
// Unrecognized combinations are logged and fall back to turn-announcement,
// since a safe replayable phase beats a stuck screen. A missing status means
// the game has not started, not an error.
func resolvePhase(cfg *Config, rawStatus, rawPhase string) Phase {
	switch classifyStatus(rawStatus) {
	case statusMissing:
		return PhaseLobby
	case statusWaiting:
		return PhaseLobby
	case statusTerminal:
		return PhaseFinal
	case statusActive:
		token := normalizeToken(rawPhase)
		if token == "" {
			return PhaseTurnAnnouncement
		}
		if p, ok := phaseSynonyms[token]; ok {
			return p
		}
		logf(cfg, "PHASE: Unknown phase %q for active game, defaulting to %s", rawPhase, PhaseTurnAnnouncement)
		return PhaseTurnAnnouncement
	default:
		logf(cfg, "PHASE: Unknown game status %q (phase %q), defaulting to %s", rawStatus, rawPhase, PhaseTurnAnnouncement)
		return PhaseTurnAnnouncement
	}
}
