package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

const maxResponseBytes = 1 << 20

// APIClient performs one-shot request/response calls against the game
// backend. Every response uses the envelope {status, message?, data}. Error
// bodies are parsed as JSON first with a plain text fallback; the server
// does not guarantee a JSON error body.
type APIClient struct {
	cfg    *Config
	base   string
	client *http.Client
}

func newAPIClient(cfg *Config) *APIClient {
	return &APIClient{
		cfg:    cfg,
		base:   strings.TrimSuffix(cfg.server, "/") + "/api/games",
		client: &http.Client{Timeout: cfg.timeout},
	}
}

type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// do runs one request and decodes the envelope's data field into out.
// Never panics and never returns an unclassified error: every failure maps
// to one of the kinds in errors.go.
func (a *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return &apiError{kind: ErrNetworkUnavailable, message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &apiError{kind: ErrNetworkUnavailable, status: resp.StatusCode, message: err.Error()}
	}

	logf(a.cfg, "API: %s %s -> %d (%s)", method, path, resp.StatusCode, humanReadableSize(int64(len(raw))))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rejectionError(resp.StatusCode, raw)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &apiError{kind: ErrServerRejectedOpaque, status: resp.StatusCode}
	}
	if envelope.Status != "" && envelope.Status != "success" {
		return &apiError{kind: ErrServerRejected, status: resp.StatusCode, message: envelope.Message}
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return &apiError{kind: ErrServerRejectedOpaque, status: resp.StatusCode, message: err.Error()}
	}
	return nil
}

// rejectionError classifies a non-2xx response. A JSON envelope message or a
// readable text body becomes ServerRejected; anything else is opaque.
func rejectionError(status int, raw []byte) error {
	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Message != "" {
		return &apiError{kind: ErrServerRejected, status: status, message: envelope.Message}
	}

	text := strings.TrimSpace(string(raw))
	if text != "" && utf8.ValidString(text) && !strings.HasPrefix(text, "{") {
		return &apiError{kind: ErrServerRejected, status: status, message: text}
	}

	return &apiError{kind: ErrServerRejectedOpaque, status: status}
}

// TestConnection probes the backend health endpoint.
func (a *APIClient) TestConnection(ctx context.Context) error {
	return a.do(ctx, http.MethodGet, "/test", nil, nil)
}

// ValidateResult is the server's verdict on a room code.
type ValidateResult struct {
	IsValid bool `json:"isValid"`
	CanJoin bool `json:"canJoin"`
}

// ValidateCode checks a room code server-side. Codes that fail local
// validation never generate a request.
func (a *APIClient) ValidateCode(ctx context.Context, code string) (ValidateResult, error) {
	if err := validateRoomCode(code); err != nil {
		return ValidateResult{}, err
	}
	var out ValidateResult
	err := a.do(ctx, http.MethodGet, "/validate/"+code, nil, &out)
	return out, err
}

// CreateResult is the payload returned when a room is created.
type CreateResult struct {
	GameCode string        `json:"gameCode"`
	PlayerID string        `json:"playerId"`
	Players  []PlayerState `json:"players"`
}

// CreateGame creates a room with the caller as host.
func (a *APIClient) CreateGame(ctx context.Context, playerName string, maxPlayers int) (CreateResult, error) {
	if err := validatePlayerName(playerName); err != nil {
		return CreateResult{}, err
	}
	var out CreateResult
	err := a.do(ctx, http.MethodPost, "/create", map[string]any{
		"playerName": playerName,
		"maxPlayers": maxPlayers,
	}, &out)
	return out, err
}

// JoinResult is the payload returned when joining a room.
type JoinResult struct {
	PlayerID string        `json:"playerId"`
	Players  []PlayerState `json:"players"`
}

// JoinGame joins an existing room by code.
func (a *APIClient) JoinGame(ctx context.Context, code, playerName string) (JoinResult, error) {
	if err := validateRoomCode(code); err != nil {
		return JoinResult{}, err
	}
	if err := validatePlayerName(playerName); err != nil {
		return JoinResult{}, err
	}
	var out JoinResult
	err := a.do(ctx, http.MethodPost, "/join", map[string]any{
		"gameCode":   code,
		"playerName": playerName,
	}, &out)
	return out, err
}

// GameState fetches the authoritative room snapshot. Used on initial load,
// on explicit retry, and immediately after every successful reconnect.
func (a *APIClient) GameState(ctx context.Context, code string) (GameSnapshot, error) {
	if err := validateRoomCode(code); err != nil {
		return GameSnapshot{}, err
	}
	var out GameSnapshot
	err := a.do(ctx, http.MethodGet, "/"+code, nil, &out)
	return out, err
}

// StartGame asks the server to start the game. Host only.
func (a *APIClient) StartGame(ctx context.Context, code, hostID string) error {
	return a.do(ctx, http.MethodPost, "/"+code+"/start", map[string]any{
		"hostId": hostID,
	}, nil)
}

// Prediction is one player's guess about another player's choice.
type Prediction struct {
	TargetPlayerID  string `json:"targetPlayerId"`
	PredictedChoice string `json:"predictedChoice"`
}

// SubmitPredictions submits this player's predictions for the round.
func (a *APIClient) SubmitPredictions(ctx context.Context, code, playerID string, predictions []Prediction) error {
	return a.do(ctx, http.MethodPost, "/"+code+"/predictions", map[string]any{
		"playerId":    playerID,
		"predictions": predictions,
	}, nil)
}

// SubmitAnswer submits the active player's answer for the round.
func (a *APIClient) SubmitAnswer(ctx context.Context, code, playerID, answer string) error {
	return a.do(ctx, http.MethodPost, "/"+code+"/answer", map[string]any{
		"playerId": playerID,
		"answer":   answer,
	}, nil)
}

// Leaderboard fetches the current standings.
func (a *APIClient) Leaderboard(ctx context.Context, code string) ([]ScoreEntry, error) {
	var out struct {
		Leaderboard []ScoreEntry `json:"leaderboard"`
		Scoreboard  []ScoreEntry `json:"scoreboard"`
	}
	if err := a.do(ctx, http.MethodGet, "/"+code+"/leaderboard", nil, &out); err != nil {
		return nil, err
	}
	if out.Leaderboard != nil {
		return out.Leaderboard, nil
	}
	return out.Scoreboard, nil
}

// CurrentQuestion fetches the question for the round in progress.
func (a *APIClient) CurrentQuestion(ctx context.Context, code string) (*Question, error) {
	var out struct {
		Question *Question `json:"question"`
	}
	if err := a.do(ctx, http.MethodGet, "/"+code+"/question", nil, &out); err != nil {
		return nil, err
	}
	return out.Question, nil
}

// LeaveGame removes this player from the room.
func (a *APIClient) LeaveGame(ctx context.Context, code, playerID string) error {
	return a.do(ctx, http.MethodPost, "/"+code+"/leave", map[string]any{
		"playerId": playerID,
	}, nil)
}
