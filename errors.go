/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"time"
)

const logDate string = `2006-01-02T15:04:05.000-07:00`

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

// Error kinds surfaced to the user. Transient kinds (network, channel) never
// evict the player from a session; only an explicit leave or an invalid room
// code redirects away from the game.
var (
	// ErrNetworkUnavailable means the request failed before any response
	// was received.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrServerRejected means the server answered non-2xx with a
	// parseable message.
	ErrServerRejected = errors.New("server rejected request")

	// ErrServerRejectedOpaque means the server answered non-2xx with a
	// body that could not be parsed, or a 2xx body that was not valid JSON.
	ErrServerRejectedOpaque = errors.New("server returned an unreadable response")

	// ErrChannelDisconnected means the event channel is down and the
	// reconnect budget has been exhausted.
	ErrChannelDisconnected = errors.New("event channel disconnected")

	// ErrValidationFailed means local input constraints were violated;
	// no network call is made for these.
	ErrValidationFailed = errors.New("validation failed")

	// errNoSession means resume was requested with nothing persisted.
	errNoSession = errors.New("no stored session to resume")
)

// apiError carries the HTTP status and server message alongside its kind,
// so callers can match with errors.Is while still showing the server's text.
type apiError struct {
	kind    error
	status  int
	message string
}

func (e *apiError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", e.kind.Error(), e.status, e.message)
	}
	if e.status != 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.kind.Error(), e.status)
	}
	return e.kind.Error()
}

func (e *apiError) Unwrap() error {
	return e.kind
}
