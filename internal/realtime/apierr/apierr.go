// Package apierr defines the realtime pipeline's error taxonomy and the
// translation of those errors into HTTP responses. Each sentinel error
// corresponds to one of the error kinds in the system design: config,
// auth, protocol, upstream, decode, overload, and not-found failures.
// Handlers wrap causes with %w so callers can still unwrap to find the
// underlying problem while responding with the right status code.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	// ErrConfig marks a missing or invalid configuration value. Fatal at
	// startup; never returned from a running request path.
	ErrConfig = errors.New("config error")

	// ErrAuth marks a rejected bearer token or failed OAuth exchange.
	ErrAuth = errors.New("auth error")

	// ErrProtocol marks a malformed inbound payload (bad JSON, missing
	// required field). The offending message is dropped; processing
	// continues.
	ErrProtocol = errors.New("protocol error")

	// ErrUpstream marks a failed outbound call (5xx or network error) that
	// should be retried with backoff.
	ErrUpstream = errors.New("upstream unavailable")

	// ErrDecode marks a failure decoding base64, a codec payload, or a WAV
	// container.
	ErrDecode = errors.New("decode error")

	// ErrOverload marks a buffer or subscriber-channel saturation condition.
	ErrOverload = errors.New("overload")

	// ErrNotFound marks a missing alert or a missing audio recording with no
	// fallback available.
	ErrNotFound = errors.New("not found")
)

// body is the JSON shape for error responses: {"detail": "<human message>"}.
type body struct {
	Detail string `json:"detail"`
}

// StatusFor maps an error produced by this package to the HTTP status code
// spec.md §7 assigns it. Unrecognised errors map to 500.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrProtocol), errors.Is(err, ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOverload):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write sends err as a JSON {"detail": ...} body with the status code
// [StatusFor] derives from it.
func Write(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body{Detail: err.Error()})
}
