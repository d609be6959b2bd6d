// Package api provides RFC 7807 Problem Detail error responses for the BotNode trust services.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// ProblemDetail is an RFC 7807 body. Every error response of the trust
// services uses it; Kind carries the BotNode error taxonomy so callers can
// branch without parsing Detail. TraceID echoes X-Request-ID.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Kind     Kind   `json:"kind,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func problemType(status int) string {
	return fmt.Sprintf("https://botnode.dev/errors/%d", status)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   problemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
		Kind:   kindForStatus(status),
	})
}

// WriteErr renders any error through the taxonomy. Errors that were not
// classified at a boundary are treated as internal and never exposed.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		WriteInternal(w, err)
		return
	}
	if apiErr.Kind == KindInternal {
		WriteInternal(w, err)
		return
	}

	status := apiErr.Kind.Status()
	if apiErr.Kind == KindUpstreamUnavailable && apiErr.Err != nil {
		slog.Warn("upstream unavailable", "path", r.URL.Path, "error", apiErr.Err)
	}
	writeProblem(w, &ProblemDetail{
		Type:     problemType(status),
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   apiErr.Detail,
		Kind:     apiErr.Kind,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get(RequestIDHeader),
	})
}

func writeProblem(w http.ResponseWriter, problem *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteTooManyRequests writes a 429 with Retry-After.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal logs err and writes a generic 500; err never reaches the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}
