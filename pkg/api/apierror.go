// Package api is the PILGRIM HTTP bridge: RFC 7807 Problem Detail errors,
// rate limiting and the chi router over the attestation service.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

const (
	problemTypeBase = "https://pilgrim.schemas.local/errors/"
	problemJSON     = "application/problem+json"
	requestIDHeader = "X-Request-ID"
)

// ProblemDetail is an RFC 7807 error body. Every non-2xx answer from the
// bridge except /verify and /receipts/verify verdicts is one of these.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// TraceID echoes the request id so operators can find the log line.
	TraceID string `json:"trace_id,omitempty"`
	// Code is a PILGRIM/... error code when the failure has one.
	Code string `json:"code,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%d %s: %s", p.Status, p.Title, p.Detail)
}

func newProblem(status int, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   problemTypeBase + strconv.Itoa(status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

func (p *ProblemDetail) write(w http.ResponseWriter) {
	if p.TraceID == "" {
		p.TraceID = w.Header().Get(requestIDHeader)
	}
	w.Header().Set("Content-Type", problemJSON)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteProblem answers r with status. The title is the standard status text;
// code may be empty.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail, code string) {
	p := newProblem(status, detail)
	p.Code = code
	if r != nil {
		p.Instance = r.URL.Path
	}
	p.write(w)
}

func WriteBadRequest(w http.ResponseWriter, detail string) {
	newProblem(http.StatusBadRequest, detail).write(w)
}

// WriteUnauthorized also sets the Bearer challenge header.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="pilgrim"`)
	newProblem(http.StatusUnauthorized, detail).write(w)
}

func WriteNotFound(w http.ResponseWriter, detail string) {
	newProblem(http.StatusNotFound, detail).write(w)
}

func WriteMethodNotAllowed(w http.ResponseWriter) {
	newProblem(http.StatusMethodNotAllowed, "method not supported on this route").write(w)
}

// WriteConflict reports drift or a halt.
func WriteConflict(w http.ResponseWriter, detail, code string) {
	p := newProblem(http.StatusConflict, detail)
	p.Code = code
	p.write(w)
}

func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	newProblem(http.StatusTooManyRequests, "rate limit exceeded").write(w)
}

// WriteInternal logs err and answers with a generic 500. The client never
// sees err.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("api: internal error", "error", err, "request_id", w.Header().Get(requestIDHeader))
	newProblem(http.StatusInternalServerError, "internal error").write(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
