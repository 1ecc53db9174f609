package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/api"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	require.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var p api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, w.Code, p.Status)
	return p
}

func TestProblemWriters(t *testing.T) {
	cases := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		detail string
	}{
		{"bad request", func(w http.ResponseWriter) { api.WriteBadRequest(w, "field is missing") }, http.StatusBadRequest, "field is missing"},
		{"not found", func(w http.ResponseWriter) { api.WriteNotFound(w, "no record 9") }, http.StatusNotFound, "no record 9"},
		{"method", api.WriteMethodNotAllowed, http.StatusMethodNotAllowed, "method not supported on this route"},
		{"unauthorized default", func(w http.ResponseWriter) { api.WriteUnauthorized(w, "") }, http.StatusUnauthorized, "Authentication required"},
		{"conflict", func(w http.ResponseWriter) { api.WriteConflict(w, "drift", "PILGRIM/SENTINEL/HALTED") }, http.StatusConflict, "drift"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tc.write(w)
			require.Equal(t, tc.status, w.Code)
			p := decodeProblem(t, w)
			assert.Equal(t, http.StatusText(tc.status), p.Title)
			assert.Equal(t, tc.detail, p.Detail)
			assert.Equal(t, "https://pilgrim.schemas.local/errors/"+strconv.Itoa(tc.status), p.Type)
		})
	}
}

func TestWriteProblem_CarriesRequestContext(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-42")
	r := httptest.NewRequest(http.MethodPost, "/seal", nil)

	api.WriteProblem(w, r, http.StatusUnprocessableEntity, "bad intent", "PILGRIM/CORE/X")

	p := decodeProblem(t, w)
	assert.Equal(t, "/seal", p.Instance)
	assert.Equal(t, "req-42", p.TraceID)
	assert.Equal(t, "PILGRIM/CORE/X", p.Code)
	assert.Equal(t, "Unprocessable Entity", p.Title)
}

func TestWriteInternal_HidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("pq: connection refused to host=10.0.0.1"))

	p := decodeProblem(t, w)
	assert.Equal(t, http.StatusInternalServerError, p.Status)
	assert.NotContains(t, p.Detail, "10.0.0.1")
}

func TestWriteTooManyRequests_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 3)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestWriteUnauthorized_Challenge(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteUnauthorized(w, "token expired")
	assert.Equal(t, `Bearer realm="pilgrim"`, w.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "token expired", decodeProblem(t, w).Detail)
}
