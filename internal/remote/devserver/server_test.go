package devserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabhalearn/edusync/internal/logging"
	"github.com/nabhalearn/edusync/internal/remote"
)

type downStore struct{ *remote.MemoryStore }

func (downStore) Ping(ctx context.Context) error {
	return remote.Transient("ping", "", "", errors.New("maintenance"))
}

func serve(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_health(t *testing.T) {
	s := New(remote.NewMemoryStore(), logging.Discard())
	rec := serve(t, s, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	down := New(downStore{remote.NewMemoryStore()}, logging.Discard())
	rec = serve(t, down, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "maintenance")
}

func TestServer_upsertAndDelete(t *testing.T) {
	backend := remote.NewMemoryStore()
	s := New(backend, logging.Discard())

	rec := serve(t, s, http.MethodPut, "/api/v1/lesson_attendance/la1", `{"id":"la1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := backend.Get("lesson_attendance", "la1")
	assert.True(t, ok)

	rec = serve(t, s, http.MethodDelete, "/api/v1/lesson_attendance/la1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, backend.IDs("lesson_attendance"))
}

func TestServer_rejectsBadRequests(t *testing.T) {
	backend := remote.NewMemoryStore()
	s := New(backend, logging.Discard())

	rec := serve(t, s, http.MethodPut, "/api/v1/scores/sc1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, s, http.MethodPut, "/api/v1/grades/g1", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, s, http.MethodPut, "/api/v1/scores/sc1", `{"pad":"`+strings.Repeat("x", maxBodyBytes)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	assert.Zero(t, backend.Calls())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(remote.Rejected("upsert", "c", "1", http.StatusConflict, nil)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(remote.Rejected("upsert", "c", "1", 0, nil)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(remote.Transient("upsert", "c", "1", nil)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(errors.New("boom")))
}
