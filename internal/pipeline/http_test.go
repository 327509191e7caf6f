package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTP_ExportSuccess(t *testing.T) {
	t.Parallel()

	out := t.TempDir()

	var got exportRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		assert.NoError(t, os.WriteFile(filepath.Join(out, "contacts.txt"), []byte("x"), 0o644))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Script triggered successfully!","output":"done"}`))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, srv.Client(), 0, testLogger(t))

	res, err := h.Export(context.Background(), testRequest(out))
	require.NoError(t, err)

	assert.Equal(t, "/w/D/database/whatsapp/DEV/s1/1-msgstore.db", got.MsgStore)
	assert.Equal(t, "/w/D/database/whatsapp/DEV/s2/1-wa.db", got.Contacts)
	assert.Equal(t, out, got.Output)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, []string{filepath.Join(out, "contacts.txt")}, res.Artifacts)
}

func TestHTTP_ExportServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Traceback: no such table: messages"}`))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, nil, 0, testLogger(t))

	_, err := h.Export(context.Background(), testRequest(t.TempDir()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailed)

	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, http.StatusInternalServerError, f.StatusCode)
	assert.Equal(t, "Traceback: no such table: messages", f.Message)
}

func TestHTTP_ExportNonJSONError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, nil, 0, testLogger(t))

	_, err := h.Export(context.Background(), testRequest(t.TempDir()))
	assert.ErrorIs(t, err, ErrFailed)
	assert.ErrorContains(t, err, "bad gateway")
}

func TestHTTP_ExportUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h := NewHTTP(url, nil, 0, testLogger(t))

	_, err := h.Export(context.Background(), testRequest(t.TempDir()))
	assert.ErrorIs(t, err, ErrFailed)
}
