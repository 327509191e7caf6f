package monitor

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/artifact"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/cache"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/pipeline"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/testutil"
)

const testLockName = "Lock.lck"

// testLogger returns a debug-level logger that writes to t.Log,
// so all activity appears in CI output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// transitionRecorder collects the statuses the store logs for each path,
// in order: the status a row is inserted with, then every update.
type transitionRecorder struct {
	mu   sync.Mutex
	seen map[string][]cache.Status
}

func (r *transitionRecorder) of(path string) []cache.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]cache.Status(nil), r.seen[path]...)
}

// recordingHandler feeds store log records into a transitionRecorder and
// passes them on.
type recordingHandler struct {
	rec  *transitionRecorder
	next slog.Handler
}

func (h *recordingHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l)
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	key := ""

	switch r.Message {
	case "file cached":
		key = "status"
	case "updating status":
		key = "to"
	}

	if key != "" {
		var path, status string

		r.Attrs(func(a slog.Attr) bool {
			switch a.Key {
			case "path":
				path = a.Value.String()
			case key:
				status = a.Value.String()
			}

			return true
		})

		h.rec.mu.Lock()
		h.rec.seen[path] = append(h.rec.seen[path], cache.Status(status))
		h.rec.mu.Unlock()
	}

	return h.next.Handle(ctx, r)
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{rec: h.rec, next: h.next.WithAttrs(attrs)}
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	return &recordingHandler{rec: h.rec, next: h.next.WithGroup(name)}
}

// fakePipeline records every export request.
type fakePipeline struct {
	mu    sync.Mutex
	calls []pipeline.Request
	err   error
}

func (f *fakePipeline) Export(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)
	if f.err != nil {
		return pipeline.Result{}, f.err
	}

	return pipeline.Result{Artifacts: []string{filepath.Join(req.OutputDir, "chats", "1.txt")}}, nil
}

func (f *fakePipeline) requests() []pipeline.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]pipeline.Request(nil), f.calls...)
}

type testEnv struct {
	ex          *testutil.Extraction
	store       *cache.Store
	pipe        *fakePipeline
	engine      *Engine
	output      string
	transitions *transitionRecorder
}

type envOption func(*EngineConfig)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	ex := testutil.NewExtraction(t)

	rec := &transitionRecorder{seen: make(map[string][]cache.Status)}
	storeLogger := slog.New(&recordingHandler{rec: rec, next: testLogger(t).Handler()})

	store, err := cache.Open(context.Background(), filepath.Join(t.TempDir(), cache.DBFileName), storeLogger)
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	pipe := &fakePipeline{}
	output := t.TempDir()

	cfg := &EngineConfig{
		Classifier:        artifact.NewClassifier(ex.Root, testLockName),
		Store:             store,
		Pipeline:          pipe,
		OutputDir:         output,
		Style:             pipeline.StyleFormattedText,
		ConversationTypes: pipeline.AllConversationTypes,
		Logger:            testLogger(t),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	return &testEnv{ex: ex, store: store, pipe: pipe, engine: engine, output: output, transitions: rec}
}

// arrive replays a create event for a file already written to disk.
func (env *testEnv) arrive(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, env.engine.HandleCreated(context.Background(), path))
}

func (env *testEnv) depart(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, env.engine.HandleDeleted(context.Background(), path))
}

func (env *testEnv) status(t *testing.T, path string) cache.Status {
	t.Helper()

	e, ok, err := env.store.Get(context.Background(), path)
	require.NoError(t, err)
	require.True(t, ok, "no cache row for %s", path)

	return e.Status
}

func (env *testEnv) known(t *testing.T, path string) bool {
	t.Helper()

	ok, err := env.store.IsKnown(context.Background(), path)
	require.NoError(t, err)

	return ok
}

func (env *testEnv) rows(t *testing.T) int {
	t.Helper()

	all, err := env.store.All(context.Background())
	require.NoError(t, err)

	return len(all)
}

func (env *testEnv) requireStatus(t *testing.T, want cache.Status, paths ...string) {
	t.Helper()

	for _, p := range paths {
		require.Equal(t, want, env.status(t, p), "status of %s", p)
	}
}

// write creates one of the four dataset files on disk. kind is one of
// "msgstore", "msgstore.json", "wa", "wa.json".
func (env *testEnv) write(t *testing.T, session, kind, location string) string {
	t.Helper()

	switch kind {
	case "msgstore":
		return env.ex.WriteData(session, "1-msgstore.db")
	case "msgstore.json":
		return env.ex.WriteMetadata(session, "1-msgstore.db", "msgstore.db", location)
	case "wa":
		return env.ex.WriteData(session, "1-wa.db")
	case "wa.json":
		return env.ex.WriteMetadata(session, "1-wa.db", "wa.db", location)
	default:
		t.Fatalf("unknown dataset file kind %q", kind)
		return ""
	}
}
