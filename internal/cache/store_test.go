package cache

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

// newTestStore opens a Store in a temp directory and closes it on cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), DBFileName)

	s, err := Open(context.Background(), dbPath, testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})

	return s
}

func TestOpen_CreatesSchema(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	db, err := sql.Open("sqlite", "file:"+s.Path())
	require.NoError(t, err)
	defer db.Close()

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='file_cache'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "file_cache", name)
}

func TestOpen_Reopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), DBFileName)

	s, err := Open(ctx, dbPath, testLogger(t))
	require.NoError(t, err)

	_, err = s.Add(ctx, "/w/a/1-wa.db", StatusWaiting)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, dbPath, testLogger(t))
	require.NoError(t, err)
	defer s.Close()

	e, ok, err := s.Get(ctx, "/w/a/1-wa.db")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusWaiting, e.Status)
}

func TestAdd_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	added, err := s.Add(ctx, "/w/a/1-wa.db", StatusNew)
	require.NoError(t, err)
	assert.True(t, added)

	require.NoError(t, s.SetStatus(ctx, "/w/a/1-wa.db", StatusWaiting))

	added, err = s.Add(ctx, "/w/a/1-wa.db", StatusNew)
	require.NoError(t, err)
	assert.False(t, added)

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusWaiting, all[0].Status, "duplicate add must not reset status")
}

func TestAdd_KeyIsDirectoryAndName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Add(ctx, "/w/a/1-wa.db", StatusNew)
	require.NoError(t, err)
	_, err = s.Add(ctx, "/w/b/1-wa.db", StatusNew)
	require.NoError(t, err)
	_, err = s.Add(ctx, "/w/a/../a/1-wa.db", StatusNew)
	require.NoError(t, err)

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "/w/a", all[0].Directory)
	assert.Equal(t, "1-wa.db", all[0].FileName)
	assert.Equal(t, "/w/a/1-wa.db", all[0].Path())
}

func TestIsKnown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	known, err := s.IsKnown(ctx, "/w/a/1-wa.db")
	require.NoError(t, err)
	assert.False(t, known)

	_, err = s.Add(ctx, "/w/a/1-wa.db", StatusNew)
	require.NoError(t, err)

	known, err = s.IsKnown(ctx, "/w/a/1-wa.db")
	require.NoError(t, err)
	assert.True(t, known)
}

func TestSetStatus_UpdatesTimestamp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.nowFunc = func() time.Time { return base }

	_, err := s.Add(ctx, "/w/a/1-wa.db", StatusNew)
	require.NoError(t, err)

	s.nowFunc = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, s.SetStatus(ctx, "/w/a/1-wa.db", StatusCompleted))

	e, ok, err := s.Get(ctx, "/w/a/1-wa.db")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, e.Status)
	assert.True(t, e.UpdatedAt.Equal(base.Add(time.Minute)))
}

func TestSetStatus_UnknownPathIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SetStatus(ctx, "/w/missing", StatusCompleted))

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpsert_InsertsAndUpdates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, "/w/a/1-wa.db", StatusProcessing))
	require.NoError(t, s.Upsert(ctx, "/w/a/1-wa.db", StatusCompleted))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusCompleted, all[0].Status)
}

func TestRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Add(ctx, "/w/a/1-wa.db", StatusNew)
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, "/w/a/1-wa.db"))
	require.NoError(t, s.Remove(ctx, "/w/a/1-wa.db"))

	known, err := s.IsKnown(ctx, "/w/a/1-wa.db")
	require.NoError(t, err)
	assert.False(t, known)
}

func TestListWaiting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	_, _ = s.Add(ctx, "/w/a/2-wa.db", StatusWaiting)
	_, _ = s.Add(ctx, "/w/a/1-wa.db", StatusWaiting)
	_, _ = s.Add(ctx, "/w/a/3-wa.db", StatusNew)
	_, _ = s.Add(ctx, "/w/b/1-wa.db", StatusWaiting)

	names, err := s.ListWaiting(ctx, "/w/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"1-wa.db", "2-wa.db"}, names)
}

func TestListUnder_SubtreeOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	_, _ = s.Add(ctx, "/w/dev/s1/1-wa.db", StatusOnHold)
	_, _ = s.Add(ctx, "/w/dev/s1/metadata/1-wa.db.json", StatusOnHold)
	_, _ = s.Add(ctx, "/w/dev/x", StatusOnHold)
	_, _ = s.Add(ctx, "/w/dev_other/s1/1-wa.db", StatusOnHold)
	_, _ = s.Add(ctx, "/w/dev/s2/1-wa.db", StatusWaiting)

	entries, err := s.ListUnder(ctx, "/w/dev", StatusOnHold)
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path())
	}

	assert.Equal(t, []string{
		"/w/dev/x",
		"/w/dev/s1/1-wa.db",
		"/w/dev/s1/metadata/1-wa.db.json",
	}, paths)
}

func TestRemoveByStatus_And_Counts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	_, _ = s.Add(ctx, "/w/a/1", StatusError)
	_, _ = s.Add(ctx, "/w/a/2", StatusError)
	_, _ = s.Add(ctx, "/w/a/3", StatusCompleted)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[StatusError])
	assert.Equal(t, 1, counts[StatusCompleted])
	assert.Equal(t, 0, counts[StatusOnHold])

	n, err := s.RemoveByStatus(ctx, StatusError)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	byStatus, err := s.ListByStatus(ctx, StatusError)
	require.NoError(t, err)
	assert.Empty(t, byStatus)
}

func TestDispatchLog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, st := range []Status{StatusCompleted, StatusError} {
		require.NoError(t, s.RecordDispatch(ctx, DispatchRecord{
			ID:           []string{"a", "b"}[i],
			DatasetKey:   "D/DEV/loc",
			MsgStorePath: "/w/m",
			ContactsPath: "/w/c",
			OutputDir:    "/out",
			Status:       st,
			Message:      []string{"", "boom"}[i],
			Artifacts:    3 - i*3,
			StartedAt:    start.Add(time.Duration(i) * time.Hour),
			FinishedAt:   start.Add(time.Duration(i)*time.Hour + time.Minute),
		}))
	}

	records, err := s.ListDispatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "b", records[0].ID)
	assert.Equal(t, StatusError, records[0].Status)
	assert.Equal(t, "boom", records[0].Message)
	assert.Equal(t, "a", records[1].ID)
	assert.Equal(t, 3, records[1].Artifacts)
	assert.Empty(t, records[1].Message)
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	st, err := ParseStatus("on_hold")
	require.NoError(t, err)
	assert.Equal(t, StatusOnHold, st)

	_, err = ParseStatus("done")
	assert.ErrorIs(t, err, ErrUnknownStatus)

	assert.True(t, StatusProcessing.Dispatched())
	assert.True(t, StatusError.Dispatched())
	assert.False(t, StatusWaiting.Dispatched())
}

func TestEscapeLike(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `/w/a\_b\%c\\d`, escapeLike(`/w/a_b%c\d`))
}
