package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/cache"
)

// Scenario C: a session lock appears between the second and third file.
func TestLockGate_HoldsUntilReleased(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	wa := env.write(t, "s1", "wa", "")
	env.arrive(t, wa)
	waMeta := env.write(t, "s1", "wa.json", "loc")
	env.arrive(t, waMeta)

	lock := env.ex.Lock(env.ex.SessionDir("s1"), testLockName)
	env.arrive(t, lock)
	env.requireStatus(t, cache.StatusCompleted, lock)

	msg := env.write(t, "s1", "msgstore", "")
	env.arrive(t, msg)
	msgMeta := env.write(t, "s1", "msgstore.json", "loc")
	env.arrive(t, msgMeta)

	env.requireStatus(t, cache.StatusOnHold, msg, msgMeta)
	env.requireStatus(t, cache.StatusWaiting, wa, waMeta)
	assert.Empty(t, env.pipe.requests())

	env.ex.Remove(lock)
	env.depart(t, lock)

	require.Len(t, env.pipe.requests(), 1)
	env.requireStatus(t, cache.StatusCompleted, wa, waMeta, msg, msgMeta)
	assert.False(t, env.known(t, lock))
}

func TestLockGate_ReleasedFilesPassThroughNew(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	wa := env.write(t, "s1", "wa", "")
	env.arrive(t, wa)
	waMeta := env.write(t, "s1", "wa.json", "loc")
	env.arrive(t, waMeta)

	lock := env.ex.Lock(env.ex.SessionDir("s1"), testLockName)
	env.arrive(t, lock)

	msg := env.write(t, "s1", "msgstore", "")
	env.arrive(t, msg)
	msgMeta := env.write(t, "s1", "msgstore.json", "loc")
	env.arrive(t, msgMeta)

	env.ex.Remove(lock)
	env.depart(t, lock)

	require.Len(t, env.pipe.requests(), 1)

	want := []cache.Status{cache.StatusOnHold, cache.StatusNew, cache.StatusProcessing, cache.StatusCompleted}
	assert.Equal(t, want, env.transitions.of(msg))
	assert.Equal(t, want, env.transitions.of(msgMeta))
}

func TestLockGate_OnHoldMemberBlocksDispatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	lock := env.ex.Lock(env.ex.SessionDir("s1"), testLockName)
	env.arrive(t, lock)

	msg := env.write(t, "s1", "msgstore", "")
	env.arrive(t, msg)
	env.requireStatus(t, cache.StatusOnHold, msg)

	// The marker is gone from disk but its removal has not been handled yet.
	env.ex.Remove(lock)

	msgMeta := env.write(t, "s1", "msgstore.json", "loc")
	env.arrive(t, msgMeta)
	wa := env.write(t, "s1", "wa", "")
	env.arrive(t, wa)
	waMeta := env.write(t, "s1", "wa.json", "loc")
	env.arrive(t, waMeta)

	assert.Empty(t, env.pipe.requests())
	env.requireStatus(t, cache.StatusOnHold, msg)

	env.depart(t, lock)

	require.Len(t, env.pipe.requests(), 1)
	env.requireStatus(t, cache.StatusCompleted, msg, msgMeta, wa, waMeta)
	assert.Equal(t,
		[]cache.Status{cache.StatusOnHold, cache.StatusNew, cache.StatusProcessing, cache.StatusCompleted},
		env.transitions.of(msg))
}

func TestLockGate_DeviceLockCoversAllSessions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	lock := env.ex.Lock(env.ex.DeviceDir(), testLockName)
	env.arrive(t, lock)

	ds := env.ex.WriteDataset("s1", "s2", "loc")
	for _, p := range ds.Paths() {
		env.arrive(t, p)
	}

	env.requireStatus(t, cache.StatusOnHold, ds.Paths()...)
	assert.Empty(t, env.pipe.requests())

	env.ex.Remove(lock)
	env.depart(t, lock)

	require.Len(t, env.pipe.requests(), 1)
	env.requireStatus(t, cache.StatusCompleted, ds.Paths()...)
}

func TestLockGate_SessionLockDoesNotCoverSiblings(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	lock := env.ex.Lock(env.ex.SessionDir("s1"), testLockName)
	env.arrive(t, lock)

	other := env.write(t, "s2", "wa", "")
	env.arrive(t, other)

	env.requireStatus(t, cache.StatusWaiting, other)
}

func TestLockGate_LockedMemberBlocksDispatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	lock := env.ex.Lock(env.ex.SessionDir("s2"), testLockName)
	env.arrive(t, lock)

	ds := env.ex.WriteDataset("s1", "s2", "loc")
	for _, p := range ds.Paths() {
		env.arrive(t, p)
	}

	assert.Empty(t, env.pipe.requests())
	env.requireStatus(t, cache.StatusWaiting, ds.MsgStore.Data, ds.MsgStore.Metadata)
	env.requireStatus(t, cache.StatusOnHold, ds.Contacts.Data, ds.Contacts.Metadata)

	env.ex.Remove(lock)
	env.depart(t, lock)

	require.Len(t, env.pipe.requests(), 1)
	env.requireStatus(t, cache.StatusCompleted, ds.Paths()...)
}

// The locked session's files were already waiting when the marker appeared,
// so releasing it promotes nothing; the dataset must still go out.
func TestLockGate_ReleaseReevaluatesWaitingDataset(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	msg := env.write(t, "s1", "msgstore", "")
	env.arrive(t, msg)
	msgMeta := env.write(t, "s1", "msgstore.json", "loc")
	env.arrive(t, msgMeta)
	env.requireStatus(t, cache.StatusWaiting, msg, msgMeta)

	lock := env.ex.Lock(env.ex.SessionDir("s1"), testLockName)
	env.arrive(t, lock)

	wa := env.write(t, "s2", "wa", "")
	env.arrive(t, wa)
	waMeta := env.write(t, "s2", "wa.json", "loc")
	env.arrive(t, waMeta)

	assert.Empty(t, env.pipe.requests())
	env.requireStatus(t, cache.StatusWaiting, msg, msgMeta, wa, waMeta)

	env.ex.Remove(lock)
	env.depart(t, lock)

	require.Len(t, env.pipe.requests(), 1)
	env.requireStatus(t, cache.StatusCompleted, msg, msgMeta, wa, waMeta)
}

func TestLockGate_ReleaseLeavesIncompleteDatasetWaiting(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	msg := env.write(t, "s1", "msgstore", "")
	env.arrive(t, msg)

	lock := env.ex.Lock(env.ex.SessionDir("s2"), testLockName)
	env.arrive(t, lock)
	env.ex.Remove(lock)
	env.depart(t, lock)

	assert.Empty(t, env.pipe.requests())
	env.requireStatus(t, cache.StatusWaiting, msg)
}

func TestLockGate_ReleaseDropsVanishedFiles(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	lock := env.ex.Lock(env.ex.SessionDir("s1"), testLockName)
	env.arrive(t, lock)

	wa := env.write(t, "s1", "wa", "")
	env.arrive(t, wa)
	env.requireStatus(t, cache.StatusOnHold, wa)

	env.ex.Remove(wa)
	env.ex.Remove(lock)
	env.depart(t, lock)

	assert.False(t, env.known(t, wa))
	assert.Equal(t, 0, env.rows(t))
}

func TestLockGate_ReleaseKeepsFilesUnderAnotherLock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	deviceLock := env.ex.Lock(env.ex.DeviceDir(), testLockName)
	env.arrive(t, deviceLock)

	sessionLock := env.ex.Lock(env.ex.SessionDir("s1"), testLockName)
	env.arrive(t, sessionLock)

	wa := env.write(t, "s1", "wa", "")
	env.arrive(t, wa)

	env.ex.Remove(sessionLock)
	env.depart(t, sessionLock)
	env.requireStatus(t, cache.StatusOnHold, wa)

	env.ex.Remove(deviceLock)
	env.depart(t, deviceLock)
	env.requireStatus(t, cache.StatusWaiting, wa)
}

func TestLockGate_DuplicateLockEventIsNoop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	lock := env.ex.Lock(env.ex.SessionDir("s1"), testLockName)
	env.arrive(t, lock)
	env.arrive(t, lock)

	assert.Equal(t, 1, env.rows(t))
	env.requireStatus(t, cache.StatusCompleted, lock)
}

func TestLockGate_FinishesInterruptedLockRow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	lock := env.ex.Lock(env.ex.SessionDir("s1"), testLockName)

	// A run stopped between inserting the marker and completing it.
	_, err := env.store.Add(context.Background(), lock, cache.StatusNew)
	require.NoError(t, err)

	env.arrive(t, lock)
	env.requireStatus(t, cache.StatusCompleted, lock)

	wa := env.write(t, "s1", "wa", "")
	env.arrive(t, wa)
	env.requireStatus(t, cache.StatusOnHold, wa)
}
