package training

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), ".train.lock")
}

func TestAcquireLock_SucceedsWhenNoLockExists(t *testing.T) {
	path := lockPath(t)

	ok, err := acquireLock(path, LockSubprocess, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, path)
}

// Scenario 7: a second acquire against a live, fresh lock fails outright
// (the subprocess contract maps this to exit code 2, "lock held").
func TestAcquireLock_FailsWhenLiveLockHeldByAnotherProcess(t *testing.T) {
	path := lockPath(t)

	ok, err := acquireLock(path, LockSubprocess, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok2, err := acquireLock(path, LockSubprocess, 1)
	require.NoError(t, err)
	assert.False(t, ok2, "second acquire must fail while the first lock is live")
}

// Scenario 8: a lock recording a dead pid, older than the stale threshold,
// is reclaimed and the next acquire succeeds.
func TestAcquireLock_ReclaimsStaleLockWithDeadPID(t *testing.T) {
	path := lockPath(t)

	deadPID := findDeadPID(t)
	body := fmt.Sprintf("pid=%d\ncreated_at=%s\nhostname=h\ntype=subprocess\n",
		deadPID, time.Now().Add(-3*time.Hour).UTC().Format(time.RFC3339))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	ok, err := acquireLock(path, LockSubprocess, 1)
	require.NoError(t, err)
	assert.True(t, ok, "lock with a dead pid older than the stale threshold must be reclaimed")
}

func TestAcquireLock_ReclaimsLockOlderThanStaleAgeEvenIfPidAlive(t *testing.T) {
	path := lockPath(t)

	body := fmt.Sprintf("pid=%d\ncreated_at=%s\nhostname=h\ntype=subprocess\n",
		os.Getpid(), time.Now().Add(-3*time.Hour).UTC().Format(time.RFC3339))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	ok, err := acquireLock(path, LockSubprocess, 1)
	require.NoError(t, err)
	assert.True(t, ok, "age alone must trigger reclamation regardless of pid liveness")
}

func TestAcquireLock_TakesOverSchedulerOwnedLockFromParent(t *testing.T) {
	path := lockPath(t)

	body := fmt.Sprintf("pid=%d\ncreated_at=%s\nhostname=h\ntype=scheduler\n",
		os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	ok, err := acquireLock(path, LockSubprocess, os.Getpid())
	require.NoError(t, err)
	assert.True(t, ok, "a subprocess must take over a live scheduler lock created by its own parent")
}

func TestAcquireLock_DoesNotTakeOverSchedulerLockFromUnrelatedProcess(t *testing.T) {
	path := lockPath(t)

	body := fmt.Sprintf("pid=%d\ncreated_at=%s\nhostname=h\ntype=scheduler\n",
		os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	ok, err := acquireLock(path, LockSubprocess, os.Getpid()+999999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseLock_RemovesFile(t *testing.T) {
	path := lockPath(t)

	ok, err := acquireLock(path, LockSubprocess, 1)
	require.NoError(t, err)
	require.True(t, ok)

	releaseLock(path)
	assert.NoFileExists(t, path)
}

// findDeadPID returns a pid very unlikely to be alive, for stale-lock
// reclamation tests that must not depend on real process liveness.
func findDeadPID(t *testing.T) int {
	t.Helper()
	return 1 << 24 // far beyond any real pid on a normal system
}
