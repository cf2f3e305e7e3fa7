package vlanregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTempSegmentDir(t *testing.T) {
	t.Helper()
	orig := segmentDir
	segmentDir = t.TempDir()
	t.Cleanup(func() { segmentDir = orig })
}

func withAllPidsAlive(t *testing.T) {
	t.Helper()
	orig := pidExists
	pidExists = func(pid int32) (bool, error) { return true, nil }
	t.Cleanup(func() { pidExists = orig })
}

func TestAcquire_FirstUserReportsWasEmpty(t *testing.T) {
	withTempSegmentDir(t)
	withAllPidsAlive(t)
	r := Open("eth0", 10, nil)

	wasEmpty, err := r.Acquire(1001)
	require.NoError(t, err)
	assert.True(t, wasEmpty)

	wasEmpty, err = r.Acquire(1002)
	require.NoError(t, err)
	assert.False(t, wasEmpty)
}

func TestAcquire_SamePidTwiceIsIdempotent(t *testing.T) {
	withTempSegmentDir(t)
	withAllPidsAlive(t)
	r := Open("eth0", 10, nil)

	_, err := r.Acquire(2001)
	require.NoError(t, err)
	wasEmpty, err := r.Acquire(2001)
	require.NoError(t, err)
	assert.False(t, wasEmpty)

	pids, err := readSegment(r.path)
	require.NoError(t, err)
	assert.Equal(t, []int32{2001}, pids)
}

func TestAcquire_TooManyUsers(t *testing.T) {
	withTempSegmentDir(t)
	withAllPidsAlive(t)
	r := Open("eth0", 10, nil)

	for i := 0; i < capacity; i++ {
		_, err := r.Acquire(3000 + i)
		require.NoError(t, err)
	}
	_, err := r.Acquire(4000)
	assert.Error(t, err)
}

func TestRelease_LastUserReportsBecameEmpty(t *testing.T) {
	withTempSegmentDir(t)
	withAllPidsAlive(t)
	r := Open("eth0", 10, nil)

	_, err := r.Acquire(5001)
	require.NoError(t, err)
	_, err = r.Acquire(5002)
	require.NoError(t, err)

	becameEmpty, err := r.Release(5001)
	require.NoError(t, err)
	assert.False(t, becameEmpty)

	becameEmpty, err = r.Release(5002)
	require.NoError(t, err)
	assert.True(t, becameEmpty)
}

func TestRelease_PrunesStaleRecords(t *testing.T) {
	withTempSegmentDir(t)
	r := Open("eth0", 10, nil)

	orig := pidExists
	pidExists = func(pid int32) (bool, error) { return true, nil }
	_, err := r.Acquire(6001)
	require.NoError(t, err)
	_, err = r.Acquire(6002)
	require.NoError(t, err)
	pidExists = orig

	// 6001 is now reported dead; releasing 6002 should prune 6001 too and
	// report becameEmpty.
	pidExists = func(pid int32) (bool, error) { return pid != 6001, nil }
	t.Cleanup(func() { pidExists = orig })

	becameEmpty, err := r.Release(6002)
	require.NoError(t, err)
	assert.True(t, becameEmpty)
}

func TestAcquire_RereadsFileAfterRestart(t *testing.T) {
	withTempSegmentDir(t)
	withAllPidsAlive(t)
	r1 := Open("eth0", 10, nil)
	_, err := r1.Acquire(7001)
	require.NoError(t, err)

	r2 := Open("eth0", 10, nil)
	wasEmpty, err := r2.Acquire(7002)
	require.NoError(t, err)
	assert.False(t, wasEmpty, "a second Registry handle for the same (nic,vlanId) must see the first process's record")
}
