package page

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAcquireReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-0.bin")
	s, err := Create(path, FlagData, nil)
	require.NoError(t, err)
	defer s.Close()
	idx, err := s.Allocate()
	require.NoError(t, err)

	mem := NewMemory()
	mem.AddStore(1, 0, FlagData, s)

	pinned, err := mem.Acquire(1, NewID(0, FlagData, idx))
	require.NoError(t, err)

	buf, err := pinned.WriteLock()
	require.NoError(t, err)
	buf[0] = 0xAB
	require.NoError(t, pinned.WriteUnlock(true))

	out := make([]byte, Size)
	require.NoError(t, s.ReadPage(idx, out))
	assert.EqualValues(t, 0xAB, out[0])
}

func TestMemoryAcquireReadLockSeesWrittenBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-0.bin")
	s, err := Create(path, FlagData, nil)
	require.NoError(t, err)
	defer s.Close()
	idx, err := s.Allocate()
	require.NoError(t, err)

	buf := make([]byte, Size)
	buf[0] = 0xCD
	require.NoError(t, s.WritePage(idx, buf))

	mem := NewMemory()
	mem.AddStore(1, 0, FlagData, s)

	pinned, err := mem.Acquire(1, NewID(0, FlagData, idx))
	require.NoError(t, err)

	read, err := pinned.ReadLock()
	require.NoError(t, err)
	assert.EqualValues(t, 0xCD, read[0])
	pinned.ReadUnlock()
	pinned.Release()
}

func TestMemoryAcquireUnknownStore(t *testing.T) {
	mem := NewMemory()
	_, err := mem.Acquire(1, NewID(0, FlagData, 0))
	assert.Error(t, err)
}

func TestMemoryClearGroupAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-0.bin")
	s, err := Create(path, FlagData, nil)
	require.NoError(t, err)

	mem := NewMemory()
	mem.AddStore(5, 0, FlagData, s)
	require.NoError(t, mem.ClearGroupAndClose(5))

	_, err = mem.Acquire(5, NewID(0, FlagData, 0))
	assert.Error(t, err)

	// A store closed by ClearGroupAndClose releases its flock, so a fresh
	// Open of the same path should succeed.
	reopened, err := Open(path, FlagData, nil)
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}

func TestMemorySyncAll(t *testing.T) {
	path1 := filepath.Join(t.TempDir(), "part-0.bin")
	path2 := filepath.Join(t.TempDir(), "part-1.bin")
	s1, err := Create(path1, FlagData, nil)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := Create(path2, FlagData, nil)
	require.NoError(t, err)
	defer s2.Close()

	mem := NewMemory()
	mem.AddStore(1, 0, FlagData, s1)
	mem.AddStore(1, 1, FlagData, s2)
	assert.NoError(t, mem.SyncAll())
}
