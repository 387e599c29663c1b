package tree

import (
	"fmt"
	"path/filepath"
	"testing"

	"defrag/page"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIteratorWalksInKeyOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	s, err := page.Create(path, page.FlagData, nil)
	require.NoError(t, err)
	defer s.Close()

	bt := New(s)
	const n = 300
	for i := n - 1; i >= 0; i-- {
		key := []byte(fmt.Sprintf("k-%05d", i))
		require.NoError(t, bt.Put(key, key))
	}

	it := NewIterator(page.Size)
	var seen []string
	err = it.Iterate(bt, nil, func(key, val []byte) (bool, error) {
		seen = append(seen, string(key))
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, seen, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("k-%05d", i), seen[i])
	}
}

func TestIteratorStopsEarly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	s, err := page.Create(path, page.FlagData, nil)
	require.NoError(t, err)
	defer s.Close()

	bt := New(s)
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("k-%05d", i))
		require.NoError(t, bt.Put(key, key))
	}

	it := NewIterator(page.Size)
	count := 0
	err = it.Iterate(bt, nil, func(key, val []byte) (bool, error) {
		count++
		return count < 10, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestIteratorCallsYieldPerEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	s, err := page.Create(path, page.FlagData, nil)
	require.NoError(t, err)
	defer s.Close()

	bt := New(s)
	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("k-%05d", i))
		require.NoError(t, bt.Put(key, key))
	}

	it := NewIterator(page.Size)
	yields := 0
	err = it.Iterate(bt, func() { yields++ }, func(key, val []byte) (bool, error) {
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 20, yields)
}

func TestIteratorOnEmptyTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	s, err := page.Create(path, page.FlagData, nil)
	require.NoError(t, err)
	defer s.Close()

	bt := New(s)
	it := NewIterator(page.Size)
	calls := 0
	err = it.Iterate(bt, nil, func(key, val []byte) (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}
