package linkmap

import (
	"testing"

	"defrag/page"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *page.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := page.Create(dir+"/part-map-0.bin", page.FlagData, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLinkMapPutGet(t *testing.T) {
	store := newTestStore(t)
	lm, err := Create(store)
	require.NoError(t, err)

	require.NoError(t, lm.Put(100, 9000))
	require.NoError(t, lm.Put(200, 9100))

	v, ok, err := lm.Get(100)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 9000, v)

	_, ok, err = lm.Get(999)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLinkMapOverwrite(t *testing.T) {
	store := newTestStore(t)
	lm, err := Create(store)
	require.NoError(t, err)

	require.NoError(t, lm.Put(1, 10))
	require.NoError(t, lm.Put(1, 20))

	v, ok, err := lm.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 20, v)
}

func TestLinkMapReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := page.Create(dir+"/part-map-0.bin", page.FlagData, nil)
	require.NoError(t, err)

	lm, err := Create(store)
	require.NoError(t, err)
	require.NoError(t, lm.Put(42, 4242))
	require.NoError(t, store.Sync())
	require.NoError(t, store.Close())

	store2, err := page.Open(dir+"/part-map-0.bin", page.FlagData, nil)
	require.NoError(t, err)
	defer store2.Close()

	lm2, err := Open(store2)
	require.NoError(t, err)

	v, ok, err := lm2.Get(42)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 4242, v)
}
