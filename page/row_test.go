package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataRowMarshalRoundTrip(t *testing.T) {
	row := DataRow{
		CacheID:    7,
		Key:        []byte("hello"),
		Value:      []byte("world"),
		Version:    99,
		ExpireTime: 1234,
	}
	blob := row.Marshal(CodecFor(AlgoNone))
	got, err := Unmarshal(blob, CodecFor(AlgoNone))
	require.NoError(t, err)
	assert.Equal(t, row.CacheID, got.CacheID)
	assert.Equal(t, row.Key, got.Key)
	assert.Equal(t, row.Value, got.Value)
	assert.Equal(t, row.Version, got.Version)
	assert.Equal(t, row.ExpireTime, got.ExpireTime)
}

func TestDataRowMarshalCompressedOnlyWhenSmaller(t *testing.T) {
	row := DataRow{CacheID: 1, Key: []byte("k"), Value: []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")}
	blob := row.Marshal(CodecFor(AlgoSnappy))
	got, err := Unmarshal(blob, CodecFor(AlgoSnappy))
	require.NoError(t, err)
	assert.Equal(t, row.Value, got.Value)
}

func TestDataRowMarshalLZ4RoundTrip(t *testing.T) {
	row := DataRow{CacheID: 2, Key: []byte("lzkey"), Value: []byte("the quick brown fox jumps over the lazy dog, repeatedly, for compressibility")}
	blob := row.Marshal(CodecFor(AlgoLZ4))
	got, err := Unmarshal(blob, CodecFor(AlgoLZ4))
	require.NoError(t, err)
	assert.Equal(t, row.Value, got.Value)
}
