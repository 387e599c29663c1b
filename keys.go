package defrag

import (
	"encoding/binary"
	"hash/fnv"
)

// dataKey builds a Cache Data Tree key — (cacheId, hash(key), key) — so
// that two rows from different caches or with different keys never
// collide, while a given (cacheId, key) pair always sorts to the same
// place (spec §3 "keyed by (cacheId, hash, key) carrying link").
//
// cacheId's sign bit is not flipped, so the tree's byte order does not
// match cacheId's signed numeric order across zero — harmless here since
// nothing outside this tree's own Put/iteration relies on cross-cache
// ordering, only on a stable total order for its own keys.
func dataKey(cacheID int32, key []byte) []byte {
	h := fnv.New32a()
	_, _ = h.Write(key)

	buf := make([]byte, 4+4+len(key))
	binary.BigEndian.PutUint32(buf[0:], uint32(cacheID))
	binary.BigEndian.PutUint32(buf[4:], h.Sum32())
	copy(buf[8:], key)
	return buf
}

// pendingKey builds a Pending Entries Tree key — (cacheId, expireTime,
// link) — so entries come out sorted by expiry within a cache, the order
// TTL processing consumes them in (spec §3).
func pendingKey(cacheID int32, expireTime int64, link uint64) []byte {
	buf := make([]byte, 4+8+8)
	binary.BigEndian.PutUint32(buf[0:], uint32(cacheID))
	binary.BigEndian.PutUint64(buf[4:], uint64(expireTime))
	binary.BigEndian.PutUint64(buf[12:], link)
	return buf
}

func linkValue(link uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, link)
	return buf
}

func parseLinkValue(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
