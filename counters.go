package defrag

import "encoding/binary"

// encodeCounters serializes a shared cache group's per-cache size map the
// way copyPartitionMeta's counters chain expects to find it (spec §4.5
// step 3, "shared-group per-cache sizes map").
func encodeCounters(m map[int32]uint64) []byte {
	buf := make([]byte, 4, 4+len(m)*12)
	binary.BigEndian.PutUint32(buf, uint32(len(m)))
	for cacheID, size := range m {
		var entry [12]byte
		binary.BigEndian.PutUint32(entry[0:], uint32(cacheID))
		binary.BigEndian.PutUint64(entry[4:], size)
		buf = append(buf, entry[:]...)
	}
	return buf
}

func decodeCounters(b []byte) map[int32]uint64 {
	if len(b) < 4 {
		return nil
	}
	n := binary.BigEndian.Uint32(b[0:])
	m := make(map[int32]uint64, n)
	off := 4
	for i := uint32(0); i < n && off+12 <= len(b); i++ {
		cacheID := int32(binary.BigEndian.Uint32(b[off:]))
		size := binary.BigEndian.Uint64(b[off+4:])
		m[cacheID] = size
		off += 12
	}
	return m
}
