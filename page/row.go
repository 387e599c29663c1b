package page

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// UndefinedCacheID is the sentinel cacheId value written when a cache
// group does not inline cacheId per row (spec §3 "Data Row"). Named after
// Ignite's CU.UNDEFINED_CACHE_ID.
const UndefinedCacheID int32 = 0

// DataRow is the in-memory representation of a row copied between the old
// and new partitions (spec §3). Link is never part of the row's own wire
// encoding — it is the address the row is stored *at*, assigned by
// whichever free list allocates its bytes.
type DataRow struct {
	CacheID    int32
	Key        []byte
	Value      []byte
	Version    int64
	ExpireTime int64
	Link       uint64
}

type rowFlag uint8

const flagValueCompressed rowFlag = 1 << 0

// Marshal encodes the row as it is stored in free-list pages. Rows land in
// allocation order, not key order, so there is no adjacent-key prefix to
// exploit and the key is written whole; only the
// value is a candidate for compression, the same opportunistic
// "use it only if it shrinks" rule the teacher's KVPair.Marshal applies.
func (r DataRow) Marshal(codec Codec) []byte {
	var flag rowFlag
	value := r.Value
	if codec.Compress != nil && len(value) > 0 {
		compressed := codec.Compress(value)
		if len(compressed) < len(value) {
			value = compressed
			flag |= flagValueCompressed
		}
	}

	buf := &bytes.Buffer{}
	buf.WriteByte(byte(flag))

	var varintBuf [binary.MaxVarintLen64]byte
	writeUvarint := func(v uint64) {
		n := binary.PutUvarint(varintBuf[:], v)
		buf.Write(varintBuf[:n])
	}

	writeUvarint(uint64(len(r.Key)))
	buf.Write(r.Key)
	writeUvarint(uint64(len(value)))
	buf.Write(value)

	var numBuf [8]byte
	binary.LittleEndian.PutUint32(numBuf[:4], uint32(r.CacheID))
	buf.Write(numBuf[:4])
	binary.LittleEndian.PutUint64(numBuf[:], uint64(r.Version))
	buf.Write(numBuf[:])
	binary.LittleEndian.PutUint64(numBuf[:], uint64(r.ExpireTime))
	buf.Write(numBuf[:])

	return buf.Bytes()
}

// Unmarshal decodes a row previously written by Marshal. codec must match
// the one the row was compressed with (typically the cache group's
// configured codec).
func Unmarshal(data []byte, codec Codec) (DataRow, error) {
	if len(data) < 1 {
		return DataRow{}, errors.New("row data too short")
	}
	reader := bytes.NewReader(data)

	flagByte, _ := reader.ReadByte()
	flag := rowFlag(flagByte)

	keyLen, err := binary.ReadUvarint(reader)
	if err != nil {
		return DataRow{}, errors.Wrap(err, "failed to read key length")
	}
	key := make([]byte, keyLen)
	if _, err := readFull(reader, key); err != nil {
		return DataRow{}, errors.Wrap(err, "failed to read key")
	}

	valLen, err := binary.ReadUvarint(reader)
	if err != nil {
		return DataRow{}, errors.Wrap(err, "failed to read value length")
	}
	val := make([]byte, valLen)
	if _, err := readFull(reader, val); err != nil {
		return DataRow{}, errors.Wrap(err, "failed to read value")
	}

	if flag&flagValueCompressed != 0 {
		if codec.Decompress == nil {
			return DataRow{}, errors.New("row value is compressed but codec has no decompressor")
		}
		val, err = codec.Decompress(val)
		if err != nil {
			return DataRow{}, errors.Wrap(err, "failed to decompress value")
		}
	}

	var trailer [20]byte
	if _, err := readFull(reader, trailer[:]); err != nil {
		return DataRow{}, errors.Wrap(err, "failed to read row trailer")
	}

	return DataRow{
		CacheID:    int32(binary.LittleEndian.Uint32(trailer[0:4])),
		Key:        key,
		Value:      val,
		Version:    int64(binary.LittleEndian.Uint64(trailer[4:12])),
		ExpireTime: int64(binary.LittleEndian.Uint64(trailer[12:20])),
	}, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, errors.New("short read")
		}
	}
	return total, nil
}
