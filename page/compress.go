package page

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
)

// Algorithm identifies which Compressor/DeCompressor pair a cache group's
// row codec uses. Kept as a small enum, same role as the teacher's
// CompressAlgorithm in compress.go, generalized to be selectable per cache
// group rather than per whole file.
type Algorithm uint16

const (
	// AlgoNone disables value compression; rows are copied byte for byte.
	// The defragmentation invariants in spec §8 (identical rows modulo the
	// link) are easiest to satisfy with this default.
	AlgoNone Algorithm = iota
	AlgoSnappy
	AlgoLZ4
)

// Compressor mirrors the teacher's Compressor type: takes raw bytes,
// returns possibly-compressed bytes.
type Compressor func([]byte) []byte

// DeCompressor mirrors the teacher's DeCompressor type.
type DeCompressor func([]byte) ([]byte, error)

// Codec pairs a compressor and decompressor under a single Algorithm tag
// so the row codec can record which one a row used.
type Codec struct {
	Algo       Algorithm
	Compress   Compressor
	Decompress DeCompressor
}

var noneCodec = Codec{Algo: AlgoNone}

var snappyCodec = Codec{
	Algo: AlgoSnappy,
	Compress: func(in []byte) []byte {
		return snappy.Encode(nil, in)
	},
	Decompress: func(in []byte) ([]byte, error) {
		return snappy.Decode(nil, in)
	},
}

var lz4Codec = Codec{
	Algo: AlgoLZ4,
	Compress: func(in []byte) []byte {
		buf := &bytes.Buffer{}
		w := lz4.NewWriter(buf)
		w.NoChecksum = true
		if _, err := w.Write(in); err != nil {
			panic(err)
		}
		_ = w.Close()
		return buf.Bytes()
	},
	Decompress: func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		r := lz4.NewReader(bytes.NewReader(in))
		_, err := buf.ReadFrom(r)
		return buf.Bytes(), err
	},
}

// CodecFor returns the built-in Codec for the given Algorithm.
func CodecFor(a Algorithm) Codec {
	switch a {
	case AlgoSnappy:
		return snappyCodec
	case AlgoLZ4:
		return lz4Codec
	default:
		return noneCodec
	}
}
