package btree

import (
	"encoding/binary"

	"github.com/carmen-db/carmen/common"
)

// FixedBytesCodec is a KeyCodec for any common fixed-width, big-endian
// comparable byte array wrapped in a [N]byte-backed type, via the
// to/from-bytes functions the common package already exposes (Address,
// Hash, Key, Value, ...).
type FixedBytesCodec[K any] struct {
	N      int
	ToK    func([]byte) K
	ToByte func(K) []byte
}

func (c FixedBytesCodec[K]) Size() int               { return c.N }
func (c FixedBytesCodec[K]) Encode(k K, buf []byte)   { copy(buf, c.ToByte(k)) }
func (c FixedBytesCodec[K]) Decode(buf []byte) K      { return c.ToK(common.CopyBytes(buf)) }
func (c FixedBytesCodec[K]) Compare(a, b K) int       { return compareBytes(c.ToByte(a), c.ToByte(b)) }

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// AddressCodec orders keys the way the archive's account indices do.
var AddressCodec = FixedBytesCodec[common.Address]{
	N:      common.AddressLength,
	ToK:    common.BytesToAddress,
	ToByte: common.Address.Bytes,
}

// HashCodec orders 32-byte hashes as fixed-width keys.
var HashCodec = FixedBytesCodec[common.Hash]{
	N:      common.HashLength,
	ToK:    common.BytesToHash,
	ToByte: common.Hash.Bytes,
}

// BytesValueCodec stores an opaque fixed-width byte value, e.g. Balance,
// Nonce, Value, or a raw encoded AccountState.
type BytesValueCodec struct{ N int }

func (c BytesValueCodec) Size() int             { return c.N }
func (c BytesValueCodec) Encode(v []byte, buf []byte) { copy(buf, v) }
func (c BytesValueCodec) Decode(buf []byte) []byte    { return common.CopyBytes(buf) }

// Uint32Codec orders keys/values as a plain big-endian uint32, used for
// block ids.
type Uint32Codec struct{}

func (Uint32Codec) Size() int { return 4 }
func (Uint32Codec) Encode(v uint32, buf []byte) { binary.BigEndian.PutUint32(buf, v) }
func (Uint32Codec) Decode(buf []byte) uint32    { return binary.BigEndian.Uint32(buf) }
func (Uint32Codec) Compare(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Unit is the zero-width value type used by OrderedSet.
type Unit struct{}

// UnitCodec encodes Unit as zero bytes, for sets where only the key
// matters.
type UnitCodec struct{}

func (UnitCodec) Size() int                { return 0 }
func (UnitCodec) Encode(Unit, []byte)      {}
func (UnitCodec) Decode([]byte) Unit       { return Unit{} }
