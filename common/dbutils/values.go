package dbutils

import (
	"encoding/binary"

	"github.com/carmen-db/carmen/common"
)

// AccountStateLen is the encoded width of an account-state value.
const AccountStateLen = 5

// EncodeAccountState encodes {exists, reincarnation} as
// [exists:1][reincarnation:4BE].
func EncodeAccountState(exists bool, r common.ReincarnationNumber) []byte {
	v := make([]byte, AccountStateLen)
	if exists {
		v[0] = 1
	}
	binary.BigEndian.PutUint32(v[1:], uint32(r))
	return v
}

// DecodeAccountState is the inverse of EncodeAccountState. It returns an
// InvalidArgumentError-flavoured ok=false if v has the wrong length.
func DecodeAccountState(v []byte) (exists bool, r common.ReincarnationNumber, ok bool) {
	if len(v) != AccountStateLen {
		return false, 0, false
	}
	return v[0] != 0, common.ReincarnationNumber(binary.BigEndian.Uint32(v[1:])), true
}
