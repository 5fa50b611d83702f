// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package common defines the fixed-width value types shared by the archive
// and the paged storage substrate: addresses, keys, hashes, and the
// byte-container primitives built on top of them.
package common

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

const (
	AddressLength = 20
	KeyLength     = 32
	ValueLength   = 32
	BalanceLength = 32
	NonceLength   = 8
	HashLength    = 32

	// IncarnationLength is the encoded width of a ReincarnationNumber when
	// it is embedded in a storage key.
	IncarnationLength = 4
)

// Address identifies an account. It is a fixed 20 byte value, ordered and
// compared lexicographically.
type Address [AddressLength]byte

func BytesToAddress(b []byte) (a Address) {
	copy(a[AddressLength-len(b):], b)
	return a
}

func (a Address) Bytes() []byte   { return a[:] }
func (a Address) Hex() string     { return "0x" + hex.EncodeToString(a[:]) }
func (a Address) String() string  { return a.Hex() }
func (a Address) Less(b Address) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

// Key identifies a storage slot within an account's storage.
type Key [KeyLength]byte

func BytesToKey(b []byte) (k Key) {
	copy(k[KeyLength-len(b):], b)
	return k
}
func (k Key) Bytes() []byte  { return k[:] }
func (k Key) Compare(o Key) int { return bytes.Compare(k[:], o[:]) }

// Value is the 32 byte content of a storage slot.
type Value [ValueLength]byte

func BytesToValue(b []byte) (v Value) {
	copy(v[ValueLength-len(b):], b)
	return v
}
func (v Value) Bytes() []byte { return v[:] }
func (v Value) IsZero() bool  { return v == Value{} }

// Balance is a 32 byte big-endian encoded account balance.
type Balance [BalanceLength]byte

func BytesToBalance(b []byte) (bal Balance) {
	copy(bal[BalanceLength-len(b):], b)
	return bal
}
func (b Balance) Bytes() []byte { return b[:] }

// Nonce is a 8 byte big-endian encoded account nonce.
type Nonce [NonceLength]byte

func BytesToNonce(b []byte) (n Nonce) {
	copy(n[NonceLength-len(b):], b)
	return n
}
func (n Nonce) Bytes() []byte { return n[:] }

// Hash is a 32 byte cryptographic digest, used both for the account diff
// hash chain and the per-block root hash.
type Hash [HashLength]byte

func BytesToHash(b []byte) (h Hash) {
	copy(h[HashLength-len(b):], b)
	return h
}
func (h Hash) Bytes() []byte   { return h[:] }
func (h Hash) Hex() string     { return "0x" + hex.EncodeToString(h[:]) }
func (h Hash) String() string  { return h.Hex() }
func (h Hash) IsZero() bool    { return h == Hash{} }
func (h Hash) Compare(o Hash) int { return bytes.Compare(h[:], o[:]) }

// Code is the variable-length bytecode of a contract account. It is ordered
// lexicographically the same way fixed-width values are.
type Code []byte

func (c Code) Compare(o Code) int { return bytes.Compare(c, o) }

// BlockId identifies a block in the archive. Blocks are added in strictly
// increasing order.
type BlockId uint32

// ReincarnationNumber counts how many times an account has been
// created/deleted. It starts at zero and increments by one on every
// subsequent create or delete of the same address.
type ReincarnationNumber uint32

// CopyBytes returns an independent copy of the given slice.
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

// StorageSize formats a byte count the way the teacher's logging does, e.g.
// for reporting page-pool and archive memory footprints.
type StorageSize float64

func (s StorageSize) String() string {
	if s > 1099511627776 {
		return fmt.Sprintf("%.2f TiB", s/1099511627776)
	} else if s > 1073741824 {
		return fmt.Sprintf("%.2f GiB", s/1073741824)
	} else if s > 1048576 {
		return fmt.Sprintf("%.2f MiB", s/1048576)
	} else if s > 1024 {
		return fmt.Sprintf("%.2f KiB", s/1024)
	}
	return fmt.Sprintf("%.2f B", s)
}
