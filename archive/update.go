// Package archive implements the verifiable, append-only per-block account
// history (spec.md §3-4, C8-C11): ordered per-block Updates are folded
// into per-account diff hashes, chained into a block hash, and persisted
// through a relational or ordered-KV backing.
package archive

import (
	"encoding/binary"
	"sort"

	"github.com/carmen-db/carmen/common"
)

// StorageWrite is one (slot, value) write within an account's update.
type StorageWrite struct {
	Slot  common.Key
	Value common.Value
}

// Update is the per-block delta (spec.md §4.7): ordered sets of account
// lifecycle changes and property/storage writes, each address or
// (address, slot) pair appearing at most once per kind.
type Update struct {
	DeletedAccounts []common.Address
	CreatedAccounts []common.Address
	Balances        map[common.Address]common.Balance
	Nonces          map[common.Address]common.Nonce
	Codes           map[common.Address]common.Code
	Storage         map[common.Address][]StorageWrite
}

// NewUpdate returns an empty Update ready for population.
func NewUpdate() *Update {
	return &Update{
		Balances: make(map[common.Address]common.Balance),
		Nonces:   make(map[common.Address]common.Nonce),
		Codes:    make(map[common.Address]common.Code),
		Storage:  make(map[common.Address][]StorageWrite),
	}
}

// Empty reports whether the update carries no changes at all. Empty
// updates are rejected by the engine: skipped silently, with no hash
// change (spec.md §4.7).
func (u *Update) Empty() bool {
	return len(u.DeletedAccounts) == 0 && len(u.CreatedAccounts) == 0 &&
		len(u.Balances) == 0 && len(u.Nonces) == 0 && len(u.Codes) == 0 &&
		len(u.Storage) == 0
}

// AccountUpdate is the canonical per-account view of an Update, joining
// every entry referring to one address (spec.md §4.7).
type AccountUpdate struct {
	Created bool
	Deleted bool

	HasBalance bool
	Balance    common.Balance

	HasNonce bool
	Nonce    common.Nonce

	HasCode bool
	Code    common.Code

	// Storage is ordered by Slot.
	Storage []StorageWrite
}

// Addresses returns every address touched by the update, sorted ascending
// so per-account processing has a deterministic, canonical order.
func (u *Update) Addresses() []common.Address {
	seen := make(map[common.Address]bool)
	var addrs []common.Address
	add := func(a common.Address) {
		if !seen[a] {
			seen[a] = true
			addrs = append(addrs, a)
		}
	}
	for _, a := range u.DeletedAccounts {
		add(a)
	}
	for _, a := range u.CreatedAccounts {
		add(a)
	}
	for a := range u.Balances {
		add(a)
	}
	for a := range u.Nonces {
		add(a)
	}
	for a := range u.Codes {
		add(a)
	}
	for a := range u.Storage {
		add(a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Compare(addrs[j]) < 0 })
	return addrs
}

// AccountUpdateFor joins every entry of u referring to a into one
// canonical AccountUpdate.
func (u *Update) AccountUpdateFor(a common.Address) AccountUpdate {
	var au AccountUpdate
	for _, d := range u.DeletedAccounts {
		if d == a {
			au.Deleted = true
			break
		}
	}
	for _, c := range u.CreatedAccounts {
		if c == a {
			au.Created = true
			break
		}
	}
	if b, ok := u.Balances[a]; ok {
		au.HasBalance = true
		au.Balance = b
	}
	if n, ok := u.Nonces[a]; ok {
		au.HasNonce = true
		au.Nonce = n
	}
	if c, ok := u.Codes[a]; ok {
		au.HasCode = true
		au.Code = c
	}
	if w, ok := u.Storage[a]; ok {
		au.Storage = append([]StorageWrite{}, w...)
		sort.Slice(au.Storage, func(i, j int) bool { return au.Storage[i].Slot.Compare(au.Storage[j].Slot) < 0 })
	}
	return au
}

// DiffHash computes the digest of au's canonical byte serialization
// (spec.md §4.7): a status byte, then present-flags and length-prefixed
// payloads for balance/nonce/code, then the ordered storage writes.
// Two updates with equal fields yield equal hashes.
func DiffHash(hasher common.Hasher, au AccountUpdate) common.Hash {
	return hasher.Sum(au.canonicalBytes())
}

func (au AccountUpdate) canonicalBytes() []byte {
	var buf []byte

	status := byte(0)
	if au.Deleted {
		status |= 1 << 0
	}
	if au.Created {
		status |= 1 << 1
	}
	buf = append(buf, status)

	buf = appendOptional(buf, au.HasBalance, au.Balance.Bytes())
	buf = appendOptional(buf, au.HasNonce, au.Nonce.Bytes())
	buf = appendOptional(buf, au.HasCode, []byte(au.Code))

	count := make([]byte, 4)
	binary.BigEndian.PutUint32(count, uint32(len(au.Storage)))
	buf = append(buf, count...)
	for _, w := range au.Storage {
		buf = append(buf, w.Slot.Bytes()...)
		buf = append(buf, w.Value.Bytes()...)
	}
	return buf
}

func appendOptional(buf []byte, present bool, payload []byte) []byte {
	if !present {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(payload)))
	buf = append(buf, length...)
	return append(buf, payload...)
}
