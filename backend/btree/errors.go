package btree

import "github.com/carmen-db/carmen/common"

// ErrNoPrevious is returned by Iterator.Previous when there is no entry
// before the current position.
var ErrNoPrevious = common.NewPreconditionError("btree: iterator has no previous entry")

// errNoPrevious is kept as the in-package alias used by iterator.go.
var errNoPrevious = ErrNoPrevious
