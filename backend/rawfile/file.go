// Package rawfile implements the random-access byte file the page pool
// loads and stores pages through (spec.md §4.1, C2). It mirrors the shape of
// the C++ reference's backend/common/file.h: open/size/read/write/flush/close
// at byte offsets, growing the file on demand.
package rawfile

import (
	"os"

	"github.com/carmen-db/carmen/common"
)

// growChunkSize bounds how much zero-fill a single extending write performs
// at once, per spec.md §4.1.
const growChunkSize = 256 * 1024

// File is a random-access byte file with grow-on-write semantics. Reads
// past the current end of file return zeros instead of failing; writes that
// extend past the end of file are preceded by zero-filling the gap.
type File struct {
	f    *os.File
	size int64
}

// Open opens (creating if necessary) the file at path.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, common.NewIoError("failed to open raw file "+path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, common.NewIoError("failed to stat raw file "+path, err)
	}
	return &File{f: f, size: info.Size()}, nil
}

// Size returns the current logical size of the file.
func (rf *File) Size() int64 { return rf.size }

// Read fills buf with the bytes at offset. Positions at or past the current
// end of file yield zeros, never an error.
func (rf *File) Read(offset int64, buf []byte) error {
	if offset >= rf.size {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	n, err := rf.f.ReadAt(buf, offset)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	if err != nil && n < len(buf) {
		// A short read at the tail of the file is expected; anything else
		// is a genuine I/O fault.
		if info, statErr := rf.f.Stat(); statErr == nil && offset+int64(n) >= info.Size() {
			return nil
		}
		return common.NewIoError("failed to read raw file", err)
	}
	return nil
}

// Write stores buf at offset, zero-filling any gap between the current end
// of file and offset first, in chunks of at most 256 KiB.
func (rf *File) Write(offset int64, buf []byte) error {
	if offset > rf.size {
		if err := rf.growTo(offset); err != nil {
			return err
		}
	}
	if _, err := rf.f.WriteAt(buf, offset); err != nil {
		return common.NewIoError("failed to write raw file", err)
	}
	if end := offset + int64(len(buf)); end > rf.size {
		rf.size = end
	}
	return nil
}

func (rf *File) growTo(target int64) error {
	zeros := make([]byte, growChunkSize)
	for rf.size < target {
		n := target - rf.size
		if n > growChunkSize {
			n = growChunkSize
		}
		if _, err := rf.f.WriteAt(zeros[:n], rf.size); err != nil {
			return common.NewIoError("failed to zero-fill raw file", err)
		}
		rf.size += n
	}
	return nil
}

// Flush persists any OS-buffered writes to stable storage.
func (rf *File) Flush() error {
	if err := rf.f.Sync(); err != nil {
		return common.NewIoError("failed to flush raw file", err)
	}
	return nil
}

// Close flushes and releases the underlying file handle; a second Close
// returns nil. The other methods do not check for a closed file: after
// Close, Write and Flush return an I/O error, and Read returns an I/O error
// below the recorded size and zeros at or past it.
func (rf *File) Close() error {
	if rf.f == nil {
		return nil
	}
	if err := rf.Flush(); err != nil {
		rf.f.Close()
		rf.f = nil
		return err
	}
	err := rf.f.Close()
	rf.f = nil
	if err != nil {
		return common.NewIoError("failed to close raw file", err)
	}
	return nil
}
