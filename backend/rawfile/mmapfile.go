package rawfile

import (
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/carmen-db/carmen/common"
)

// MMapFile is a read-mostly variant of File that memory-maps the current
// file content for zero-copy reads, falling back to the underlying os.File
// for writes and for any read past the mapped region. It is intended for
// archives that are queried far more often than they are appended to.
type MMapFile struct {
	f    *os.File
	m    mmap.MMap
	size int64
}

// OpenMMap opens path and maps its current content read-only.
func OpenMMap(path string) (*MMapFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, common.NewIoError("failed to open raw file "+path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, common.NewIoError("failed to stat raw file "+path, err)
	}
	mf := &MMapFile{f: f, size: info.Size()}
	if info.Size() > 0 {
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return nil, common.NewIoError("failed to mmap raw file "+path, err)
		}
		mf.m = m
	}
	return mf, nil
}

func (mf *MMapFile) Size() int64 { return mf.size }

func (mf *MMapFile) Read(offset int64, buf []byte) error {
	if mf.m != nil && offset+int64(len(buf)) <= int64(len(mf.m)) {
		copy(buf, mf.m[offset:offset+int64(len(buf))])
		return nil
	}
	if offset >= mf.size {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	n, err := mf.f.ReadAt(buf, offset)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	if err != nil && n < len(buf) {
		return common.NewIoError("failed to read mmap raw file", err)
	}
	return nil
}

// Write always goes through the underlying file; the mapping is refreshed
// on the next Flush so readers observe new content.
func (mf *MMapFile) Write(offset int64, buf []byte) error {
	if offset > mf.size {
		zeros := make([]byte, growChunkSize)
		for mf.size < offset {
			n := offset - mf.size
			if n > growChunkSize {
				n = growChunkSize
			}
			if _, err := mf.f.WriteAt(zeros[:n], mf.size); err != nil {
				return common.NewIoError("failed to zero-fill mmap raw file", err)
			}
			mf.size += n
		}
	}
	if _, err := mf.f.WriteAt(buf, offset); err != nil {
		return common.NewIoError("failed to write mmap raw file", err)
	}
	if end := offset + int64(len(buf)); end > mf.size {
		mf.size = end
	}
	return nil
}

// Flush syncs the file and remaps it so subsequent reads see new writes.
func (mf *MMapFile) Flush() error {
	if err := mf.f.Sync(); err != nil {
		return common.NewIoError("failed to flush mmap raw file", err)
	}
	if mf.m != nil {
		if err := mf.m.Unmap(); err != nil {
			return common.NewIoError("failed to unmap raw file", err)
		}
		mf.m = nil
	}
	if mf.size > 0 {
		m, err := mmap.Map(mf.f, mmap.RDONLY, 0)
		if err != nil {
			return common.NewIoError("failed to remap raw file", err)
		}
		mf.m = m
	}
	return nil
}

func (mf *MMapFile) Close() error {
	if mf.f == nil {
		return nil
	}
	var err error
	if mf.m != nil {
		err = mf.m.Unmap()
		mf.m = nil
	}
	if flushErr := mf.f.Sync(); flushErr != nil && err == nil {
		err = flushErr
	}
	if closeErr := mf.f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	mf.f = nil
	if err != nil {
		return common.NewIoError("failed to close mmap raw file", err)
	}
	return nil
}
