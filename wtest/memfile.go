package wtest

import (
	"io"

	"github.com/pkg/errors"
)

// MemFile is an in-memory read/write/seek/truncate file, a stand-in
// for *os.File in tests.
type MemFile struct {
	data   []byte
	offset int64
}

var _ io.ReadWriteSeeker = (*MemFile)(nil)

func NewMemFile(initial []byte) *MemFile {
	data := make([]byte, len(initial))
	copy(data, initial)
	return &MemFile{data: data}
}

func (mf *MemFile) Bytes() []byte {
	return mf.data
}

func (mf *MemFile) Read(p []byte) (int, error) {
	if mf.offset >= int64(len(mf.data)) {
		return 0, io.EOF
	}
	n := copy(p, mf.data[mf.offset:])
	mf.offset += int64(n)
	return n, nil
}

func (mf *MemFile) Write(p []byte) (int, error) {
	end := mf.offset + int64(len(p))
	if end > int64(len(mf.data)) {
		grown := make([]byte, end)
		copy(grown, mf.data)
		mf.data = grown
	}
	copy(mf.data[mf.offset:], p)
	mf.offset = end
	return len(p), nil
}

func (mf *MemFile) Seek(offset int64, whence int) (int64, error) {
	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = mf.offset + offset
	case io.SeekEnd:
		newOffset = int64(len(mf.data)) + offset
	default:
		return mf.offset, errors.Errorf("invalid whence %d", whence)
	}

	if newOffset < 0 {
		return mf.offset, errors.Errorf("negative offset %d", newOffset)
	}
	mf.offset = newOffset
	return newOffset, nil
}

func (mf *MemFile) Truncate(size int64) error {
	if size < int64(len(mf.data)) {
		mf.data = mf.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, mf.data)
	mf.data = grown
	return nil
}
