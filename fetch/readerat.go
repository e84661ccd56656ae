package fetch

import (
	"bytes"
	"context"
	"io"

	"github.com/itchio/zsync/zerrors"
	"github.com/pkg/errors"
)

// ReaderAtFetcher serves ranges out of an io.ReaderAt: a local mirror,
// a file in memory.
type ReaderAtFetcher struct {
	r    io.ReaderAt
	size int64

	// OnFetch, if set, is called before each range or full fetch
	OnFetch func(from int64, to int64)

	stats Stats
}

func NewReaderAt(r io.ReaderAt, size int64) *ReaderAtFetcher {
	return &ReaderAtFetcher{
		r:    r,
		size: size,
	}
}

// NewBytes serves ranges out of data
func NewBytes(data []byte) *ReaderAtFetcher {
	return NewReaderAt(bytes.NewReader(data), int64(len(data)))
}

func (rf *ReaderAtFetcher) FetchRange(ctx context.Context, from int64, to int64) (io.ReadCloser, error) {
	err := zerrors.CheckCancelled(ctx)
	if err != nil {
		return nil, err
	}

	if from < 0 || to < from || to > rf.size {
		return nil, errors.Wrapf(zerrors.ErrTransport, "invalid range %d-%d for %d bytes", from, to, rf.size)
	}

	rf.stats.Ranges++
	return rf.open(from, to), nil
}

func (rf *ReaderAtFetcher) FetchAll(ctx context.Context) (io.ReadCloser, error) {
	err := zerrors.CheckCancelled(ctx)
	if err != nil {
		return nil, err
	}

	rf.stats.Fulls++
	return rf.open(0, rf.size), nil
}

func (rf *ReaderAtFetcher) open(from int64, to int64) io.ReadCloser {
	if rf.OnFetch != nil {
		rf.OnFetch(from, to)
	}
	return newCountingBody(io.NopCloser(io.NewSectionReader(rf.r, from, to-from)), &rf.stats)
}

func (rf *ReaderAtFetcher) Stats() Stats {
	return rf.stats
}
