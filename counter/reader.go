package counter

import "io"

// Reader counts the bytes read through it. A nil upstream reader
// behaves like an endless zero source.
type Reader struct {
	count  int64
	reader io.Reader

	onRead CountCallback
}

var _ io.Reader = (*Reader)(nil)

func NewReader(reader io.Reader) *Reader {
	return &Reader{reader: reader}
}

func NewReaderCallback(onRead CountCallback, reader io.Reader) *Reader {
	return &Reader{
		reader: reader,
		onRead: onRead,
	}
}

func (r *Reader) Count() int64 {
	return r.count
}

func (r *Reader) Read(buffer []byte) (n int, err error) {
	if r.reader == nil {
		clear(buffer)
		n = len(buffer)
	} else {
		n, err = r.reader.Read(buffer)
	}

	r.count += int64(n)
	if r.onRead != nil && n > 0 {
		r.onRead(r.count)
	}
	return
}
