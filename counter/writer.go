package counter

import "io"

// Writer counts the bytes written through it. A nil upstream writer
// discards everything but still counts.
type Writer struct {
	count  int64
	writer io.Writer

	onWrite CountCallback
}

var _ io.Writer = (*Writer)(nil)

func NewWriter(writer io.Writer) *Writer {
	return &Writer{writer: writer}
}

func NewWriterCallback(onWrite CountCallback, writer io.Writer) *Writer {
	return &Writer{
		writer:  writer,
		onWrite: onWrite,
	}
}

// Count returns how many bytes were successfully written so far.
func (w *Writer) Count() int64 {
	return w.count
}

// Retarget swaps the upstream writer, keeping the count.
func (w *Writer) Retarget(writer io.Writer) {
	w.writer = writer
}

func (w *Writer) Write(buffer []byte) (n int, err error) {
	if w.writer == nil {
		n = len(buffer)
	} else {
		n, err = w.writer.Write(buffer)
	}

	w.count += int64(n)
	if w.onWrite != nil {
		w.onWrite(w.count)
	}
	return
}
