package control

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
)

// Write encodes f in the control file format: header lines, a blank
// line, then the block table.
func (f *File) Write(w io.Writer) error {
	h := &f.Header
	bw := bufio.NewWriter(w)

	version := h.Version
	if version == "" {
		version = DefaultVersion
	}

	fmt.Fprintf(bw, "zsync: %s\n", version)
	fmt.Fprintf(bw, "Filename: %s\n", h.Filename)
	fmt.Fprintf(bw, "MTime: %s\n", h.MTime.UTC().Format(time.RFC1123Z))
	fmt.Fprintf(bw, "Blocksize: %d\n", h.BlockSize)
	fmt.Fprintf(bw, "Length: %d\n", h.Length)
	fmt.Fprintf(bw, "Hash-Lengths: %d,%d,%d\n", h.SequenceMatches, h.WeakLength, h.StrongLength)
	fmt.Fprintf(bw, "URL: %s\n", h.URL)
	fmt.Fprintf(bw, "SHA-1: %s\n", h.SHA1)
	bw.WriteByte('\n')

	entry := make([]byte, h.WeakLength+h.StrongLength)
	for _, bs := range f.BlockSums {
		weak := bs.Weak
		for i := h.WeakLength - 1; i >= 0; i-- {
			entry[i] = byte(weak)
			weak >>= 8
		}

		strong := entry[h.WeakLength:]
		if len(bs.Strong) < len(strong) {
			return errors.Errorf("block %d: strong checksum has %d bytes, need %d", bs.BlockIndex, len(bs.Strong), len(strong))
		}
		copy(strong, bs.Strong)

		_, err := bw.Write(entry)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	return errors.WithStack(bw.Flush())
}
