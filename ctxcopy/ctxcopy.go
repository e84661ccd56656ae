// Package ctxcopy copies streams while honoring context cancellation
// between chunks.
package ctxcopy

import (
	"context"
	"io"

	"github.com/itchio/zsync/zerrors"
	"github.com/pkg/errors"
)

const bufferSize = 32 * 1024

// Do copies src to dst until EOF, checking ctx before every chunk. On
// cancellation it returns the bytes copied so far along with
// zerrors.ErrCancelled; whatever already reached dst stays there.
func Do(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return DoBuffer(ctx, dst, src, nil)
}

// DoBuffer is Do with a caller-provided buffer, allocated if empty.
func DoBuffer(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	if len(buf) == 0 {
		buf = make([]byte, bufferSize)
	}

	var written int64
	for {
		if ctx.Err() != nil {
			return written, zerrors.ErrCancelled
		}

		nr, rErr := src.Read(buf)
		if nr > 0 {
			nw, wErr := dst.Write(buf[:nr])
			written += int64(nw)
			if wErr != nil {
				return written, errors.WithStack(wErr)
			}
			if nw != nr {
				return written, errors.WithStack(io.ErrShortWrite)
			}
		}

		if rErr != nil {
			if rErr == io.EOF {
				return written, nil
			}
			return written, errors.WithStack(rErr)
		}
	}
}
