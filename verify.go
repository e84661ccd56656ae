package zsync

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/itchio/zsync/checksum"
	"github.com/itchio/zsync/control"
	"github.com/itchio/zsync/ctxcopy"
	"github.com/itchio/zsync/zerrors"
	"github.com/pkg/errors"
)

// verify hashes the first Length bytes of output and compares them to
// the control file's SHA-1. On mismatch, it looks for the first block
// that doesn't match its checksums, to say where things went wrong.
func verify(ctx context.Context, output io.ReadSeeker, cf *control.File) error {
	h := &cf.Header

	_, err := output.Seek(0, io.SeekStart)
	if err != nil {
		return errors.WithStack(err)
	}

	verifier := checksum.NewVerifier()
	n, err := ctxcopy.Do(ctx, verifier, io.LimitReader(output, h.Length))
	if err != nil {
		if errors.Is(err, zerrors.ErrCancelled) {
			return errors.WithStack(zerrors.ErrCancelled)
		}
		return errors.Wrap(err, "hashing output")
	}

	if n != h.Length {
		return errors.Wrapf(zerrors.ErrVerification, "output holds %d bytes, expected %d", n, h.Length)
	}

	digest := verifier.Sum(nil)
	if checksum.HexEqual(digest, h.SHA1) {
		return nil
	}

	return errors.Wrapf(zerrors.ErrVerification, "expected SHA-1 %s, got %s (%s)",
		h.SHA1, hex.EncodeToString(digest), diagnose(output, cf))
}

// diagnose re-reads output block by block and describes the first block
// whose checksums differ from the control file's, and how many do.
func diagnose(output io.ReadSeeker, cf *control.File) string {
	bv := newBlockValidator(cf)

	_, err := output.Seek(0, io.SeekStart)
	if err != nil {
		return fmt.Sprintf("could not re-read output: %v", err)
	}

	var first error
	var bad int64
	for blockIndex := int64(0); blockIndex < cf.Header.NumBlocks(); blockIndex++ {
		err := bv.validate(output, blockIndex)
		if err != nil {
			if first == nil {
				first = err
			}
			bad++
		}
	}

	if first == nil {
		return "every block matches its checksums"
	}
	return fmt.Sprintf("%d bad blocks, first is %v", bad, first)
}

type blockValidator struct {
	cf     *control.File
	strong *checksum.StrongHasher
	buf    []byte
}

func newBlockValidator(cf *control.File) *blockValidator {
	return &blockValidator{
		cf:     cf,
		strong: checksum.NewStrongHasher(),
		buf:    make([]byte, cf.Header.BlockSize),
	}
}

// validate reads the next block from r, which must be positioned at its start.
func (bv *blockValidator) validate(r io.Reader, blockIndex int64) error {
	h := &bv.cf.Header
	start := blockIndex * int64(h.BlockSize)
	size := h.BlockLength(blockIndex)

	n, err := io.ReadFull(r, bv.buf[:size])
	if err != nil {
		clear(bv.buf[n:])
		return errors.Errorf("block %d (bytes %d-%d): short read, got %d bytes", blockIndex, start, start+size, n)
	}
	clear(bv.buf[size:])

	bs := bv.cf.BlockSums[blockIndex]

	weak := checksum.Weak(bv.buf, h.WeakLength)
	if weak != bs.Weak {
		return errors.Errorf("block %d (bytes %d-%d): expected weak checksum %x, got %x", blockIndex, start, start+size, bs.Weak, weak)
	}

	strong := bv.strong.Sum(bv.buf)
	if !checksum.PrefixEqual(bs.Strong, strong) {
		return errors.Errorf("block %d (bytes %d-%d): expected strong checksum %x, got %x", blockIndex, start, start+size, bs.Strong, strong[:len(bs.Strong)])
	}

	return nil
}
