// Package control reads, writes and makes zsync control files: a
// text header followed by a table of per-block weak and strong checksums
// describing a target file.
package control

import (
	"time"

	"github.com/itchio/zsync/zerrors"
	"github.com/pkg/errors"
)

// DefaultVersion is written in the `zsync:` header of made control files.
const DefaultVersion = "0.6.2"

// Header describes the target file and how its block table is encoded.
type Header struct {
	Version  string
	Filename string
	MTime    time.Time

	BlockSize int
	Length    int64

	// SequenceMatches is how many consecutive blocks must match before a
	// match is trusted: 1, or 2 to allow shorter weak checksums.
	SequenceMatches int
	// WeakLength is the number of bytes each weak checksum is stored with (2-4)
	WeakLength int
	// StrongLength is the number of leading bytes of each MD4 that are stored
	StrongLength int

	// URL is where the target can be fetched from, possibly relative
	// to the control file's own URL. Empty if unknown.
	URL string
	// SHA1 is the hex digest of the whole target file
	SHA1 string
}

// NumBlocks returns ceil(Length / BlockSize)
func (h *Header) NumBlocks() int64 {
	bs := int64(h.BlockSize)
	n := h.Length / bs
	if h.Length%bs != 0 {
		n++
	}
	return n
}

// BlockLength returns the number of target bytes in a given block:
// BlockSize for all blocks but the last one, which may be shorter.
func (h *Header) BlockLength(blockIndex int64) int64 {
	bs := int64(h.BlockSize)
	start := blockIndex * bs
	return max(0, min(bs, h.Length-start))
}

// BlockSum holds the checksums of a single target block. The last block
// is hashed zero-padded to a full block.
type BlockSum struct {
	// Weak is masked to Header.WeakLength bytes
	Weak uint32
	// Strong is an MD4 prefix of Header.StrongLength bytes
	Strong []byte
	// BlockIndex is the block's 0-based position in the target
	BlockIndex int64
}

// File is a parsed control file. It's never mutated once built.
type File struct {
	Header    Header
	BlockSums []BlockSum
}

// New checks that sums cover every block of the target, in order.
func New(header Header, sums []BlockSum) (*File, error) {
	if header.BlockSize <= 0 {
		return nil, errors.Wrapf(zerrors.ErrFormat, "invalid block size %d", header.BlockSize)
	}

	expected := header.NumBlocks()
	if int64(len(sums)) != expected {
		return nil, errors.Wrapf(zerrors.ErrFormat, "got %d block sums, expected %d for %d bytes", len(sums), expected, header.Length)
	}

	for i, bs := range sums {
		if bs.BlockIndex != int64(i) {
			return nil, errors.Wrapf(zerrors.ErrFormat, "block sum %d has index %d", i, bs.BlockIndex)
		}
	}

	return &File{
		Header:    header,
		BlockSums: sums,
	}, nil
}
