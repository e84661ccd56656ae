package checksum

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"strings"

	"golang.org/x/crypto/md4"
)

// StrongSize is the size of a full (untruncated) strong checksum.
const StrongSize = md4.Size

// A StrongHasher computes MD4 sums of arbitrary windows of a buffer.
// It keeps one hasher around so hashing a window doesn't allocate one.
type StrongHasher struct {
	h   hash.Hash
	sum []byte
}

func NewStrongHasher() *StrongHasher {
	return &StrongHasher{
		h:   md4.New(),
		sum: make([]byte, 0, StrongSize),
	}
}

// Hash writes the MD4 of buf[offset:offset+length] into out, which
// must hold StrongSize bytes.
func (sh *StrongHasher) Hash(buf []byte, offset int, length int, out []byte) {
	sh.h.Reset()
	sh.h.Write(buf[offset : offset+length])
	copy(out, sh.h.Sum(sh.sum[:0]))
}

// Sum returns a fresh MD4 of block.
func (sh *StrongHasher) Sum(block []byte) []byte {
	out := make([]byte, StrongSize)
	sh.Hash(block, 0, len(block), out)
	return out
}

// PrefixEqual compares two strong checksums over the length of the
// shorter one: control files only store a prefix of each sum.
func PrefixEqual(a []byte, b []byte) bool {
	n := min(len(a), len(b))
	return bytes.Equal(a[:n], b[:n])
}

// NewVerifier returns the whole-file hash a control file's SHA-1
// header is checked against.
func NewVerifier() hash.Hash {
	return sha1.New()
}

// HexEqual compares a computed digest with a hex string from a header.
func HexEqual(digest []byte, expected string) bool {
	return hex.EncodeToString(digest) == strings.ToLower(strings.TrimSpace(expected))
}
