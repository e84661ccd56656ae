package wtest

import (
	"io"
	"math/rand"
	"testing"

	"github.com/itchio/randsource"
)

// RandomData returns size bytes of deterministic noise for the given seed.
func RandomData(t *testing.T, seed int64, size int) []byte {
	t.Helper()

	prng := &randsource.Reader{
		Source: rand.New(rand.NewSource(seed)),
	}

	buf := make([]byte, size)
	_, err := io.ReadFull(prng, buf)
	Must(t, err)
	return buf
}

// Splice returns a copy of dst with src copied over it at offset.
func Splice(dst []byte, offset int, src []byte) []byte {
	res := make([]byte, len(dst))
	copy(res, dst)
	copy(res[offset:], src)
	return res
}
