// Package match finds, in local seed files, the blocks of a target
// described by a control file.
package match

import (
	"github.com/itchio/zsync/control"
)

// Candidate is a target block that may sit under a given weak checksum.
// It also carries what's needed to confirm the block before it.
type Candidate struct {
	PreviousWeak   uint32
	Strong         []byte
	PreviousStrong []byte
	BlockIndex     int64
}

// Index maps weak checksums to the target blocks that have them.
// It's read-only once built.
type Index struct {
	buckets map[uint32][]Candidate
	size    int
}

func NewIndex(sums []control.BlockSum) *Index {
	ix := &Index{
		buckets: make(map[uint32][]Candidate, len(sums)),
		size:    len(sums),
	}

	var previousWeak uint32
	var previousStrong []byte
	for _, bs := range sums {
		ix.buckets[bs.Weak] = append(ix.buckets[bs.Weak], Candidate{
			PreviousWeak:   previousWeak,
			Strong:         bs.Strong,
			PreviousStrong: previousStrong,
			BlockIndex:     bs.BlockIndex,
		})
		previousWeak = bs.Weak
		previousStrong = bs.Strong
	}
	return ix
}

// Lookup returns candidates in block order, or nil.
func (ix *Index) Lookup(weak uint32) []Candidate {
	return ix.buckets[weak]
}

// Len returns the number of indexed blocks.
func (ix *Index) Len() int {
	return ix.size
}
