package match

import (
	"context"
	"fmt"
	"io"

	"github.com/itchio/headway/state"
	"github.com/itchio/headway/united"
	"github.com/itchio/zsync/checksum"
	"github.com/itchio/zsync/control"
	"github.com/itchio/zsync/zerrors"
	"github.com/pkg/errors"
)

// DefaultSectionSize bounds how much of a seed is held in memory at once.
const DefaultSectionSize = 10 * 1024 * 1024

// Seed is a local byte source that may share blocks with the target.
type Seed struct {
	Name   string
	Reader io.ReadSeeker

	// Self is set when Reader is the output being rebuilt in place.
	// Blocks are then only taken from at or after their own position.
	Self bool
}

func (s *Seed) String() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Self {
		return "(output)"
	}
	return fmt.Sprintf("%T", s.Reader)
}

// Location is where a target block was found.
type Location struct {
	Seed   *Seed
	Offset int64
}

// Assignments maps target block indices to where they were found.
type Assignments map[int64]Location

// Matcher scans seeds one after the other. The first seed to contain a
// block claims it.
type Matcher struct {
	// SectionSize can be lowered before the first Scan, mostly for tests
	SectionSize int

	header      *control.Header
	index       *Index
	assignments Assignments
	consumer    *state.Consumer

	strong *checksum.StrongHasher
	ring   []uint32
	buf    []byte
}

func NewMatcher(cf *control.File, consumer *state.Consumer) (*Matcher, error) {
	h := &cf.Header
	if h.SequenceMatches < 1 || h.SequenceMatches > 2 {
		return nil, errors.Wrapf(zerrors.ErrUnsupported, "sequence matches = %d", h.SequenceMatches)
	}

	if consumer == nil {
		consumer = &state.Consumer{}
	}

	return &Matcher{
		SectionSize: DefaultSectionSize,
		header:      h,
		index:       NewIndex(cf.BlockSums),
		assignments: make(Assignments),
		consumer:    consumer,
		strong:      checksum.NewStrongHasher(),
		ring:        make([]uint32, h.BlockSize),
	}, nil
}

// Assignments returns every block claimed so far.
func (m *Matcher) Assignments() Assignments {
	return m.assignments
}

// Scan looks for unclaimed target blocks in seed. Seeds shorter than two
// blocks are skipped.
func (m *Matcher) Scan(ctx context.Context, seed *Seed) error {
	err := zerrors.CheckCancelled(ctx)
	if err != nil {
		return err
	}

	bs := int64(m.header.BlockSize)
	size, err := seed.Reader.Seek(0, io.SeekEnd)
	if err != nil {
		return errors.Wrapf(err, "measuring seed %s", seed)
	}

	if size < 2*bs {
		m.consumer.Debugf("Skipping seed %s: only %s", seed, united.FormatBytes(size))
		return nil
	}

	if len(m.assignments) == m.index.Len() {
		m.consumer.Debugf("Skipping seed %s: all blocks already found", seed)
		return nil
	}

	sectionSize := max(int64(m.SectionSize), bs)
	claimedBefore := len(m.assignments)

	for offset := int64(0); ; offset += sectionSize {
		err := zerrors.CheckCancelled(ctx)
		if err != nil {
			return err
		}

		// consecutive sections overlap by two blocks, so matches (and
		// their previous block) that straddle a boundary aren't missed
		length := sectionSize + 2*bs
		last := offset+length >= size
		if last {
			remaining := size - offset
			length = (remaining + bs - 1) / bs * bs
		}

		buf := m.section(int(length))
		_, err = seed.Reader.Seek(offset, io.SeekStart)
		if err != nil {
			return errors.Wrapf(err, "seeking seed %s to %d", seed, offset)
		}

		n, err := io.ReadFull(seed.Reader, buf[:min(length, size-offset)])
		if err != nil {
			return errors.Wrapf(err, "reading seed %s at %d", seed, offset)
		}
		// the last section is zero-padded to a block boundary
		clear(buf[n:])

		err = m.scanSection(buf, offset, seed)
		if err != nil {
			return err
		}

		if last {
			break
		}
	}

	m.consumer.Debugf("Seed %s (%s): found %d new blocks, %d/%d total",
		seed, united.FormatBytes(size), len(m.assignments)-claimedBefore, len(m.assignments), m.index.Len())
	return nil
}

func (m *Matcher) section(length int) []byte {
	if cap(m.buf) < length {
		m.buf = make([]byte, length)
	}
	return m.buf[:length]
}

// scanSection considers every block-sized window of buf starting at or
// after one full block. The window one block behind is the "previous"
// window, whose weak checksum is kept in m.ring.
func (m *Matcher) scanSection(buf []byte, bufOffset int64, seed *Seed) error {
	h := m.header
	bs := h.BlockSize

	rc, err := checksum.NewRolling(buf, bs, h.WeakLength)
	if err != nil {
		return errors.WithStack(err)
	}

	for i := 0; i < bs; i++ {
		m.ring[i] = rc.Current()
		rc.Next()
	}

	var strong, previousStrong [checksum.StrongSize]byte
	earliest := bs

	for i := 2 * bs; i <= len(buf); i++ {
		slot := i % bs
		previousWeak := m.ring[slot]
		weak := rc.Current()
		m.ring[slot] = weak
		rc.Next()

		if i < earliest {
			// still inside the last matched block
			continue
		}

		candidates := m.index.Lookup(weak)
		if len(candidates) == 0 {
			continue
		}

		sourceOffset := bufOffset + int64(i-bs)
		hashed := false
		hashedPrevious := false

		for _, c := range candidates {
			if _, ok := m.assignments[c.BlockIndex]; ok {
				continue
			}

			if h.SequenceMatches == 2 && previousWeak != c.PreviousWeak {
				continue
			}

			if seed.Self && c.BlockIndex*int64(bs) > sourceOffset {
				// writing the block would happen before reading it
				continue
			}

			if !hashed {
				m.strong.Hash(buf, i-bs, bs, strong[:])
				hashed = true
			}
			if !checksum.PrefixEqual(c.Strong, strong[:]) {
				continue
			}

			m.assignments[c.BlockIndex] = Location{
				Seed:   seed,
				Offset: sourceOffset,
			}

			// the previous block may have started a sequence without being
			// matchable on its own. For self seeds it sits one block before
			// both positions, so the rule above still holds.
			if c.BlockIndex > 0 {
				if _, ok := m.assignments[c.BlockIndex-1]; !ok {
					if !hashedPrevious {
						m.strong.Hash(buf, i-2*bs, bs, previousStrong[:])
						hashedPrevious = true
					}

					if checksum.PrefixEqual(c.PreviousStrong, previousStrong[:]) {
						m.assignments[c.BlockIndex-1] = Location{
							Seed:   seed,
							Offset: sourceOffset - int64(bs),
						}
					}
				}
			}

			earliest = i + bs
		}
	}

	return nil
}
