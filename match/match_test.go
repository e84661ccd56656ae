package match_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/itchio/zsync/control"
	"github.com/itchio/zsync/match"
	"github.com/itchio/zsync/wtest"
	"github.com/itchio/zsync/zerrors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

const bs = 2048

func makeControl(t *testing.T, data []byte) *control.File {
	t.Helper()

	cf, err := control.Make(control.MakeParams{
		Source:    bytes.NewReader(data),
		Filename:  "target.bin",
		MTime:     time.Now(),
		BlockSize: bs,
	})
	wtest.Must(t, err)
	return cf
}

func scan(t *testing.T, m *match.Matcher, seeds ...*match.Seed) match.Assignments {
	t.Helper()

	for _, seed := range seeds {
		wtest.Must(t, m.Scan(context.Background(), seed))
	}
	return m.Assignments()
}

func newMatcher(t *testing.T, cf *control.File) *match.Matcher {
	t.Helper()

	m, err := match.NewMatcher(cf, nil)
	wtest.Must(t, err)
	return m
}

func seedOf(name string, data []byte) *match.Seed {
	return &match.Seed{
		Name:   name,
		Reader: bytes.NewReader(data),
	}
}

func Test_IndexBuckets(t *testing.T) {
	block := []byte("abcd")
	cf := makeControl(t, bytes.Repeat(block, 3*bs/len(block)))

	ix := match.NewIndex(cf.BlockSums)
	assert.EqualValues(t, 3, ix.Len())

	candidates := ix.Lookup(cf.BlockSums[0].Weak)
	assert.Len(t, candidates, 3)
	for i, c := range candidates {
		assert.EqualValues(t, i, c.BlockIndex)
	}
	assert.Nil(t, candidates[0].PreviousStrong)
	assert.EqualValues(t, cf.BlockSums[0].Strong, candidates[1].PreviousStrong)
	assert.EqualValues(t, cf.BlockSums[0].Weak, candidates[1].PreviousWeak)

	assert.Nil(t, ix.Lookup(cf.BlockSums[0].Weak+1))
}

func Test_IdenticalSeed(t *testing.T) {
	data := wtest.RandomData(t, 0x10, 64*bs+700)
	cf := makeControl(t, data)

	seed := seedOf("same", data)
	assignments := scan(t, newMatcher(t, cf), seed)

	assert.Len(t, assignments, 65)
	for i := int64(0); i < 65; i++ {
		loc, ok := assignments[i]
		if assert.True(t, ok, "block %d", i) {
			assert.EqualValues(t, i*bs, loc.Offset)
			assert.Equal(t, seed, loc.Seed)
		}
	}
}

func Test_ShiftedSeed(t *testing.T) {
	data := wtest.RandomData(t, 0x11, 64*bs)
	cf := makeControl(t, data)

	shifted := append([]byte{0x42, 0x43, 0x44}, data...)
	assignments := scan(t, newMatcher(t, cf), seedOf("shifted", shifted))

	assert.Len(t, assignments, 64)
	for i, loc := range assignments {
		assert.EqualValues(t, i*bs+3, loc.Offset)
	}
}

func Test_SectionBoundaries(t *testing.T) {
	data := wtest.RandomData(t, 0x12, 100*bs)
	cf := makeControl(t, data)

	shifted := append(wtest.RandomData(t, 0x13, 777), data...)

	reference := scan(t, newMatcher(t, cf), seedOf("whole", shifted))
	assert.Len(t, reference, 100)

	for _, sectionSize := range []int{bs, 3*bs + 17, 10 * bs} {
		m := newMatcher(t, cf)
		m.SectionSize = sectionSize
		sectioned := scan(t, m, seedOf("sectioned", shifted))

		assert.Len(t, sectioned, len(reference), "section size %d", sectionSize)
		for i, loc := range reference {
			assert.EqualValues(t, loc.Offset, sectioned[i].Offset, "section size %d, block %d", sectionSize, i)
		}
	}
}

func Test_SingleByteChange(t *testing.T) {
	data := wtest.RandomData(t, 0x14, 32*bs)
	cf := makeControl(t, data)

	seed := wtest.Splice(data, 10*bs+100, []byte{data[10*bs+100] ^ 0xff})
	assignments := scan(t, newMatcher(t, cf), seedOf("changed", seed))

	assert.Len(t, assignments, 31)
	_, ok := assignments[10]
	assert.False(t, ok)
}

func Test_LoneBlockNeedsSequence(t *testing.T) {
	data := wtest.RandomData(t, 0x1a, 32*bs)
	cf := makeControl(t, data)
	assert.EqualValues(t, 2, cf.Header.SequenceMatches)

	var seed []byte
	seed = append(seed, wtest.RandomData(t, 0x1b, 3*bs)...)
	seed = append(seed, data[5*bs:6*bs]...)
	seed = append(seed, wtest.RandomData(t, 0x1c, 3*bs)...)

	assignments := scan(t, newMatcher(t, cf), seedOf("lone", seed))
	assert.Empty(t, assignments)

	cf.Header.SequenceMatches = 1
	assignments = scan(t, newMatcher(t, cf), seedOf("lone", seed))
	assert.Len(t, assignments, 1)
	if loc, ok := assignments[5]; assert.True(t, ok) {
		assert.EqualValues(t, 3*bs, loc.Offset)
	}
}

func Test_FirstSeedWins(t *testing.T) {
	data := wtest.RandomData(t, 0x15, 8*bs)
	cf := makeControl(t, data)

	first := seedOf("first", data[:4*bs])
	second := seedOf("second", data)
	assignments := scan(t, newMatcher(t, cf), first, second)

	assert.Len(t, assignments, 8)
	for i := int64(0); i < 4; i++ {
		assert.Equal(t, first, assignments[i].Seed, "block %d", i)
	}
	for i := int64(4); i < 8; i++ {
		assert.Equal(t, second, assignments[i].Seed, "block %d", i)
	}
}

func Test_ShortSeedSkipped(t *testing.T) {
	data := wtest.RandomData(t, 0x16, 4*bs)
	cf := makeControl(t, data)

	assignments := scan(t, newMatcher(t, cf), seedOf("short", data[:2*bs-1]))
	assert.Empty(t, assignments)
}

func Test_SelfSeedOrdering(t *testing.T) {
	data := wtest.RandomData(t, 0x17, 16*bs)
	cf := makeControl(t, data)

	// blocks 4-7 sit 2 blocks early: writing blocks 2-5 would clobber them
	early := make([]byte, 16*bs)
	copy(early[2*bs:], data[4*bs:8*bs])
	assignments := scan(t, newMatcher(t, cf), &match.Seed{
		Reader: wtest.NewMemFile(early),
		Self:   true,
	})
	assert.Empty(t, assignments)

	// blocks 4-7 sit 2 blocks late: they're read before being overwritten
	late := make([]byte, 16*bs)
	copy(late[6*bs:], data[4*bs:8*bs])
	assignments = scan(t, newMatcher(t, cf), &match.Seed{
		Reader: wtest.NewMemFile(late),
		Self:   true,
	})
	assert.Len(t, assignments, 4)
	for i := int64(4); i < 8; i++ {
		assert.EqualValues(t, (i+2)*bs, assignments[i].Offset)
	}

	// the same bytes in a regular seed are fine
	assignments = scan(t, newMatcher(t, cf), seedOf("early", early))
	assert.Len(t, assignments, 4)
}

func Test_UnsupportedSequence(t *testing.T) {
	cf := makeControl(t, wtest.RandomData(t, 0x18, 4*bs))
	cf.Header.SequenceMatches = 3

	_, err := match.NewMatcher(cf, nil)
	assert.True(t, errors.Is(err, zerrors.ErrUnsupported))
}

func Test_ScanCancelled(t *testing.T) {
	data := wtest.RandomData(t, 0x19, 4*bs)
	cf := makeControl(t, data)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := newMatcher(t, cf)
	err := m.Scan(ctx, seedOf("seed", data))
	assert.True(t, errors.Is(err, zerrors.ErrCancelled))
	assert.Empty(t, m.Assignments())
}
