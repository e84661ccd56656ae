package control

import (
	"encoding/hex"
	"io"
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/itchio/headway/state"
	"github.com/itchio/headway/united"
	"github.com/itchio/zsync/checksum"
	"github.com/itchio/zsync/counter"
	"github.com/pkg/errors"
)

// Block sizes picked by ChooseBlockSize
const (
	SmallBlockSize = 2048
	LargeBlockSize = 4096

	largeFileThreshold = 100_000_000
)

type MakeParams struct {
	// Source is read from start to end
	Source io.ReadSeeker
	// Filename and URL end up in the header as-is
	Filename string
	URL      string
	MTime    time.Time

	// BlockSize overrides ChooseBlockSize if non-zero
	BlockSize int

	Consumer *state.Consumer
}

func (p MakeParams) validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Source, validation.Required),
		validation.Field(&p.Filename, validation.Required),
		validation.Field(&p.BlockSize, validation.Min(0)),
	)
}

// ChooseBlockSize picks a block size for a target of the given size.
func ChooseBlockSize(size int64) int {
	if size < largeFileThreshold {
		return SmallBlockSize
	}
	return LargeBlockSize
}

// ChooseLengths picks how many bytes of each checksum to store so that
// false matches stay unlikely for a target of this size, while keeping
// the block table small. Targets of one or two blocks use single
// matches: with two blocks, a sequence requirement would prevent the
// second block from ever matching on its own.
func ChooseLengths(size int64, blockSize int) (seqMatches int, weakLength int, strongLength int) {
	seqMatches = 1
	if size > 2*int64(blockSize) {
		seqMatches = 2
	}

	logSize := math.Log2(float64(max(size, 1)))
	logBlockSize := math.Log2(float64(blockSize))
	logBlocks := math.Log2(1 + float64(size/int64(blockSize)))
	seq := float64(seqMatches)

	weakLength = int(math.Ceil(((logSize + logBlockSize) - 8.6) / seq / 8))
	weakLength = min(max(weakLength, checksum.MinWeakLength), checksum.MaxWeakLength)

	strongLength = int(math.Ceil((20 + (logSize + logBlocks)) / seq / 8))
	strongLength = max(strongLength, int((7.9+(20+logBlocks))/8))
	strongLength = min(max(strongLength, 1), checksum.StrongSize)
	return
}

// Make reads a target file and builds its control file.
func Make(params MakeParams) (*File, error) {
	err := params.validate()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	consumer := params.Consumer
	if consumer == nil {
		consumer = &state.Consumer{}
	}

	size, err := params.Source.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	_, err = params.Source.Seek(0, io.SeekStart)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	blockSize := params.BlockSize
	if blockSize == 0 {
		blockSize = ChooseBlockSize(size)
	}
	seqMatches, weakLength, strongLength := ChooseLengths(size, blockSize)

	consumer.Debugf("making control file for %s (%s), %s blocks, hash lengths %d,%d,%d",
		params.Filename, united.FormatBytes(size), united.FormatBytes(int64(blockSize)),
		seqMatches, weakLength, strongLength)

	header := Header{
		Version:         DefaultVersion,
		Filename:        params.Filename,
		MTime:           params.MTime.UTC(),
		BlockSize:       blockSize,
		Length:          size,
		SequenceMatches: seqMatches,
		WeakLength:      weakLength,
		StrongLength:    strongLength,
		URL:             params.URL,
	}

	verifier := checksum.NewVerifier()
	cr := counter.NewReaderCallback(func(count int64) {
		if size > 0 {
			consumer.Progress(float64(count) / float64(size))
		}
	}, io.TeeReader(params.Source, verifier))

	sh := checksum.NewStrongHasher()
	buf := make([]byte, blockSize)
	numBlocks := header.NumBlocks()
	sums := make([]BlockSum, 0, numBlocks)

	for blockIndex := int64(0); blockIndex < numBlocks; blockIndex++ {
		n, err := io.ReadFull(cr, buf)
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(err, "reading block %d", blockIndex)
		}
		if int64(n) != header.BlockLength(blockIndex) {
			return nil, errors.Errorf("block %d: read %d bytes, expected %d", blockIndex, n, header.BlockLength(blockIndex))
		}

		// the last block is hashed zero-padded
		clear(buf[n:])

		sums = append(sums, BlockSum{
			Weak:       checksum.Weak(buf, weakLength),
			Strong:     sh.Sum(buf)[:strongLength],
			BlockIndex: blockIndex,
		})
	}

	header.SHA1 = hex.EncodeToString(verifier.Sum(nil))
	return New(header, sums)
}
