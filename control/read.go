package control

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/itchio/savior"
	"github.com/itchio/savior/seeksource"
	"github.com/itchio/screw"
	"github.com/itchio/zsync/checksum"
	"github.com/itchio/zsync/zerrors"
	"github.com/pkg/errors"
)

var headerTerminator = []byte{'\n', '\n'}

var requiredKeys = []string{
	"zsync",
	"Filename",
	"MTime",
	"Blocksize",
	"Length",
	"Hash-Lengths",
	"URL",
	"SHA-1",
}

var mtimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC3339,
}

// Read decodes a whole control file.
func Read(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	idx := bytes.Index(data, headerTerminator)
	if idx < 0 {
		return nil, errors.Wrap(zerrors.ErrFormat, "no blank line after header")
	}

	header, err := parseHeader(data[:idx])
	if err != nil {
		return nil, err
	}

	sums, err := readBlockSums(data[idx+len(headerTerminator):], header)
	if err != nil {
		return nil, err
	}

	return New(*header, sums)
}

// ReadSource decodes a control file from the start of a seek source.
func ReadSource(source savior.SeekSource) (*File, error) {
	_, err := source.Resume(nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return Read(source)
}

// Open decodes a control file from disk.
func Open(path string) (*File, error) {
	f, err := screw.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	cf, err := ReadSource(seeksource.FromFile(f))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return cf, nil
}

func parseHeader(data []byte) (*Header, error) {
	h := &Header{}
	seen := make(map[string]bool)

	s := bufio.NewScanner(bytes.NewReader(data))
	lineNumber := 0
	for s.Scan() {
		lineNumber++
		line := strings.TrimRight(s.Text(), "\r")

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errors.Wrapf(zerrors.ErrFormat, "header line %d: expected 'Key: value', got %q", lineNumber, line)
		}
		value = strings.TrimSpace(value)
		seen[key] = true

		var err error
		switch key {
		case "zsync":
			h.Version = value
		case "Filename":
			h.Filename = value
		case "MTime":
			h.MTime, err = parseMTime(value)
		case "Blocksize":
			h.BlockSize, err = strconv.Atoi(value)
			if err == nil && h.BlockSize <= 0 {
				err = errors.Errorf("must be positive, got %d", h.BlockSize)
			}
		case "Length":
			h.Length, err = strconv.ParseInt(value, 10, 64)
			if err == nil && h.Length < 0 {
				err = errors.Errorf("must not be negative, got %d", h.Length)
			}
		case "Hash-Lengths":
			err = parseHashLengths(h, value)
		case "URL":
			h.URL = value
		case "SHA-1":
			h.SHA1 = value
		}
		if err != nil {
			return nil, errors.Wrapf(zerrors.ErrFormat, "header line %d (%s): %v", lineNumber, key, err)
		}
	}
	if err := s.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	for _, key := range requiredKeys {
		if !seen[key] {
			return nil, errors.Wrapf(zerrors.ErrFormat, "missing required header %q", key)
		}
	}

	return h, nil
}

func parseMTime(value string) (time.Time, error) {
	for _, layout := range mtimeLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unrecognized date %q", value)
}

func parseHashLengths(h *Header, value string) error {
	tokens := strings.Split(value, ",")
	if len(tokens) != 3 {
		return errors.Errorf("expected 3 comma-separated values, got %q", value)
	}

	var nums [3]int
	for i, token := range tokens {
		n, err := strconv.Atoi(strings.TrimSpace(token))
		if err != nil {
			return errors.WithStack(err)
		}
		nums[i] = n
	}

	h.SequenceMatches, h.WeakLength, h.StrongLength = nums[0], nums[1], nums[2]

	if h.WeakLength < checksum.MinWeakLength || h.WeakLength > checksum.MaxWeakLength {
		return errors.Errorf("weak checksum length %d out of range", h.WeakLength)
	}
	if h.StrongLength < 1 || h.StrongLength > checksum.StrongSize {
		return errors.Errorf("strong checksum length %d out of range", h.StrongLength)
	}
	return nil
}

func readBlockSums(table []byte, h *Header) ([]BlockSum, error) {
	numBlocks := h.NumBlocks()
	entrySize := int64(h.WeakLength + h.StrongLength)

	tableSize := int64(len(table))
	if tableSize%entrySize != 0 || tableSize/entrySize != numBlocks {
		return nil, errors.Wrapf(zerrors.ErrFormat,
			"block table holds %d bytes (%.2f blocks), expected %d blocks of %d bytes",
			len(table), float64(len(table))/float64(entrySize), numBlocks, entrySize)
	}

	sums := make([]BlockSum, numBlocks)
	offset := 0
	for i := range sums {
		var weak uint32
		for j := 0; j < h.WeakLength; j++ {
			weak = weak<<8 | uint32(table[offset+j])
		}
		offset += h.WeakLength

		strong := make([]byte, h.StrongLength)
		copy(strong, table[offset:offset+h.StrongLength])
		offset += h.StrongLength

		sums[i] = BlockSum{
			Weak:       weak,
			Strong:     strong,
			BlockIndex: int64(i),
		}
	}
	return sums, nil
}
