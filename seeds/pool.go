// Package seeds collects local files that may share blocks with a
// target, and hands them out as readers without keeping every one of
// them open.
package seeds

import (
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru"
	"github.com/itchio/headway/state"
	"github.com/itchio/headway/united"
	"github.com/itchio/lake"
	"github.com/itchio/lake/tlc"
	"github.com/itchio/screw"
	"github.com/itchio/zsync/match"
	"github.com/pkg/errors"
)

// DefaultMaxOpenFiles is how many seed files a Pool keeps open at once
const DefaultMaxOpenFiles = 16

type PoolParams struct {
	// Paths are single files. Missing ones are skipped.
	Paths []string
	// Dirs are walked recursively
	Dirs []string
	// Exclude lists files that must never be used, like the output
	Exclude []string

	MaxOpenFiles int
	Consumer     *state.Consumer
}

type entry struct {
	path string
	size int64
}

// Pool is a read-only set of seed files, indexed in the order they
// were given: Paths first, then the contents of each of Dirs.
type Pool struct {
	entries  []entry
	files    *lru.Cache
	consumer *state.Consumer
}

var _ lake.Pool = (*Pool)(nil)

func NewPool(params PoolParams) (*Pool, error) {
	consumer := params.Consumer
	if consumer == nil {
		consumer = &state.Consumer{}
	}

	maxOpen := params.MaxOpenFiles
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenFiles
	}

	files, err := lru.NewWithEvict(maxOpen, func(key interface{}, value interface{}) {
		value.(*os.File).Close()
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	p := &Pool{
		files:    files,
		consumer: consumer,
	}

	seen := make(map[string]bool)
	for _, path := range params.Exclude {
		seen[cleanPath(path)] = true
	}

	add := func(path string, size int64) {
		key := cleanPath(path)
		if seen[key] {
			return
		}
		seen[key] = true
		p.entries = append(p.entries, entry{path: path, size: size})
	}

	for _, path := range params.Paths {
		stats, err := screw.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				consumer.Debugf("Seed %s doesn't exist, skipping", path)
				continue
			}
			return nil, errors.WithStack(err)
		}
		if !stats.Mode().IsRegular() {
			consumer.Debugf("Seed %s isn't a regular file, skipping", path)
			continue
		}
		add(path, stats.Size())
	}

	for _, dir := range params.Dirs {
		container, err := tlc.WalkDir(dir, tlc.WalkOpts{Filter: tlc.PresetFilter})
		if err != nil {
			return nil, errors.Wrapf(err, "walking seed dir %s", dir)
		}

		for _, f := range container.Files {
			add(filepath.Join(dir, filepath.FromSlash(f.Path)), f.Size)
		}
	}

	var total int64
	for _, e := range p.entries {
		total += e.size
	}
	consumer.Debugf("Seed pool: %d files, %s", len(p.entries), united.FormatBytes(total))

	return p, nil
}

func cleanPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Len returns the number of seed files
func (p *Pool) Len() int {
	return len(p.entries)
}

// Path returns the path of a seed file
func (p *Pool) Path(fileIndex int64) string {
	return p.entries[fileIndex].path
}

func (p *Pool) GetSize(fileIndex int64) int64 {
	return p.entries[fileIndex].size
}

func (p *Pool) GetReader(fileIndex int64) (io.Reader, error) {
	return p.GetReadSeeker(fileIndex)
}

// GetReadSeeker returns a reader that only opens the underlying
// file when it's read from.
func (p *Pool) GetReadSeeker(fileIndex int64) (io.ReadSeeker, error) {
	if fileIndex < 0 || fileIndex >= int64(len(p.entries)) {
		return nil, errors.Errorf("seed index %d out of range [0, %d)", fileIndex, len(p.entries))
	}

	return p.lazyReader(fileIndex), nil
}

func (p *Pool) lazyReader(fileIndex int64) *lazyReader {
	return &lazyReader{
		pool:      p,
		fileIndex: fileIndex,
		size:      p.entries[fileIndex].size,
	}
}

// Seeds returns every file of the pool as a match seed, in order.
func (p *Pool) Seeds() []*match.Seed {
	res := make([]*match.Seed, 0, len(p.entries))
	for i, e := range p.entries {
		res = append(res, &match.Seed{
			Name:   e.path,
			Reader: p.lazyReader(int64(i)),
		})
	}
	return res
}

func (p *Pool) file(fileIndex int64) (*os.File, error) {
	if f, ok := p.files.Get(fileIndex); ok {
		return f.(*os.File), nil
	}

	f, err := screw.Open(p.entries[fileIndex].path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	p.files.Add(fileIndex, f)
	return f, nil
}

// Close closes all open seed files. Readers handed out before can still
// be used, they'll reopen what they need.
func (p *Pool) Close() error {
	p.files.Purge()
	return nil
}

type lazyReader struct {
	pool      *Pool
	fileIndex int64
	size      int64
	offset    int64
}

var _ io.ReadSeeker = (*lazyReader)(nil)

func (lr *lazyReader) Read(buf []byte) (int, error) {
	if lr.offset >= lr.size {
		return 0, io.EOF
	}

	f, err := lr.pool.file(lr.fileIndex)
	if err != nil {
		return 0, err
	}

	n, err := f.ReadAt(buf[:min(int64(len(buf)), lr.size-lr.offset)], lr.offset)
	lr.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (lr *lazyReader) Seek(offset int64, whence int) (int64, error) {
	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = lr.offset + offset
	case io.SeekEnd:
		newOffset = lr.size + offset
	default:
		return lr.offset, errors.Errorf("invalid whence %d", whence)
	}

	if newOffset < 0 {
		return lr.offset, errors.Errorf("seek to negative offset %d", newOffset)
	}
	lr.offset = newOffset
	return newOffset, nil
}
