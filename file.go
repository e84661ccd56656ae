package zsync

import (
	"context"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/itchio/headway/state"
	"github.com/itchio/zsync/bowl"
	"github.com/itchio/zsync/control"
	"github.com/itchio/zsync/seeds"
	"github.com/itchio/zsync/zerrors"
	"github.com/pkg/errors"
)

type FileParams struct {
	ControlFile *control.File
	Fetcher     RangeFetcher

	// Dir is where the target is written, under the control file's
	// Filename (or Filename, if set)
	Dir      string
	Filename string

	// SeedPaths and SeedDirs are searched after the existing target
	SeedPaths []string
	SeedDirs  []string

	Consumer   *state.Consumer
	OnProgress func(done int64)
}

func (p FileParams) validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ControlFile, validation.Required),
		validation.Field(&p.Fetcher, validation.Required),
		validation.Field(&p.Dir, validation.Required),
	)
}

// SyncFile brings a file on disk up to date with a control file.
//
// The target is rebuilt into `<name>.part`, using the current target,
// any given seeds and the part file itself as sources, and only replaces
// the target once verified. The target then gets the control file's
// modification time. If no local data exists at all, the whole file is
// downloaded in one request.
//
// On failure or cancellation, the part file is left behind for the next
// attempt to pick up from.
func SyncFile(ctx context.Context, params FileParams) (*Result, error) {
	err := params.validate()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	consumer := params.Consumer
	if consumer == nil {
		consumer = &state.Consumer{}
	}

	h := &params.ControlFile.Header
	name, err := targetName(params.Filename, h.Filename)
	if err != nil {
		return nil, err
	}
	targetPath := filepath.Join(params.Dir, name)

	part, err := bowl.OpenPart(bowl.PartParams{
		TargetPath: targetPath,
		Consumer:   consumer,
	})
	if err != nil {
		return nil, err
	}
	defer part.Close()

	pool, err := seeds.NewPool(seeds.PoolParams{
		Paths:    append([]string{targetPath}, params.SeedPaths...),
		Dirs:     params.SeedDirs,
		Exclude:  []string{part.Path()},
		Consumer: consumer,
	})
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	partSize, err := part.Size()
	if err != nil {
		return nil, err
	}

	syncParams := Params{
		ControlFile: params.ControlFile,
		Fetcher:     params.Fetcher,
		Seeds:       pool.Seeds(),
		Output:      part.Output(),
		SelfSeed:    partSize > 0,
		Consumer:    consumer,
		OnProgress:  params.OnProgress,
	}

	var res *Result
	if pool.Len() == 0 && partSize == 0 {
		consumer.Infof("No local data for %s, downloading all of it", name)
		res, err = fetchAll(ctx, syncParams)
	} else {
		res, err = Sync(ctx, syncParams)
	}
	if err != nil {
		if errors.Is(err, zerrors.ErrCancelled) {
			consumer.Infof("Sync of %s cancelled, keeping %s", name, part.Path())
		}
		return nil, err
	}

	// seeds may include the target, which is about to be replaced
	err = pool.Close()
	if err != nil {
		return nil, err
	}

	err = part.Commit(h.MTime)
	if err != nil {
		return nil, err
	}

	return res, nil
}

// targetName picks the file name to write, refusing anything that would
// land outside of the destination directory.
func targetName(override string, headerName string) (string, error) {
	name := strings.TrimSpace(override)
	if name == "" {
		name = strings.TrimSpace(headerName)
	}

	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", errors.Wrapf(zerrors.ErrFormat, "invalid target filename %q", name)
	}
	return name, nil
}
