// Package bowl manages the `.part` file a target is rebuilt into before
// it replaces the real thing.
package bowl

import (
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/itchio/headway/state"
	"github.com/itchio/screw"
	"github.com/pkg/errors"
)

// PartSuffix is appended to the target path to get the part path
const PartSuffix = ".part"

type PartParams struct {
	// TargetPath is where the file ends up on Commit
	TargetPath string

	Consumer *state.Consumer
}

func (p PartParams) validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.TargetPath, validation.Required),
	)
}

// Part is an in-progress target. An existing part file is kept as-is,
// so whatever an interrupted sync wrote can be reused.
type Part struct {
	targetPath string
	path       string
	file       *os.File
	consumer   *state.Consumer
}

func OpenPart(params PartParams) (*Part, error) {
	err := params.validate()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	consumer := params.Consumer
	if consumer == nil {
		consumer = &state.Consumer{}
	}

	path := params.TargetPath + PartSuffix
	f, err := screw.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &Part{
		targetPath: params.TargetPath,
		path:       path,
		file:       f,
		consumer:   consumer,
	}, nil
}

// Path returns the path of the part file
func (p *Part) Path() string {
	return p.path
}

// TargetPath returns the path the part is committed to
func (p *Part) TargetPath() string {
	return p.targetPath
}

// Output returns the open part file. It's only valid until Commit,
// Close or Discard.
func (p *Part) Output() *os.File {
	return p.file
}

// Size returns how many bytes the part file currently holds
func (p *Part) Size() (int64, error) {
	if p.file == nil {
		return 0, errors.New("bowl: part is closed")
	}

	stats, err := p.file.Stat()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return stats.Size(), nil
}

// Commit closes the part file, moves it over the target, and sets
// the target's modification time (unless mtime is zero).
func (p *Part) Commit(mtime time.Time) error {
	err := p.Close()
	if err != nil {
		return err
	}

	p.consumer.Debugf("Committing %s to %s", p.path, p.targetPath)
	err = screw.Rename(p.path, p.targetPath)
	if err != nil {
		return errors.WithStack(err)
	}

	if !mtime.IsZero() {
		err = os.Chtimes(p.targetPath, mtime, mtime)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// Close closes the part file and leaves it on disk. It can be called
// more than once.
func (p *Part) Close() error {
	if p.file == nil {
		return nil
	}

	err := p.file.Close()
	p.file = nil
	return errors.WithStack(err)
}

// Discard closes and removes the part file.
func (p *Part) Discard() error {
	err := p.Close()
	if err != nil {
		return err
	}

	err = screw.Remove(p.path)
	if err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}
