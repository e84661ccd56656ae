// Package zsync rebuilds a target file described by a control file,
// copying the blocks it can find in local seeds and downloading the rest
// with HTTP range requests.
package zsync

import (
	"context"
	"io"
	"reflect"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/itchio/headway/state"
	"github.com/itchio/headway/united"
	"github.com/itchio/zsync/control"
	"github.com/itchio/zsync/match"
	"github.com/itchio/zsync/plan"
	"github.com/itchio/zsync/zerrors"
	"github.com/pkg/errors"
)

// A RangeFetcher gives access to the remote copy of the target.
type RangeFetcher interface {
	// FetchRange returns a stream of exactly to-from bytes, starting at
	// from (inclusive). Calls come in increasing, non-overlapping order.
	FetchRange(ctx context.Context, from int64, to int64) (io.ReadCloser, error)

	// FetchAll returns the whole target. It's only used when there's no
	// local data at all.
	FetchAll(ctx context.Context) (io.ReadCloser, error)
}

type Params struct {
	ControlFile *control.File
	Fetcher     RangeFetcher

	// Seeds are scanned in order, the first one to contain a block wins.
	// None of them may be Output.
	Seeds []*match.Seed

	// Output receives the target. It's written in block order, and
	// truncated to the target's length if it has a Truncate method.
	Output io.ReadWriteSeeker

	// SelfSeed scans Output last, for blocks a previous, interrupted
	// sync already wrote.
	SelfSeed bool

	Consumer *state.Consumer
	// OnProgress receives the number of target bytes written so far
	OnProgress func(done int64)
}

func (p Params) validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ControlFile, validation.Required),
		validation.Field(&p.Fetcher, validation.Required),
		validation.Field(&p.Output, validation.Required),
	)
}

// Result describes how the target was obtained.
type Result struct {
	Plan plan.Summary

	// LocalBytes were copied from seeds, RemoteBytes were downloaded
	LocalBytes  int64
	RemoteBytes int64
}

// Sync writes the target described by params.ControlFile to
// params.Output, then checks it against the control file's SHA-1.
//
// On cancellation or failure, whatever was written to Output stays
// there: it can be used to seed the next attempt.
func Sync(ctx context.Context, params Params) (*Result, error) {
	err := params.validate()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	consumer := params.Consumer
	if consumer == nil {
		consumer = &state.Consumer{}
	}

	for _, seed := range params.Seeds {
		if seed == nil || seed.Reader == nil {
			return nil, errors.New("zsync: nil seed")
		}
		if sameStream(seed.Reader, params.Output) {
			return nil, errors.Errorf("zsync: seed %s is the output, use SelfSeed instead", seed)
		}
	}

	cf := params.ControlFile
	h := &cf.Header

	matcher, err := match.NewMatcher(cf, consumer)
	if err != nil {
		return nil, err
	}

	seeds := params.Seeds
	if params.SelfSeed {
		seeds = append(seeds[:len(seeds):len(seeds)], &match.Seed{
			Name:   "output",
			Reader: params.Output,
			Self:   true,
		})
	}

	consumer.ProgressLabel("Looking for local blocks...")
	for _, seed := range seeds {
		err := matcher.Scan(ctx, seed)
		if err != nil {
			return nil, err
		}
	}

	ops := plan.Make(h.NumBlocks(), matcher.Assignments())
	summary := plan.Summarize(ops)
	consumer.Infof("%s: %d/%d blocks found locally, downloading %d blocks in %d ranges",
		h.Filename, summary.LocalBlocks, h.NumBlocks(), summary.RemoteBlocks, summary.RemoteRanges)

	ex := &executor{
		header:     h,
		fetcher:    params.Fetcher,
		output:     params.Output,
		consumer:   consumer,
		onProgress: params.OnProgress,
		buf:        make([]byte, h.BlockSize),
	}

	consumer.ProgressLabel("Building " + h.Filename)
	err = ex.execute(ctx, ops)
	if err != nil {
		return nil, err
	}

	err = zerrors.CheckCancelled(ctx)
	if err != nil {
		return nil, err
	}

	consumer.ProgressLabel("Verifying...")
	err = verify(ctx, params.Output, cf)
	if err != nil {
		return nil, err
	}

	consumer.Debugf("%s: copied %s, downloaded %s",
		h.Filename, united.FormatBytes(ex.localBytes), united.FormatBytes(ex.remoteBytes))

	return &Result{
		Plan:        summary,
		LocalBytes:  ex.localBytes,
		RemoteBytes: ex.remoteBytes,
	}, nil
}

// sameStream reports whether a and b are the same object. Values of
// uncomparable types are never considered the same.
func sameStream(a any, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta == nil || ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
