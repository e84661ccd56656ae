package zsync

import (
	"context"
	"io"

	"github.com/itchio/headway/state"
	"github.com/itchio/zsync/control"
	"github.com/itchio/zsync/counter"
	"github.com/itchio/zsync/ctxcopy"
	"github.com/itchio/zsync/plan"
	"github.com/itchio/zsync/zerrors"
	"github.com/pkg/errors"
)

type truncater interface {
	Truncate(size int64) error
}

type executor struct {
	header     *control.Header
	fetcher    RangeFetcher
	output     io.ReadWriteSeeker
	consumer   *state.Consumer
	onProgress func(done int64)

	buf []byte

	done        int64
	localBytes  int64
	remoteBytes int64
}

func (ex *executor) execute(ctx context.Context, ops []plan.Operation) error {
	for _, op := range ops {
		err := zerrors.CheckCancelled(ctx)
		if err != nil {
			return err
		}

		switch op.Type {
		case plan.OpLocal:
			err = ex.copyLocal(op)
		case plan.OpRemote:
			err = ex.copyRemote(ctx, op)
		default:
			err = errors.Errorf("unknown operation type %s", op.Type)
		}
		if err != nil {
			return err
		}

		ex.report(ex.done)
	}

	return ex.truncate()
}

func (ex *executor) copyLocal(op plan.Operation) error {
	bs := int64(ex.header.BlockSize)
	source := op.Source.Reader

	_, err := source.Seek(op.SourceOffset, io.SeekStart)
	if err != nil {
		return errors.Wrapf(err, "seeking %s to %d", op.Source, op.SourceOffset)
	}

	// matches near the end of a seed extend into zero padding
	n, err := io.ReadFull(source, ex.buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return errors.Wrapf(err, "reading block %d from %s at %d", op.BlockIndex, op.Source, op.SourceOffset)
	}
	clear(ex.buf[n:])

	// source and output may be the same stream, so always seek
	_, err = ex.output.Seek(op.BlockIndex*bs, io.SeekStart)
	if err != nil {
		return errors.WithStack(err)
	}

	length := ex.header.BlockLength(op.BlockIndex)
	_, err = ex.output.Write(ex.buf[:length])
	if err != nil {
		return errors.Wrapf(err, "writing block %d", op.BlockIndex)
	}

	ex.done += length
	ex.localBytes += length
	return nil
}

func (ex *executor) copyRemote(ctx context.Context, op plan.Operation) error {
	bs := int64(ex.header.BlockSize)
	from := op.BlockIndex * bs
	to := min((op.BlockIndex+op.BlockSpan)*bs, ex.header.Length)

	body, err := ex.fetcher.FetchRange(ctx, from, to)
	if err != nil {
		return transportError(ctx, err, from, to)
	}
	defer body.Close()

	_, err = ex.output.Seek(from, io.SeekStart)
	if err != nil {
		return errors.WithStack(err)
	}

	base := ex.done
	cw := counter.NewWriterCallback(func(count int64) {
		ex.report(base + count)
	}, ex.output)

	copied, err := ctxcopy.Do(ctx, cw, body)
	ex.done += copied
	ex.remoteBytes += copied
	if err != nil {
		return transportError(ctx, err, from, to)
	}

	if copied != to-from {
		return errors.Wrapf(zerrors.ErrTransport, "range %d-%d: got %d bytes, expected %d", from, to, copied, to-from)
	}
	return nil
}

func (ex *executor) truncate() error {
	t, ok := ex.output.(truncater)
	if !ok {
		return nil
	}
	return errors.WithStack(t.Truncate(ex.header.Length))
}

func (ex *executor) report(done int64) {
	if ex.header.Length > 0 {
		ex.consumer.Progress(float64(done) / float64(ex.header.Length))
	}
	if ex.onProgress != nil {
		ex.onProgress(done)
	}
}

// transportError makes sure err is either a cancellation or wraps
// ErrTransport, and says which range it concerns.
func transportError(ctx context.Context, err error, from int64, to int64) error {
	if errors.Is(err, zerrors.ErrCancelled) || ctx.Err() != nil {
		return errors.WithStack(zerrors.ErrCancelled)
	}
	if errors.Is(err, zerrors.ErrTransport) {
		return errors.Wrapf(err, "fetching range %d-%d", from, to)
	}
	return errors.Wrapf(zerrors.ErrTransport, "fetching range %d-%d: %+v", from, to, err)
}

// fetchAll streams the whole target into output.
func fetchAll(ctx context.Context, params Params) (*Result, error) {
	h := &params.ControlFile.Header
	consumer := params.Consumer
	if consumer == nil {
		consumer = &state.Consumer{}
	}

	err := zerrors.CheckCancelled(ctx)
	if err != nil {
		return nil, err
	}

	consumer.ProgressLabel("Downloading " + h.Filename)
	body, err := params.Fetcher.FetchAll(ctx)
	if err != nil {
		return nil, transportError(ctx, err, 0, h.Length)
	}
	defer body.Close()

	_, err = params.Output.Seek(0, io.SeekStart)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	ex := &executor{
		header:     h,
		output:     params.Output,
		consumer:   consumer,
		onProgress: params.OnProgress,
	}
	cw := counter.NewWriterCallback(ex.report, params.Output)

	copied, err := ctxcopy.Do(ctx, cw, body)
	if err != nil {
		return nil, transportError(ctx, err, 0, h.Length)
	}
	if copied != h.Length {
		return nil, errors.Wrapf(zerrors.ErrTransport, "full download: got %d bytes, expected %d", copied, h.Length)
	}

	err = ex.truncate()
	if err != nil {
		return nil, err
	}

	err = zerrors.CheckCancelled(ctx)
	if err != nil {
		return nil, err
	}

	consumer.ProgressLabel("Verifying...")
	err = verify(ctx, params.Output, params.ControlFile)
	if err != nil {
		return nil, err
	}

	numBlocks := h.NumBlocks()
	summary := plan.Summary{RemoteBlocks: numBlocks}
	if numBlocks > 0 {
		summary.RemoteRanges = 1
	}
	return &Result{
		Plan:        summary,
		RemoteBytes: copied,
	}, nil
}
