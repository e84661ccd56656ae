// Package zerrors holds the error kinds a sync can fail with. Callers
// tell them apart with errors.Is, every error returned by this module
// wraps at most one of them.
package zerrors

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrFormat means a control file could not be decoded: missing header key,
	// malformed number, or a block table that doesn't match Length/Blocksize.
	ErrFormat = errors.New("malformed control file")

	// ErrUnsupported means a control file asks for something the matcher
	// can't do, like a sequence-match depth other than 1 or 2.
	ErrUnsupported = errors.New("unsupported control file configuration")

	// ErrCancelled is returned at a poll point once the context is done.
	// Bytes already written to the destination are left in place.
	ErrCancelled = errors.New("sync cancelled")

	// ErrTransport means a range fetch failed or returned something unexpected.
	ErrTransport = errors.New("range fetch failed")

	// ErrVerification means the reconstructed output doesn't hash to the
	// control file's SHA-1.
	ErrVerification = errors.New("verification failed")
)

// CheckCancelled returns ErrCancelled (with a stack) if ctx is done.
func CheckCancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return errors.WithStack(ErrCancelled)
	}
	return nil
}
