// Package wtest contains helpers shared by this module's tests.
package wtest

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

// Must shows a complete error stack and fails a test immediately
// if err is non-nil
func Must(t *testing.T, err error) {
	if err != nil {
		t.Helper()
		t.Errorf("%+v", errors.WithStack(err))
		t.FailNow()
	}
}

// AssertSameBytes compares two buffers without dumping megabytes of hex
// when they differ: it reports lengths and the first differing offset.
func AssertSameBytes(t *testing.T, expected []byte, actual []byte) bool {
	t.Helper()

	if bytes.Equal(expected, actual) {
		return true
	}

	if len(expected) != len(actual) {
		t.Errorf("length mismatch: expected %d bytes, got %d", len(expected), len(actual))
	}

	n := min(len(expected), len(actual))
	for i := 0; i < n; i++ {
		if expected[i] != actual[i] {
			t.Errorf("first difference at offset %d: expected %#x, got %#x", i, expected[i], actual[i])
			break
		}
	}
	return false
}
