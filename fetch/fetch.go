// Package fetch provides range fetchers: over HTTP, and over anything
// that implements io.ReaderAt.
package fetch

import (
	"io"
	"net/url"
	"strings"

	"github.com/itchio/zsync/control"
	"github.com/itchio/zsync/counter"
	"github.com/pkg/errors"
)

// Stats counts what a fetcher was asked for.
type Stats struct {
	// Ranges is the number of range requests
	Ranges int64
	// Fulls is the number of whole-file requests
	Fulls int64
	// Bytes is the number of body bytes handed out
	Bytes int64
}

// ResolveURL returns where the target of a control file can be fetched.
// A relative header URL is resolved against controlURL. Without a header
// URL, the target is assumed to sit next to the control file, minus the
// `.zsync` extension.
func ResolveURL(controlURL string, h *control.Header) (string, error) {
	base, err := url.Parse(controlURL)
	if err != nil {
		return "", errors.WithStack(err)
	}

	if h.URL == "" {
		if !strings.HasSuffix(base.Path, ".zsync") {
			return "", errors.Errorf("control file %s has no URL header and no .zsync extension", controlURL)
		}
		stripped := *base
		stripped.Path = strings.TrimSuffix(base.Path, ".zsync")
		stripped.RawPath = ""
		return stripped.String(), nil
	}

	ref, err := url.Parse(h.URL)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return base.ResolveReference(ref).String(), nil
}

// countingBody counts bytes read from a response body into Stats.Bytes
type countingBody struct {
	*counter.Reader
	closer io.Closer
}

func newCountingBody(body io.ReadCloser, stats *Stats) io.ReadCloser {
	var last int64
	return &countingBody{
		Reader: counter.NewReaderCallback(func(count int64) {
			stats.Bytes += count - last
			last = count
		}, body),
		closer: body,
	}
}

func (cb *countingBody) Close() error {
	return cb.closer.Close()
}
