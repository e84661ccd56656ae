package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/itchio/headway/state"
	"github.com/itchio/httpkit/neterr"
	"github.com/itchio/httpkit/retrycontext"
	"github.com/itchio/httpkit/timeout"
	"github.com/itchio/zsync/control"
	"github.com/itchio/zsync/zerrors"
	"github.com/pkg/errors"
)

// DefaultMaxTries is how many times a request is attempted before
// giving up, when it fails with a network error or a 5xx status
const DefaultMaxTries = 5

// maxErrorBody is how much of an error response is quoted in errors
const maxErrorBody = 256

type HTTPParams struct {
	// URL of the target file
	URL string

	// Client defaults to one with connect and read/write timeouts
	Client   *http.Client
	MaxTries int
	Consumer *state.Consumer

	// NoSleep retries right away instead of backing off
	NoSleep bool
}

func (p HTTPParams) validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.URL, validation.Required),
		validation.Field(&p.MaxTries, validation.Min(0)),
	)
}

// HTTPFetcher fetches ranges of a target with HTTP range requests.
type HTTPFetcher struct {
	url      string
	client   *http.Client
	maxTries int
	noSleep  bool
	consumer *state.Consumer

	stats Stats
}

func NewHTTP(params HTTPParams) (*HTTPFetcher, error) {
	err := params.validate()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	client := params.Client
	if client == nil {
		client = timeout.NewDefaultClient()
	}

	maxTries := params.MaxTries
	if maxTries == 0 {
		maxTries = DefaultMaxTries
	}

	consumer := params.Consumer
	if consumer == nil {
		consumer = &state.Consumer{}
	}

	return &HTTPFetcher{
		url:      params.URL,
		client:   client,
		maxTries: maxTries,
		noSleep:  params.NoSleep,
		consumer: consumer,
	}, nil
}

// FetchRange issues `Range: bytes=from-(to-1)` and requires a 206 answer
func (hf *HTTPFetcher) FetchRange(ctx context.Context, from int64, to int64) (io.ReadCloser, error) {
	if from < 0 || to <= from {
		return nil, errors.Wrapf(zerrors.ErrTransport, "invalid range %d-%d", from, to)
	}

	hf.consumer.Debugf("GET %s bytes %d-%d", hf.url, from, to-1)
	res, err := hf.get(ctx, fmt.Sprintf("bytes=%d-%d", from, to-1), http.StatusPartialContent)
	if err != nil {
		return nil, err
	}

	hf.stats.Ranges++
	return newCountingBody(res.Body, &hf.stats), nil
}

func (hf *HTTPFetcher) FetchAll(ctx context.Context) (io.ReadCloser, error) {
	hf.consumer.Debugf("GET %s", hf.url)
	res, err := hf.get(ctx, "", http.StatusOK)
	if err != nil {
		return nil, err
	}

	hf.stats.Fulls++
	return newCountingBody(res.Body, &hf.stats), nil
}

func (hf *HTTPFetcher) Stats() Stats {
	return hf.stats
}

func (hf *HTTPFetcher) get(ctx context.Context, byteRange string, expectedStatus int) (*http.Response, error) {
	retryCtx := retrycontext.New(retrycontext.Settings{
		MaxTries: hf.maxTries,
		Consumer: hf.consumer,
		NoSleep:  true,
		FakeSleep: func(d time.Duration) {
			if hf.noSleep {
				return
			}
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
		},
	})

	for retryCtx.ShouldTry() {
		err := zerrors.CheckCancelled(ctx)
		if err != nil {
			return nil, err
		}

		res, err := hf.do(ctx, byteRange)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.WithStack(zerrors.ErrCancelled)
			}
			if neterr.IsNetworkError(err) {
				retryCtx.Retry(err)
				if ctx.Err() != nil {
					return nil, errors.WithStack(zerrors.ErrCancelled)
				}
				continue
			}
			return nil, errors.Wrapf(zerrors.ErrTransport, "GET %s: %v", hf.url, err)
		}

		if res.StatusCode == expectedStatus {
			return res, nil
		}

		err = statusError(res, expectedStatus)
		if res.StatusCode/100 == 5 {
			retryCtx.Retry(err)
			if ctx.Err() != nil {
				return nil, errors.WithStack(zerrors.ErrCancelled)
			}
			continue
		}
		return nil, err
	}

	return nil, errors.Wrapf(zerrors.ErrTransport, "GET %s: giving up after %d tries: %v", hf.url, retryCtx.Tries, retryCtx.LastError)
}

func (hf *HTTPFetcher) do(ctx context.Context, byteRange string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hf.url, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}

	res, err := hf.client.Do(req)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// statusError consumes and closes the body of an unexpected response
func statusError(res *http.Response, expectedStatus int) error {
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	if err != nil {
		body = []byte("could not read error body")
	}

	if res.StatusCode == http.StatusOK && expectedStatus == http.StatusPartialContent {
		return errors.Wrapf(zerrors.ErrTransport, "%s doesn't support range requests (got HTTP 200)", res.Request.URL.Host)
	}
	return errors.Wrapf(zerrors.ErrTransport, "expected HTTP %d, got HTTP %d (%s)", expectedStatus, res.StatusCode, string(body))
}

// GetControl downloads and decodes a control file.
func GetControl(ctx context.Context, client *http.Client, controlURL string) (*control.File, error) {
	if client == nil {
		client = timeout.NewDefaultClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, controlURL, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	res, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.WithStack(zerrors.ErrCancelled)
		}
		return nil, errors.Wrapf(zerrors.ErrTransport, "GET %s: %v", controlURL, err)
	}

	if res.StatusCode != http.StatusOK {
		return nil, statusError(res, http.StatusOK)
	}
	defer res.Body.Close()

	cf, err := control.Read(res.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading control file from %s", controlURL)
	}
	return cf, nil
}
