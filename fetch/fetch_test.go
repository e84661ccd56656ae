package fetch_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/itchio/zsync/control"
	"github.com/itchio/zsync/fetch"
	"github.com/itchio/zsync/wtest"
	"github.com/itchio/zsync/zerrors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func serveBytes(data []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "target.bin", time.Time{}, bytes.NewReader(data))
	}
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()

	buf, err := io.ReadAll(rc)
	wtest.Must(t, err)
	return buf
}

func Test_HTTPRanges(t *testing.T) {
	data := wtest.RandomData(t, 0x20, 100000)

	var requests int64
	var lastRange atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		lastRange.Store(r.Header.Get("Range"))
		serveBytes(data)(w, r)
	}))
	defer server.Close()

	hf, err := fetch.NewHTTP(fetch.HTTPParams{URL: server.URL + "/target.bin"})
	wtest.Must(t, err)

	ctx := context.Background()

	body, err := hf.FetchRange(ctx, 2048, 6144)
	wtest.Must(t, err)
	wtest.AssertSameBytes(t, data[2048:6144], readAll(t, body))
	assert.EqualValues(t, "bytes=2048-6143", lastRange.Load())

	body, err = hf.FetchRange(ctx, 99000, 100000)
	wtest.Must(t, err)
	wtest.AssertSameBytes(t, data[99000:], readAll(t, body))

	body, err = hf.FetchAll(ctx)
	wtest.Must(t, err)
	wtest.AssertSameBytes(t, data, readAll(t, body))
	assert.EqualValues(t, "", lastRange.Load())

	stats := hf.Stats()
	assert.EqualValues(t, 2, stats.Ranges)
	assert.EqualValues(t, 1, stats.Fulls)
	assert.EqualValues(t, 4096+1000+100000, stats.Bytes)
	assert.EqualValues(t, 3, atomic.LoadInt64(&requests))
}

func Test_HTTPNoRangeSupport(t *testing.T) {
	data := wtest.RandomData(t, 0x21, 10000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}))
	defer server.Close()

	hf, err := fetch.NewHTTP(fetch.HTTPParams{URL: server.URL})
	wtest.Must(t, err)

	_, err = hf.FetchRange(context.Background(), 0, 100)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, zerrors.ErrTransport))
	assert.Contains(t, err.Error(), "range requests")
}

func Test_HTTPNotFound(t *testing.T) {
	var requests int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	hf, err := fetch.NewHTTP(fetch.HTTPParams{URL: server.URL})
	wtest.Must(t, err)

	_, err = hf.FetchRange(context.Background(), 0, 100)
	assert.True(t, errors.Is(err, zerrors.ErrTransport))
	assert.Contains(t, err.Error(), "HTTP 404")

	// client errors aren't retried
	assert.EqualValues(t, 1, atomic.LoadInt64(&requests))
}

func Test_HTTPCancelled(t *testing.T) {
	server := httptest.NewServer(serveBytes([]byte("hello")))
	defer server.Close()

	hf, err := fetch.NewHTTP(fetch.HTTPParams{URL: server.URL})
	wtest.Must(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = hf.FetchRange(ctx, 0, 2)
	assert.True(t, errors.Is(err, zerrors.ErrCancelled))
}

func Test_HTTPRetriesServerErrors(t *testing.T) {
	data := wtest.RandomData(t, 0x23, 10000)

	var requests int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&requests, 1) <= 2 {
			http.Error(w, "try again later", http.StatusServiceUnavailable)
			return
		}
		serveBytes(data)(w, r)
	}))
	defer server.Close()

	hf, err := fetch.NewHTTP(fetch.HTTPParams{
		URL:     server.URL,
		NoSleep: true,
	})
	wtest.Must(t, err)

	body, err := hf.FetchRange(context.Background(), 100, 200)
	wtest.Must(t, err)
	wtest.AssertSameBytes(t, data[100:200], readAll(t, body))
	assert.EqualValues(t, 3, atomic.LoadInt64(&requests))

	atomic.StoreInt64(&requests, -100)
	hf, err = fetch.NewHTTP(fetch.HTTPParams{
		URL:      server.URL,
		MaxTries: 3,
		NoSleep:  true,
	})
	wtest.Must(t, err)

	_, err = hf.FetchRange(context.Background(), 100, 200)
	assert.True(t, errors.Is(err, zerrors.ErrTransport))
	assert.Contains(t, err.Error(), "giving up after 3 tries")
}

func Test_HTTPCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	hf, err := fetch.NewHTTP(fetch.HTTPParams{URL: server.URL})
	wtest.Must(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = hf.FetchRange(ctx, 0, 2)
	assert.True(t, errors.Is(err, zerrors.ErrCancelled))
	// the first backoff is at least a second
	assert.True(t, time.Since(start) < 900*time.Millisecond, "took %s", time.Since(start))
}

func Test_HTTPParams(t *testing.T) {
	_, err := fetch.NewHTTP(fetch.HTTPParams{})
	assert.Error(t, err)
}

func Test_GetControl(t *testing.T) {
	data := wtest.RandomData(t, 0x22, 5000)
	cf, err := control.Make(control.MakeParams{
		Source:   bytes.NewReader(data),
		Filename: "target.bin",
	})
	wtest.Must(t, err)

	encoded := new(bytes.Buffer)
	wtest.Must(t, cf.Write(encoded))

	mux := http.NewServeMux()
	mux.HandleFunc("/files/target.bin.zsync", serveBytes(encoded.Bytes()))
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx := context.Background()
	got, err := fetch.GetControl(ctx, nil, server.URL+"/files/target.bin.zsync")
	wtest.Must(t, err)
	assert.EqualValues(t, cf.Header, got.Header)

	_, err = fetch.GetControl(ctx, nil, server.URL+"/files/missing.zsync")
	assert.True(t, errors.Is(err, zerrors.ErrTransport))
}

func Test_ResolveURL(t *testing.T) {
	resolve := func(controlURL string, headerURL string) string {
		t.Helper()
		res, err := fetch.ResolveURL(controlURL, &control.Header{URL: headerURL})
		wtest.Must(t, err)
		return res
	}

	assert.EqualValues(t, "https://example.org/files/target.bin",
		resolve("https://example.org/files/target.bin.zsync", "target.bin"))
	assert.EqualValues(t, "https://example.org/other/target.bin",
		resolve("https://example.org/files/target.bin.zsync", "../other/target.bin"))
	assert.EqualValues(t, "https://mirror.example.com/target.bin",
		resolve("https://example.org/files/target.bin.zsync", "https://mirror.example.com/target.bin"))
	assert.EqualValues(t, "https://example.org/files/target.bin",
		resolve("https://example.org/files/target.bin.zsync", ""))

	_, err := fetch.ResolveURL("https://example.org/files/control", &control.Header{})
	assert.Error(t, err)
}

func Test_ReaderAtFetcher(t *testing.T) {
	data := wtest.RandomData(t, 0x23, 10000)
	rf := fetch.NewBytes(data)

	var fetched [][2]int64
	rf.OnFetch = func(from int64, to int64) {
		fetched = append(fetched, [2]int64{from, to})
	}

	ctx := context.Background()

	body, err := rf.FetchRange(ctx, 100, 200)
	wtest.Must(t, err)
	wtest.AssertSameBytes(t, data[100:200], readAll(t, body))

	body, err = rf.FetchAll(ctx)
	wtest.Must(t, err)
	wtest.AssertSameBytes(t, data, readAll(t, body))

	_, err = rf.FetchRange(ctx, 9000, 10001)
	assert.True(t, errors.Is(err, zerrors.ErrTransport))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = rf.FetchRange(cancelled, 0, 1)
	assert.True(t, errors.Is(err, zerrors.ErrCancelled))

	assert.EqualValues(t, [][2]int64{{100, 200}, {0, 10000}}, fetched)
	assert.EqualValues(t, fetch.Stats{Ranges: 1, Fulls: 1, Bytes: 10100}, rf.Stats())
}
