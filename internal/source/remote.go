package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/cjeanneret/pixkeep/internal/failure"
)

const stepFetch = "fetch"

// ErrTooLarge reports a body that exceeded the fetcher's byte limit.
var ErrTooLarge = errors.New("response body too large")

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// Fetcher downloads remote images.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher creates a fetcher with the given client timeout and body limit.
// A maxBytes <= 0 disables the limit.
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// NewFetcherWithClient is NewFetcher with a caller supplied client.
func NewFetcherWithClient(client *http.Client, maxBytes int64) *Fetcher {
	return &Fetcher{client: client, maxBytes: maxBytes}
}

// Fetch GETs rawURL and returns the body as a Blob. The URL is not checked
// beyond what building the request requires. Transport errors and
// non-2xx statuses are NetworkFailure; a 2xx with no body is EmptyResponse.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, failure.New(failure.NetworkFailure, stepFetch, err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, failure.New(failure.NetworkFailure, stepFetch, err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	debug.Verbose("Did we get an ok result? %t (%d)", ok, resp.StatusCode)
	if !ok {
		return nil, failure.New(failure.NetworkFailure, stepFetch, &StatusError{Code: resp.StatusCode})
	}

	data, err := f.readBody(resp.Body)
	if err != nil {
		return nil, failure.New(failure.NetworkFailure, stepFetch, err)
	}
	if len(data) == 0 {
		return nil, failure.Newf(failure.EmptyResponse, stepFetch, "%s returned %d with no body", rawURL, resp.StatusCode)
	}

	mediaType := ""
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mediaType = mt
		}
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}

	debug.Verbose("Fetched %d bytes (%s) from %s", len(data), mediaType, rawURL)
	return NewBlob(mediaType, data), nil
}

func (f *Fetcher) readBody(r io.Reader) ([]byte, error) {
	if f.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(&io.LimitedReader{R: r, N: f.maxBytes + 1})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, f.maxBytes)
	}
	return data, nil
}
