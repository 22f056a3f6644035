package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const fetchTimeout = 30 * time.Second

// Fetcher downloads document bytes from the opaque blob store by URL.
type Fetcher struct {
	client  *http.Client
	maxSize int64
}

// NewFetcher creates a Fetcher. maxSize bounds accepted blob sizes;
// a nil client defaults to http.DefaultClient.
func NewFetcher(client *http.Client, maxSize int64) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, maxSize: maxSize}
}

// Fetch retrieves the blob at url. Network errors and server-side (5xx)
// responses are transient and left retryable; client-side (4xx) responses
// and oversized blobs are terminal, since redelivery cannot change them.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Terminal(fmt.Errorf("invalid storage url %q: %w", url, err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// ok
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, Terminal(fmt.Errorf("downloading %s: status %d", url, resp.StatusCode))
	default:
		return nil, fmt.Errorf("downloading %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, Terminal(fmt.Errorf("blob at %s exceeds size limit of %d bytes", url, f.maxSize))
	}
	return data, nil
}

// Delete asks the blob store to remove the stored bytes. Best-effort: the
// caller logs failures and moves on.
func (f *Fetcher) Delete(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("invalid storage url %q: %w", url, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", url, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("deleting %s: status %d", url, resp.StatusCode)
	}
	return nil
}
