package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrBlobNotFound indicates the remote store has no object under the key
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is a key-addressed remote object store, the durable second
// tier behind the local cache file.
type BlobStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// HTTPBlobStore implements BlobStore against a key-addressed HTTP
// object endpoint: HEAD/GET/PUT {base}/{key}.
type HTTPBlobStore struct {
	client *resty.Client
}

// BlobOption configures the HTTP blob store
type BlobOption func(*HTTPBlobStore)

// WithBlobTimeout sets the per-request timeout
func WithBlobTimeout(timeout time.Duration) BlobOption {
	return func(s *HTTPBlobStore) {
		s.client.SetTimeout(timeout)
	}
}

// NewHTTPBlobStore creates a blob store rooted at the given base URL
func NewHTTPBlobStore(baseURL string, opts ...BlobOption) *HTTPBlobStore {
	store := &HTTPBlobStore{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Exists reports whether the key holds an object
func (s *HTTPBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.client.R().SetContext(ctx).Head("/" + key)
	if err != nil {
		return false, fmt.Errorf("blob head %s: %w", key, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	if resp.IsError() {
		return false, fmt.Errorf("blob head %s: HTTP %d", key, resp.StatusCode())
	}
	return true, nil
}

// Get downloads the object under the key
func (s *HTTPBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.R().SetContext(ctx).Get("/" + key)
	if err != nil {
		return nil, fmt.Errorf("blob get %s: %w", key, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("blob get %s: HTTP %d", key, resp.StatusCode())
	}
	return resp.Body(), nil
}

// Put uploads the object under the key, replacing any previous content
func (s *HTTPBlobStore) Put(ctx context.Context, key string, data []byte) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		Put("/" + key)
	if err != nil {
		return fmt.Errorf("blob put %s: %w", key, err)
	}
	if resp.IsError() {
		return fmt.Errorf("blob put %s: HTTP %d", key, resp.StatusCode())
	}
	return nil
}
