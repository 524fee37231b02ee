package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// ReadError is returned when a remote server answers a range request with an
// unexpected status.
type ReadError struct {
	URL    string
	Status int
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("remote read of %s failed: HTTP %d", e.URL, e.Status)
}

// HTTPSource reads byte ranges from a remote file using HTTP Range requests.
// Servers that ignore Range and reply 200 with the full body are tolerated:
// the body is kept in memory and further reads are served from it.
type HTTPSource struct {
	client *http.Client
	url    string

	mu   sync.Mutex
	size int64
	body []byte // set when the server does not support ranges
}

// NewHTTPSource prepares a ranged reader for url. No request is made until
// the first ReadRange call.
func NewHTTPSource(client *http.Client, url string) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{client: client, url: url, size: -1}
}

func (s *HTTPSource) ReadRange(ctx context.Context, off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("invalid range %d+%d", off, n)
	}

	s.mu.Lock()
	body := s.body
	size := s.size
	s.mu.Unlock()

	if body != nil {
		return sliceRange(body, off, n, s.url)
	}
	if size >= 0 && off >= size {
		return nil, fmt.Errorf("read at %d past end of %s (%d bytes): %w", off, s.url, size, io.ErrUnexpectedEOF)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(n)-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if total := contentRangeTotal(resp.Header.Get("Content-Range")); total > 0 {
			s.mu.Lock()
			s.size = total
			s.mu.Unlock()
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", s.url, err)
		}
		return data, nil
	case http.StatusOK:
		// Server ignored the Range header; remember the whole body.
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", s.url, err)
		}
		s.mu.Lock()
		s.body = data
		s.size = int64(len(data))
		s.mu.Unlock()
		return sliceRange(data, off, n, s.url)
	case http.StatusNotFound, http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.url)
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", ErrForbidden, s.url)
	default:
		return nil, &ReadError{URL: s.url, Status: resp.StatusCode}
	}
}

func (s *HTTPSource) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *HTTPSource) URL() string { return s.url }

func (s *HTTPSource) Close() error { return nil }

func sliceRange(body []byte, off int64, n int, url string) ([]byte, error) {
	if off >= int64(len(body)) {
		return nil, fmt.Errorf("read at %d past end of %s (%d bytes): %w", off, url, len(body), io.ErrUnexpectedEOF)
	}
	end := off + int64(n)
	if end > int64(len(body)) {
		end = int64(len(body))
	}
	return body[off:end], nil
}

// contentRangeTotal parses the total size out of a "bytes a-b/total" header
// value. It returns -1 when the total is absent or malformed.
func contentRangeTotal(v string) int64 {
	idx := strings.LastIndexByte(v, '/')
	if idx < 0 || idx == len(v)-1 {
		return -1
	}
	total := v[idx+1:]
	if total == "*" {
		return -1
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return -1
	}
	return n
}
