// Package source provides ranged access to raster files, whether they live on
// local disk or behind an HTTP server. Cloud-optimized GeoTIFFs are organized
// for partial reads, so everything downstream works through RangeReader
// instead of slurping whole files.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrNotFound means the referenced raster does not exist.
	ErrNotFound = errors.New("source not found")
	// ErrForbidden means the reference points outside the configured data root.
	ErrForbidden = errors.New("source access forbidden")
	// ErrInvalidURL means the url parameter could not be understood at all.
	ErrInvalidURL = errors.New("invalid source url")
)

// RangeReader reads byte ranges out of a single raster file.
//
// ReadRange returns up to n bytes starting at off. Reads that extend past the
// end of the file return the available prefix; a read starting at or past the
// end is an error.
type RangeReader interface {
	ReadRange(ctx context.Context, off int64, n int) ([]byte, error)
	// Size returns the total size in bytes, or -1 if not yet known.
	Size() int64
	// URL returns the reference this reader was opened from.
	URL() string
	Close() error
}

// FileSource reads ranges from a local file.
type FileSource struct {
	f    *os.File
	size int64
	url  string
}

// NewFileSource opens path for ranged reads.
func NewFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidURL, path)
	}
	return &FileSource{f: f, size: st.Size(), url: path}, nil
}

func (s *FileSource) ReadRange(_ context.Context, off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("invalid range %d+%d", off, n)
	}
	if off >= s.size {
		return nil, fmt.Errorf("read at %d past end of %s (%d bytes): %w", off, s.url, s.size, io.ErrUnexpectedEOF)
	}
	if off+int64(n) > s.size {
		n = int(s.size - off)
	}
	buf := make([]byte, n)
	if _, err := s.f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.url, err)
	}
	return buf, nil
}

func (s *FileSource) Size() int64 { return s.size }

func (s *FileSource) URL() string { return s.url }

func (s *FileSource) Close() error { return s.f.Close() }
