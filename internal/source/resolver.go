package source

import (
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Resolver maps the url request parameter onto a RangeReader. Local paths are
// confined to Root; http(s) references pass through. When a BlockCache is
// configured, remote sources are wrapped with it.
type Resolver struct {
	Root   string
	Client *http.Client
	Cache  *BlockCache
}

// NewResolver builds a resolver rooted at root. cache may be nil to disable
// read caching.
func NewResolver(root string, cache *BlockCache) *Resolver {
	return &Resolver{
		Root:   root,
		Client: &http.Client{Timeout: 30 * time.Second},
		Cache:  cache,
	}
}

// Resolve opens the raster referenced by raw.
func (rv *Resolver) Resolve(raw string) (RangeReader, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty url parameter", ErrInvalidURL)
	}

	switch {
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		if _, err := url.Parse(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
		src := NewHTTPSource(rv.Client, raw)
		if rv.Cache != nil {
			return rv.Cache.Wrap(src), nil
		}
		return src, nil

	case strings.HasPrefix(raw, "file://"):
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
		return rv.openLocal(u.Path)

	case strings.Contains(raw, "://"):
		return nil, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidURL, raw)

	default:
		return rv.openLocal(raw)
	}
}

func (rv *Resolver) openLocal(path string) (RangeReader, error) {
	resolved, err := rv.localPath(path)
	if err != nil {
		return nil, err
	}
	return NewFileSource(resolved)
}

// localPath joins path with the data root and rejects anything that escapes
// it, whether through absolute paths or .. traversal.
func (rv *Resolver) localPath(path string) (string, error) {
	root, err := filepath.Abs(rv.Root)
	if err != nil {
		return "", err
	}

	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Join(root, path)
	}

	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the data root", ErrForbidden, path)
	}
	return resolved, nil
}
