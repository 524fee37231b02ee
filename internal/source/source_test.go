package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFileSource(t *testing.T) {
	path := writeTemp(t, []byte("0123456789"))

	src, err := NewFileSource(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, int64(10), src.Size())
	assert.Equal(t, path, src.URL())

	got, err := src.ReadRange(context.Background(), 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), got)

	// A read over the end returns the available prefix.
	got, err = src.ReadRange(context.Background(), 8, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("89"), got)

	// A read starting past the end is an error.
	_, err = src.ReadRange(context.Background(), 10, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFileSourceMissing(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope.tif"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileSourceDirectory(t *testing.T) {
	_, err := NewFileSource(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidURL)
}

// rangeHandler serves body honoring single-range requests the way object
// stores do.
func rangeHandler(body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec := r.Header.Get("Range")
		if !strings.HasPrefix(spec, "bytes=") {
			w.Write(body)
			return
		}
		var start, end int64
		fmt.Sscanf(spec, "bytes=%d-%d", &start, &end)
		if start >= int64(len(body)) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if end >= int64(len(body)) {
			end = int64(len(body)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}
}

func TestHTTPSourceRangeReads(t *testing.T) {
	body := []byte("abcdefghijklmnopqrstuvwxyz")
	ts := httptest.NewServer(rangeHandler(body))
	defer ts.Close()

	src := NewHTTPSource(ts.Client(), ts.URL)
	defer src.Close()

	assert.Equal(t, int64(-1), src.Size(), "size unknown before the first read")

	got, err := src.ReadRange(context.Background(), 3, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("defgh"), got)
	assert.Equal(t, int64(26), src.Size(), "size learned from Content-Range")

	// Clipped at the end of the file.
	got, err = src.ReadRange(context.Background(), 24, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("yz"), got)

	// Past the known end fails without a round trip.
	_, err = src.ReadRange(context.Background(), 100, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestHTTPSourceFullBodyFallback(t *testing.T) {
	body := []byte("abcdefghijklmnopqrstuvwxyz")
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(body) // Range ignored
	}))
	defer ts.Close()

	src := NewHTTPSource(ts.Client(), ts.URL)
	defer src.Close()

	got, err := src.ReadRange(context.Background(), 3, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("defgh"), got)

	// Further reads come out of the remembered body.
	got, err = src.ReadRange(context.Background(), 20, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("uvwxyz"), got)
	assert.Equal(t, int64(1), hits.Load())
}

func TestHTTPSourceErrorStatuses(t *testing.T) {
	tests := []struct {
		status int
		check  func(t *testing.T, err error)
	}{
		{http.StatusNotFound, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNotFound) }},
		{http.StatusGone, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNotFound) }},
		{http.StatusForbidden, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrForbidden) }},
		{http.StatusUnauthorized, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrForbidden) }},
		{http.StatusInternalServerError, func(t *testing.T, err error) {
			var re *ReadError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, http.StatusInternalServerError, re.Status)
		}},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			src := NewHTTPSource(ts.Client(), ts.URL)
			_, err := src.ReadRange(context.Background(), 0, 10)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestContentRangeTotal(t *testing.T) {
	assert.Equal(t, int64(1234), contentRangeTotal("bytes 0-99/1234"))
	assert.Equal(t, int64(-1), contentRangeTotal("bytes 0-99/*"))
	assert.Equal(t, int64(-1), contentRangeTotal(""))
	assert.Equal(t, int64(-1), contentRangeTotal("bytes 0-99"))
}

func TestBlockCache(t *testing.T) {
	body := []byte("abcdefghijklmnopqrstuvwxyz")
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		rangeHandler(body)(w, r)
	}))
	defer ts.Close()

	cache, err := NewBlockCache(8, 16)
	require.NoError(t, err)

	src := cache.Wrap(NewHTTPSource(ts.Client(), ts.URL))
	defer src.Close()

	// First read spans blocks 0 and 1.
	got, err := src.ReadRange(context.Background(), 4, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("efghijkl"), got)
	assert.Equal(t, int64(2), hits.Load())
	assert.Equal(t, 2, cache.Len())

	// Same range again comes from cache.
	got, err = src.ReadRange(context.Background(), 4, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("efghijkl"), got)
	assert.Equal(t, int64(2), hits.Load())

	// A short tail block ends the read early instead of failing.
	got, err = src.ReadRange(context.Background(), 20, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("uvwxyz"), got)

	// A read entirely past the end is still an error.
	_, err = src.ReadRange(context.Background(), 100, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestBlockCacheSharedAcrossSources(t *testing.T) {
	path := writeTemp(t, []byte("0123456789"))
	cache, err := NewBlockCache(4, 8)
	require.NoError(t, err)

	a, err := NewFileSource(path)
	require.NoError(t, err)
	wrapped := cache.Wrap(a)

	_, err = wrapped.ReadRange(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, cache.Len())
	wrapped.Close()

	b, err := NewFileSource(path)
	require.NoError(t, err)
	defer b.Close()

	got, err := cache.Wrap(b).ReadRange(context.Background(), 4, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("4567"), got)
	assert.Equal(t, 3, cache.Len(), "blocks keyed by url survive reopening")
}

func TestBlockCacheRejectsZeroCapacity(t *testing.T) {
	_, err := NewBlockCache(8, 0)
	require.Error(t, err)
}

func TestResolverLocalPaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "scene.tif"), []byte("data"), 0o644))

	rv := NewResolver(root, nil)

	src, err := rv.Resolve("scene.tif")
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, int64(4), src.Size())

	// Absolute paths inside the root are fine too.
	src2, err := rv.Resolve(filepath.Join(root, "scene.tif"))
	require.NoError(t, err)
	src2.Close()
}

func TestResolverRejectsEscapes(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.Mkdir(root, 0o755))

	rv := NewResolver(root, nil)

	for _, raw := range []string{
		"../secret.tif",
		"a/../../secret.tif",
		"/etc/passwd",
	} {
		_, err := rv.Resolve(raw)
		require.Error(t, err, raw)
		assert.ErrorIs(t, err, ErrForbidden, raw)
	}
}

func TestResolverSchemes(t *testing.T) {
	rv := NewResolver(t.TempDir(), nil)

	_, err := rv.Resolve("")
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = rv.Resolve("s3://bucket/key.tif")
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = rv.Resolve("missing.tif")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolverWrapsRemoteWithCache(t *testing.T) {
	body := []byte("abcdefgh")
	ts := httptest.NewServer(rangeHandler(body))
	defer ts.Close()

	cache, err := NewBlockCache(4, 8)
	require.NoError(t, err)

	rv := NewResolver(t.TempDir(), cache)
	rv.Client = ts.Client()

	src, err := rv.Resolve(ts.URL)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.ReadRange(context.Background(), 0, 8)
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())
}
