package server

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/cogserve/internal/cog"
	"github.com/kiesman99/cogserve/internal/cog/cogtest"
	"github.com/kiesman99/cogserve/internal/config"
	rnd "github.com/kiesman99/cogserve/internal/render"
	"github.com/kiesman99/cogserve/internal/source"
)

const mercatorMax = 20037508.342789244

func testConfig(root string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Bind: "localhost", Port: 0, Timeout: 30 * time.Second},
		Data:   config.DataConfig{Root: root},
		Static: config.StaticConfig{Enabled: true, Listing: false},
		Cache:  config.CacheConfig{BlockSize: 64 * 1024, MaxBlocks: 64},
		Render: config.RenderConfig{TileSize: 256, MaxPreviewSize: 1024, Concurrency: 2},
		Log:    config.LogConfig{Level: "error", Format: "json"},
	}
}

// newTestServer stands up the full router over a data root holding synthetic
// rasters.
func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	h, err := New(cfg, zerolog.Nop(), "test")
	require.NoError(t, err)
	ts := httptest.NewServer(h.Routes())
	t.Cleanup(ts.Close)
	return ts
}

// writeFixtures populates root with the rasters the tests reference.
func writeFixtures(t *testing.T, root string) {
	t.Helper()

	// A 256x256 uint8 scene covering web mercator tile 2/2/1 exactly.
	cogtest.WriteFile(t, root, "scene.tif", cogtest.Options{
		Width: 256, Height: 256,
		PixelScale: mercatorMax / 2 / 256,
		OriginX:    0, OriginY: mercatorMax / 2,
		EPSG: 3857,
	})

	// A 16-bit scene without overviews or georeferencing.
	cogtest.WriteFile(t, root, "plain16.tif", cogtest.Options{
		Width: 128, Height: 128, DType: "uint16",
		Sample: func(b, x, y int) float64 { return float64(x * 30) },
	})

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("not a raster"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func getPNG(t *testing.T, url string) image.Image {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	return img
}

func TestHealth(t *testing.T) {
	root := t.TempDir()
	ts := newTestServer(t, testConfig(root))

	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	status := getJSON(t, ts.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "test", body.Version)
}

func TestInfo(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	ts := newTestServer(t, testConfig(root))

	var info struct {
		Width     int       `json:"width"`
		Height    int       `json:"height"`
		Bands     int       `json:"bands"`
		DType     string    `json:"dtype"`
		EPSG      int       `json:"epsg"`
		GeoBounds []float64 `json:"geographic_bounds"`
	}
	status := getJSON(t, ts.URL+"/cog/info?url=scene.tif", &info)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 256, info.Width)
	assert.Equal(t, 256, info.Height)
	assert.Equal(t, 1, info.Bands)
	assert.Equal(t, "uint8", info.DType)
	assert.Equal(t, 3857, info.EPSG)
	require.Len(t, info.GeoBounds, 4)
	assert.InDelta(t, 0, info.GeoBounds[0], 0.001, "west edge on the prime meridian")
	assert.InDelta(t, 90, info.GeoBounds[2], 0.001, "east edge at 90 degrees")
}

func TestValidateEndpoint(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	ts := newTestServer(t, testConfig(root))

	var report struct {
		Valid    bool     `json:"valid"`
		Warnings []string `json:"warnings"`
	}
	status := getJSON(t, ts.URL+"/cog/validate?url=scene.tif", &report)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, report.Valid)

	status = getJSON(t, ts.URL+"/cog/validate?url=plain16.tif", &report)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, report.Valid)
	assert.NotEmpty(t, report.Warnings, "no georeferencing should warn")
}

func TestPreview(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	ts := newTestServer(t, testConfig(root))

	img := getPNG(t, ts.URL+"/cog/preview?url=scene.tif")
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 256, img.Bounds().Dy())

	// max_size caps the longest output side.
	img = getPNG(t, ts.URL+"/cog/preview?url=scene.tif&max_size=64")
	assert.Equal(t, 64, img.Bounds().Dx())

	// Rescale and color formula flow through the pipeline.
	img = getPNG(t, ts.URL+"/cog/preview?url=plain16.tif&rescale=0,4000&color_formula=gamma+rgb+1.8")
	assert.Equal(t, 128, img.Bounds().Dx())
}

func TestPreviewErrors(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	ts := newTestServer(t, testConfig(root))

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCode   string
	}{
		{"missing url", "url=", http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad rescale", "url=scene.tif&rescale=oops", http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad formula", "url=scene.tif&color_formula=posterize+rgb+4", http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad max_size", "url=scene.tif&max_size=4", http.StatusBadRequest, "INVALID_REQUEST"},
		{"not found", "url=missing.tif", http.StatusNotFound, "SOURCE_NOT_FOUND"},
		{"traversal", "url=../escape.tif", http.StatusForbidden, "SOURCE_FORBIDDEN"},
		{"bad scheme", "url=gopher://x/y.tif", http.StatusBadRequest, "INVALID_REQUEST"},
		{"not a tiff", "url=notes.txt", http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body struct {
				Error     string `json:"error"`
				Message   string `json:"message"`
				RequestID string `json:"request_id"`
			}
			status := getJSON(t, ts.URL+"/cog/preview?"+tt.query, &body)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body.Error)
			assert.NotEmpty(t, body.Message)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestSafePreview(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	ts := newTestServer(t, testConfig(root))

	// Failures come back as 200 with a JSON body instead of an error status.
	resp, err := http.Get(ts.URL + "/cog/safe_preview?url=missing.tif")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "RENDER_FAILED", body.Error)
	assert.NotEmpty(t, body.Message)

	// A good request still yields the image.
	img := getPNG(t, ts.URL+"/cog/safe_preview?url=scene.tif")
	assert.Equal(t, 256, img.Bounds().Dx())
}

func TestTile(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	ts := newTestServer(t, testConfig(root))

	// scene.tif covers tile 2/2/1 exactly.
	img := getPNG(t, ts.URL+"/cog/tiles/2/2/1.png?url=scene.tif")
	require.Equal(t, 256, img.Bounds().Dx())
	require.Equal(t, 256, img.Bounds().Dy())

	_, _, _, a := img.At(128, 128).RGBA()
	assert.Equal(t, uint32(0xffff), a, "covered pixels are opaque")

	// A parent tile holds the scene in its lower-left quadrant.
	img = getPNG(t, ts.URL+"/cog/tiles/1/1/0.png?url=scene.tif")
	_, _, _, a = img.At(64, 192).RGBA()
	assert.Equal(t, uint32(0xffff), a, "scene quadrant is drawn")
	_, _, _, a = img.At(64, 64).RGBA()
	assert.Equal(t, uint32(0), a, "outside the scene stays transparent")
}

func TestTileErrors(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	ts := newTestServer(t, testConfig(root))

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   string
	}{
		{"outside raster", "/cog/tiles/2/0/0.png?url=scene.tif", http.StatusNotFound, "OUT_OF_BOUNDS"},
		{"x beyond zoom", "/cog/tiles/1/5/0.png?url=scene.tif", http.StatusBadRequest, "INVALID_REQUEST"},
		{"negative zoom", "/cog/tiles/-1/0/0.png?url=scene.tif", http.StatusBadRequest, "INVALID_REQUEST"},
		{"no georeferencing", "/cog/tiles/2/2/1.png?url=plain16.tif", http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body struct {
				Error string `json:"error"`
			}
			status := getJSON(t, ts.URL+tt.path, &body)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body.Error)
		})
	}
}

func TestPoint(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	ts := newTestServer(t, testConfig(root))

	var body struct {
		Coordinates []float64 `json:"coordinates"`
		Values      []float64 `json:"values"`
		DType       string    `json:"dtype"`
	}
	status := getJSON(t, ts.URL+"/cog/point/44,40?url=scene.tif", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []float64{44, 40}, body.Coordinates)
	assert.Equal(t, "uint8", body.DType)
	// lon 44, lat 40 lands on pixel (125, 131) of the gradient.
	require.Len(t, body.Values, 1)
	assert.Equal(t, float64((125+2*131)%256), body.Values[0])

	var errBody struct {
		Error string `json:"error"`
	}
	status = getJSON(t, ts.URL+"/cog/point/-120,40?url=scene.tif", &errBody)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "OUT_OF_BOUNDS", errBody.Error)

	status = getJSON(t, ts.URL+"/cog/point/10,95?url=scene.tif", &errBody)
	assert.Equal(t, http.StatusBadRequest, status)

	status = getJSON(t, ts.URL+"/cog/point/44,40?url=plain16.tif", &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestStaticMount(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	ts := newTestServer(t, testConfig(root))

	resp, err := http.Get(ts.URL + "/files/notes.txt")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "not a raster", string(body))

	// Listings are off by default.
	var errBody struct {
		Error string `json:"error"`
	}
	status := getJSON(t, ts.URL+"/files/", &errBody)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "LISTING_DISABLED", errBody.Error)

	status = getJSON(t, ts.URL+"/files/sub", &errBody)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestStaticMountWithListing(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	cfg := testConfig(root)
	cfg.Static.Listing = true
	ts := newTestServer(t, cfg)

	resp, err := http.Get(ts.URL + "/files/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "notes.txt")
}

func TestStaticMountDisabled(t *testing.T) {
	root := t.TempDir()
	writeFixtures(t, root)
	cfg := testConfig(root)
	cfg.Static.Enabled = false
	ts := newTestServer(t, cfg)

	resp, err := http.Get(ts.URL + "/files/notes.txt")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	root := t.TempDir()
	ts := newTestServer(t, testConfig(root))

	// Generate one request so the counters exist.
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "cogserve_http_requests_total")
}

func TestLogRoutes(t *testing.T) {
	root := t.TempDir()
	h, err := New(testConfig(root), zerolog.Nop(), "test")
	require.NoError(t, err)

	// Walking the route tree must cover every mounted pattern without error.
	LogRoutes(h.Routes(), zerolog.Nop())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{source.ErrNotFound, http.StatusNotFound, "SOURCE_NOT_FOUND"},
		{source.ErrForbidden, http.StatusForbidden, "SOURCE_FORBIDDEN"},
		{source.ErrInvalidURL, http.StatusBadRequest, "INVALID_REQUEST"},
		{rnd.ErrBadParam, http.StatusBadRequest, "INVALID_REQUEST"},
		{cog.ErrNotTIFF, http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT"},
		{cog.ErrUnsupportedFormat, http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT"},
		{cog.ErrUnsupportedCompression, http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT"},
		{fmt.Errorf("wrapped: %w", source.ErrNotFound), http.StatusNotFound, "SOURCE_NOT_FOUND"},
		{&source.ReadError{URL: "x", Status: 500}, http.StatusBadGateway, "SOURCE_READ_ERROR"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		status, code := classifyError(tt.err)
		assert.Equal(t, tt.wantStatus, status, "%v", tt.err)
		assert.Equal(t, tt.wantCode, code, "%v", tt.err)
	}
}
