package server

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chirender "github.com/go-chi/render"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/kiesman99/cogserve/internal/cog"
	"github.com/kiesman99/cogserve/internal/render"
	"github.com/kiesman99/cogserve/internal/source"
)

// renderParams are the query parameters shared by all image-producing
// endpoints.
type renderParams struct {
	url     string
	rescale []render.RescaleRange
	formula render.ColorFormula
	maxSize int
}

func (h *Handler) parseRenderParams(r *http.Request) (renderParams, error) {
	q := r.URL.Query()
	p := renderParams{
		url:     q.Get("url"),
		maxSize: h.cfg.Render.MaxPreviewSize,
	}

	var err error
	if p.rescale, err = render.ParseRescale(q.Get("rescale")); err != nil {
		return p, err
	}
	if p.formula, err = render.ParseColorFormula(q.Get("color_formula")); err != nil {
		return p, err
	}
	if raw := q.Get("max_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 16 {
			return p, fmt.Errorf("%w: max_size %q", render.ErrBadParam, raw)
		}
		if size < p.maxSize {
			p.maxSize = size
		}
	}
	return p, nil
}

// openReader resolves the url parameter and parses the COG behind it. The
// returned source must be closed by the caller.
func (h *Handler) openReader(ctx context.Context, rawURL string) (*cog.Reader, source.RangeReader, error) {
	src, err := h.resolver.Resolve(rawURL)
	if err != nil {
		return nil, nil, err
	}
	rd, err := cog.Open(ctx, src)
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return rd, src, nil
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	rd, src, err := h.openReader(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	defer src.Close()

	info := rd.Info()
	if rd.Geo != nil && rd.EPSG == epsgWebMercator {
		ext := rd.Geo.Extent(rd.Levels[0].Width, rd.Levels[0].Height)
		geo := project.Bound(orb.Bound{
			Min: orb.Point{ext.MinX, ext.MinY},
			Max: orb.Point{ext.MaxX, ext.MaxY},
		}, project.Mercator.ToWGS84)
		info.GeoBounds = []float64{geo.Min[0], geo.Min[1], geo.Max[0], geo.Max[1]}
	}
	chirender.JSON(w, r, info)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	rd, src, err := h.openReader(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	defer src.Close()

	chirender.JSON(w, r, rd.Validate())
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, err := h.parseRenderParams(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	png, err := h.renderPreview(r.Context(), p)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writePNG(w, png)
}

// handleSafePreview is the forgiving variant: whatever goes wrong while
// producing the image is reported as a JSON body carrying the message, with a
// 200 status, so embedding clients never see a broken image response.
func (h *Handler) handleSafePreview(w http.ResponseWriter, r *http.Request) {
	p, err := h.parseRenderParams(r)
	if err == nil {
		var png []byte
		if png, err = h.renderPreview(r.Context(), p); err == nil {
			writePNG(w, png)
			return
		}
	}
	chirender.JSON(w, r, errorResponse{Error: codeRenderFailed, Message: err.Error()})
}

func (h *Handler) renderPreview(ctx context.Context, p renderParams) ([]byte, error) {
	rd, src, err := h.openReader(ctx, p.url)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	h.sema.Add()
	defer h.sema.Done()

	raster, err := rd.ReadPreview(ctx, p.maxSize)
	if err != nil {
		return nil, err
	}
	return h.renderRaster(raster, p)
}

// renderRaster runs the shared rescale -> color formula -> compose -> resize
// -> encode pipeline.
func (h *Handler) renderRaster(raster *cog.Raster, p renderParams) ([]byte, error) {
	img8, err := render.Rescale(raster, p.rescale)
	if err != nil {
		return nil, err
	}
	if err := p.formula.Apply(img8); err != nil {
		return nil, err
	}
	img, err := render.Compose(img8)
	if err != nil {
		return nil, err
	}
	return render.EncodePNG(render.FitWithin(img, p.maxSize))
}

type pointResponse struct {
	Coordinates []float64 `json:"coordinates"`
	Values      []float64 `json:"values"`
	DType       string    `json:"dtype"`
}

func (h *Handler) handlePoint(w http.ResponseWriter, r *http.Request) {
	lon, err1 := strconv.ParseFloat(chi.URLParam(r, "lon"), 64)
	lat, err2 := strconv.ParseFloat(chi.URLParam(r, "lat"), 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 {
		h.writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "point must be lon,lat in degrees")
		return
	}

	rd, src, err := h.openReader(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	defer src.Close()

	if rd.Geo == nil {
		h.writeError(w, r, http.StatusUnprocessableEntity, codeUnsupported, "raster has no georeferencing")
		return
	}

	x, y := lon, lat
	if rd.EPSG == epsgWebMercator {
		p := project.Point(orb.Point{lon, lat}, project.WGS84.ToMercator)
		x, y = p[0], p[1]
	}
	col, row := rd.Geo.CRSToPixel(x, y)
	main := &rd.Levels[0]
	if col < 0 || row < 0 || int(col) >= main.Width || int(row) >= main.Height {
		h.writeError(w, r, http.StatusNotFound, codeOutOfBounds, "point outside raster bounds")
		return
	}

	raster, err := rd.ReadWindow(r.Context(), 0, image.Rect(int(col), int(row), int(col)+1, int(row)+1))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	values := make([]float64, len(raster.Bands))
	for b := range raster.Bands {
		values[b] = raster.Bands[b][0]
	}
	chirender.JSON(w, r, pointResponse{
		Coordinates: []float64{lon, lat},
		Values:      values,
		DType:       rd.DType.String(),
	})
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
