package server

import (
	"image"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
	xdraw "golang.org/x/image/draw"

	"github.com/kiesman99/cogserve/internal/cog"
	"github.com/kiesman99/cogserve/internal/render"
)

const (
	epsgWebMercator = 3857
	maxZoom         = 24
)

// handleTile serves one XYZ slippy-map tile cut out of the raster. The
// dataset must carry a Web Mercator geotransform; pixels outside the dataset
// stay transparent.
func (h *Handler) handleTile(w http.ResponseWriter, r *http.Request) {
	z, errZ := strconv.Atoi(chi.URLParam(r, "z"))
	x, errX := strconv.ParseUint(chi.URLParam(r, "x"), 10, 32)
	y, errY := strconv.ParseUint(chi.URLParam(r, "y"), 10, 32)
	if errZ != nil || errX != nil || errY != nil || z < 0 || z > maxZoom ||
		x >= 1<<uint(z) || y >= 1<<uint(z) {
		h.writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "invalid tile coordinates")
		return
	}

	p, err := h.parseRenderParams(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	rd, src, err := h.openReader(r.Context(), p.url)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	defer src.Close()

	if rd.Geo == nil {
		h.writeError(w, r, http.StatusUnprocessableEntity, codeUnsupported, "raster has no georeferencing")
		return
	}
	if rd.EPSG != 0 && rd.EPSG != epsgWebMercator {
		h.writeError(w, r, http.StatusUnprocessableEntity, codeUnsupported,
			"tile serving requires an EPSG:3857 raster, have EPSG:"+strconv.Itoa(rd.EPSG))
		return
	}

	tileBound := project.Bound(maptile.New(uint32(x), uint32(y), maptile.Zoom(z)).Bound(), project.WGS84.ToMercator)
	tileExt := cog.Extent{
		MinX: tileBound.Min[0], MinY: tileBound.Min[1],
		MaxX: tileBound.Max[0], MaxY: tileBound.Max[1],
	}

	main := &rd.Levels[0]
	if !rd.Geo.Extent(main.Width, main.Height).Intersects(tileExt) {
		h.writeError(w, r, http.StatusNotFound, codeOutOfBounds, "tile outside raster bounds")
		return
	}

	ts := h.cfg.Render.TileSize
	targetScale := (tileExt.MaxX - tileExt.MinX) / float64(ts)
	level := rd.LevelForScale(targetScale)
	lv := &rd.Levels[level]
	factor := float64(lv.Width) / float64(main.Width)

	// Tile corners in full-resolution pixels, scaled onto the chosen level.
	c0, r0 := rd.Geo.CRSToPixel(tileExt.MinX, tileExt.MaxY)
	c1, r1 := rd.Geo.CRSToPixel(tileExt.MaxX, tileExt.MinY)
	win := image.Rect(
		int(math.Floor(c0*factor)), int(math.Floor(r0*factor)),
		int(math.Ceil(c1*factor)), int(math.Ceil(r1*factor)),
	).Intersect(image.Rect(0, 0, lv.Width, lv.Height))

	canvas := image.NewNRGBA(image.Rect(0, 0, ts, ts))
	if !win.Empty() {
		h.sema.Add()
		raster, err := rd.ReadWindow(r.Context(), level, win)
		if err != nil {
			h.sema.Done()
			h.writeDomainError(w, r, err)
			return
		}

		img8, err := render.Rescale(raster, p.rescale)
		if err == nil {
			err = p.formula.Apply(img8)
		}
		var srcImg image.Image
		if err == nil {
			srcImg, err = render.Compose(img8)
		}
		h.sema.Done()
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}

		// Place the window into tile pixel space; xdraw clips the parts of
		// the destination rectangle that fall outside the canvas.
		levelScaleX := rd.Geo.ScaleX / factor
		levelScaleY := rd.Geo.ScaleY / factor
		winMinX := rd.Geo.OriginX + float64(win.Min.X)*levelScaleX
		winMaxX := rd.Geo.OriginX + float64(win.Max.X)*levelScaleX
		winMaxY := rd.Geo.OriginY - float64(win.Min.Y)*levelScaleY
		winMinY := rd.Geo.OriginY - float64(win.Max.Y)*levelScaleY

		tw := tileExt.MaxX - tileExt.MinX
		th := tileExt.MaxY - tileExt.MinY
		dst := image.Rect(
			int(math.Round((winMinX-tileExt.MinX)/tw*float64(ts))),
			int(math.Round((tileExt.MaxY-winMaxY)/th*float64(ts))),
			int(math.Round((winMaxX-tileExt.MinX)/tw*float64(ts))),
			int(math.Round((tileExt.MaxY-winMinY)/th*float64(ts))),
		)
		xdraw.ApproxBiLinear.Scale(canvas, dst, srcImg, srcImg.Bounds(), xdraw.Src, nil)
	}

	png, err := render.EncodePNG(canvas)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writePNG(w, png)
}
