// Package server is the HTTP surface of cogserve: chi routes for COG
// metadata, validation, previews and XYZ tiles, plus the static mount,
// metrics and health endpoints.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"
	"github.com/jamesrr39/semaphore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kiesman99/cogserve/internal/config"
	"github.com/kiesman99/cogserve/internal/source"
)

// Handler holds everything the route handlers need.
type Handler struct {
	cfg       *config.Config
	log       zerolog.Logger
	resolver  *source.Resolver
	sema      *semaphore.Semaphore
	version   string
	startTime time.Time
}

// New wires a handler from configuration. The block cache is shared across
// all requests unless disabled.
func New(cfg *config.Config, log zerolog.Logger, version string) (*Handler, error) {
	var cache *source.BlockCache
	if !cfg.Cache.Disabled {
		var err error
		cache, err = source.NewBlockCache(cfg.Cache.BlockSize, cfg.Cache.MaxBlocks)
		if err != nil {
			return nil, err
		}
	} else {
		log.Info().Msg("read cache disabled")
	}

	return &Handler{
		cfg:       cfg,
		log:       log,
		resolver:  source.NewResolver(cfg.Data.Root, cache),
		sema:      semaphore.NewSemaphore(uint(cfg.Render.Concurrency)),
		version:   version,
		startTime: time.Now(),
	}, nil
}

// Routes builds the full router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.cfg.Server.Timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))
	if rpm := h.cfg.Limits.RequestsPerMinute; rpm > 0 {
		r.Use(httprate.LimitByIP(rpm, time.Minute))
	}
	r.Use(metricsMiddleware)

	r.Route("/cog", func(r chi.Router) {
		r.Get("/info", h.handleInfo)
		r.Get("/validate", h.handleValidate)
		r.Get("/preview", h.handlePreview)
		r.Get("/safe_preview", h.handleSafePreview)
		r.Get("/tiles/{z}/{x}/{y}.png", h.handleTile)
		r.Get("/point/{lon},{lat}", h.handlePoint)
	})

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if h.cfg.Static.Enabled {
		h.mountStatic(r)
	}

	return r
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  int    `json:"uptime"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, healthResponse{
		Status:  "healthy",
		Version: h.version,
		Uptime:  int(time.Since(h.startTime).Seconds()),
	})
}
