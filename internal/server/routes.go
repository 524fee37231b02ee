package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// LogRoutes walks the route tree and logs every registered method and
// pattern. Run once at startup so operators can see what actually got
// mounted.
func LogRoutes(r chi.Routes, log zerolog.Logger) {
	walker := func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		log.Info().Str("method", method).Str("route", route).Msg("route registered")
		return nil
	}
	if err := chi.Walk(r, walker); err != nil {
		log.Warn().Err(err).Msg("route walk failed")
	}
}
