package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/kiesman99/cogserve/internal/cog"
	rnd "github.com/kiesman99/cogserve/internal/render"
	"github.com/kiesman99/cogserve/internal/source"
)

// Error codes returned in JSON error bodies.
const (
	codeInvalidRequest  = "INVALID_REQUEST"
	codeNotFound        = "SOURCE_NOT_FOUND"
	codeForbidden       = "SOURCE_FORBIDDEN"
	codeUnsupported     = "UNSUPPORTED_FORMAT"
	codeReadError       = "SOURCE_READ_ERROR"
	codeOutOfBounds     = "OUT_OF_BOUNDS"
	codeTimeout         = "TIMEOUT"
	codeRenderFailed    = "RENDER_FAILED"
	codeInternal        = "INTERNAL"
	codeListingDisabled = "LISTING_DISABLED"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{
		Error:     code,
		Message:   msg,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeDomainError maps errors from the source/cog/render layers onto the
// HTTP taxonomy.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	h.writeError(w, r, status, code, err.Error())
}

func classifyError(err error) (status int, code string) {
	var readErr *source.ReadError
	switch {
	case errors.Is(err, source.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, source.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, source.ErrInvalidURL):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, rnd.ErrBadParam):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, cog.ErrNotTIFF),
		errors.Is(err, cog.ErrUnsupportedFormat),
		errors.Is(err, cog.ErrUnsupportedCompression):
		return http.StatusUnprocessableEntity, codeUnsupported
	case errors.As(err, &readErr):
		return http.StatusBadGateway, codeReadError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTimeout
	default:
		return http.StatusInternalServerError, codeInternal
	}
}
