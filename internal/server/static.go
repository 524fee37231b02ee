package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// staticPrefix is where the data root is exposed over HTTP.
const staticPrefix = "/files"

// mountStatic serves the data root as plain files. Directory listings are
// only produced when enabled in the configuration.
func (h *Handler) mountStatic(r chi.Router) {
	root := h.cfg.Data.Root
	fs := http.StripPrefix(staticPrefix, http.FileServer(http.Dir(root)))

	r.Get(staticPrefix, func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, staticPrefix+"/", http.StatusMovedPermanently)
	})
	r.Get(staticPrefix+"/*", func(w http.ResponseWriter, req *http.Request) {
		if !h.cfg.Static.Listing && h.isDir(req.URL.Path) {
			h.writeError(w, req, http.StatusForbidden, codeListingDisabled, "directory listing is disabled")
			return
		}
		fs.ServeHTTP(w, req)
	})
}

func (h *Handler) isDir(urlPath string) bool {
	rel := strings.TrimPrefix(urlPath, staticPrefix)
	rel = strings.TrimPrefix(rel, "/")
	st, err := os.Stat(filepath.Join(h.cfg.Data.Root, filepath.Clean(rel)))
	return err == nil && st.IsDir()
}
