package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/holofab/internal/export"
	"github.com/banshee-data/holofab/internal/httputil"
)

var contentTypes = map[export.Format]string{
	export.PNG:  "image/png",
	export.TIFF: "image/tiff",
	export.WebP: "image/webp",
}

func formatParam(r *http.Request) (export.Format, error) {
	name := r.URL.Query().Get("format")
	if name == "" {
		return export.PNG, nil
	}
	return export.ParseFormat(name)
}

// getHologram serves the latest hologram as an image.
func (s *Server) getHologram(w http.ResponseWriter, r *http.Request) {
	f, err := formatParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	h := s.engine.Current()
	if h == nil {
		httputil.NotFound(w, "no hologram computed yet")
		return
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, f, h); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentTypes[f])
	w.Header().Set("X-Hologram-Sequence", strconv.FormatUint(h.Sequence, 10))
	_, _ = w.Write(buf.Bytes())
}

// exportHologram saves the latest hologram under the export directory.
func (s *Server) exportHologram(w http.ResponseWriter, r *http.Request) {
	f, err := formatParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "hologram"
	}
	if err := export.ValidatePrefix(prefix); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("%v (try %q)", err, export.CleanPrefix(prefix)))
		return
	}
	h := s.engine.Current()
	if h == nil {
		httputil.NotFound(w, "no hologram computed yet")
		return
	}
	path, err := export.Save(s.exportDir, prefix, f, h, s.clock.Now())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"path":     path,
		"sequence": h.Sequence,
	})
}
