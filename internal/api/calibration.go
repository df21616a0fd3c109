package api

import (
	"net/http"

	"github.com/banshee-data/holofab/internal/httputil"
	"github.com/banshee-data/holofab/internal/monitoring"
	"github.com/banshee-data/holofab/internal/settings"
)

func (s *Server) getCalibration(w http.ResponseWriter, r *http.Request) {
	p := s.cal.Parameters()
	httputil.WriteJSONOK(w, map[string]any{
		"parameters": s.cal.Settings(),
		"derived": map[string]float64{
			"wavenumber": p.Wavenumber(),
			"qprp":       p.Qprp(),
			"qpar":       p.Qpar(),
		},
		"revision": s.cal.Revision(),
	})
}

type valueRequest struct {
	Value *float64 `json:"value"`
}

// putCalibration writes one parameter and, when a settings store is
// attached, saves the full calibration.
func (s *Server) putCalibration(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req valueRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Value == nil {
		httputil.BadRequest(w, "value is required")
		return
	}
	if err := s.cal.SetParameter(name, *req.Value); err != nil {
		writeError(w, err)
		return
	}
	if s.store != nil {
		if err := s.store.Save(r.Context(), settings.CalibrationScope, s.cal.Settings()); err != nil {
			monitoring.Logf("[api] failed to persist calibration: %v", err)
			httputil.InternalServerError(w, "calibration applied but not saved: "+err.Error())
			return
		}
	}
	s.getCalibration(w, r)
}

// recalculate marks every trap stale so the next hologram is computed
// from scratch.
func (s *Server) recalculate(w http.ResponseWriter, r *http.Request) {
	s.pattern.Recalculate()
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"version": s.pattern.Version()})
}
