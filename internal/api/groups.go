package api

import (
	"net/http"

	"github.com/banshee-data/holofab/internal/httputil"
	"github.com/banshee-data/holofab/internal/trap"
)

type rectRequest struct {
	From []float64 `json:"from"`
	To   []float64 `json:"to"`
}

// selectRect marks the top-level members inside the rectangle as
// Grouping candidates.
func (s *Server) selectRect(w http.ResponseWriter, r *http.Request) {
	var req rectRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if len(req.From) != 2 || len(req.To) != 2 {
		httputil.BadRequest(w, "from and to must be [x, y]")
		return
	}
	rect := trap.NewRect(req.From[0], req.From[1], req.To[0], req.To[1])
	ids := s.pattern.GroupTraps(rect)
	if ids == nil {
		ids = []trap.ID{}
	}
	httputil.WriteJSONOK(w, map[string]any{"candidates": ids})
}

type selectRequest struct {
	At []float64 `json:"at"`
}

// selectTrap selects the top-level member containing id, grabbing it at
// the pointer position.
func (s *Server) selectTrap(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req selectRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.At == nil {
		pos, err := s.pattern.Position(id)
		if err != nil {
			writeError(w, err)
			return
		}
		req.At = []float64{pos.X, pos.Y, pos.Z}
	}
	top, err := s.pattern.Select(id, req.At)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"selected": top})
}

func (s *Server) clearSelection(w http.ResponseWriter, r *http.Request) {
	s.pattern.SetState(trap.Normal)
	w.WriteHeader(http.StatusNoContent)
}

type groupRequest struct {
	IDs []trap.ID `json:"ids"`
}

func (s *Server) makeGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	id, err := s.pattern.MakeGroup(req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) breakGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.pattern.BreakGroup(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type arrayRequest struct {
	Rows       int       `json:"rows"`
	Cols       int       `json:"cols"`
	Separation float64   `json:"separation"`
	Corner     []float64 `json:"corner"`
}

func (s *Server) addArray(w http.ResponseWriter, r *http.Request) {
	var req arrayRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Rows < 1 || req.Cols < 1 {
		httputil.BadRequest(w, "rows and cols must be positive")
		return
	}
	corner, err := trap.ParsePosition(trap.Vec3{}, req.Corner)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := s.pattern.AddArray(req.Rows, req.Cols, req.Separation, corner)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}
