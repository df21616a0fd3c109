package api

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/banshee-data/holofab/internal/httputil"
	"github.com/banshee-data/holofab/internal/trap"
)

type trapView struct {
	ID        trap.ID            `json:"id"`
	Kind      trap.Kind          `json:"kind"`
	X         float64            `json:"x"`
	Y         float64            `json:"y"`
	Z         float64            `json:"z"`
	Amplitude float64            `json:"amplitude"`
	Phase     float64            `json:"phase"`
	State     trap.State         `json:"state"`
	Params    map[string]float64 `json:"params,omitempty"`
	Group     *trap.ID           `json:"group,omitempty"`
}

func (s *Server) viewOf(t *trap.Trap) trapView {
	r := t.R()
	v := trapView{
		ID:        t.ID(),
		Kind:      t.Kind(),
		X:         r.X,
		Y:         r.Y,
		Z:         r.Z,
		Amplitude: t.Amplitude(),
		Phase:     t.Phase(),
		State:     t.State(),
		Params:    t.Params(),
	}
	if g, err := s.pattern.GroupOf(t.ID()); err == nil && g != t.ID() {
		v.Group = &g
	}
	return v
}

func (s *Server) listKinds(w http.ResponseWriter, r *http.Request) {
	var kinds []trap.Kind
	for _, k := range trap.Kinds() {
		if _, ok := s.engine.Structures().Lookup(k); ok {
			kinds = append(kinds, k)
		}
	}
	httputil.WriteJSONOK(w, map[string]any{"kinds": kinds})
}

func (s *Server) listTraps(w http.ResponseWriter, r *http.Request) {
	traps := s.pattern.Traps()
	views := make([]trapView, len(traps))
	for i, t := range traps {
		views[i] = s.viewOf(t)
	}
	httputil.WriteJSONOK(w, map[string]any{
		"version": s.pattern.Version(),
		"traps":   views,
		"spots":   s.pattern.Spots(),
	})
}

func (s *Server) getTrap(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	group, err := s.pattern.IsGroup(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if group {
		s.writeGroup(w, id)
		return
	}
	t, err := s.pattern.Trap(id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.viewOf(t))
}

func (s *Server) writeGroup(w http.ResponseWriter, id trap.ID) {
	children, err := s.pattern.Children(id)
	if err != nil {
		writeError(w, err)
		return
	}
	pos, _ := s.pattern.Position(id)
	origin, _ := s.pattern.Origin(id)
	httputil.WriteJSONOK(w, map[string]any{
		"id":       id,
		"group":    true,
		"position": pos,
		"origin":   origin,
		"members":  children,
	})
}

type addTrapRequest struct {
	Kind      trap.Kind          `json:"kind"`
	Position  []float64          `json:"position"`
	Amplitude *float64           `json:"amplitude,omitempty"`
	Phase     *float64           `json:"phase,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"`
}

func (s *Server) addTrap(w http.ResponseWriter, r *http.Request) {
	var req addTrapRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = trap.Tweezer
	}
	if _, ok := s.engine.Structures().Lookup(req.Kind); !ok {
		writeError(w, fmt.Errorf("%w: %q", trap.ErrUnknownTrapKind, req.Kind))
		return
	}

	t := trap.New(req.Kind)
	if req.Amplitude != nil {
		t.SetAmplitude(*req.Amplitude)
	}
	if req.Phase != nil {
		t.SetPhase(*req.Phase)
	}
	for _, name := range sortedKeys(req.Params) {
		if err := t.SetParam(name, req.Params[name]); err != nil {
			writeError(w, err)
			return
		}
	}

	id, err := s.pattern.AddTrap(req.Position, t)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) deleteTrap(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.pattern.DeleteTrap(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearTraps(w http.ResponseWriter, r *http.Request) {
	s.pattern.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// patchTrap writes a set of named properties. Every name is checked
// before any is written.
func (s *Server) patchTrap(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var props map[string]float64
	if err := httputil.DecodeJSON(w, r, &props); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if err := s.pattern.SetTrapProperties(id, props); err != nil {
		writeError(w, err)
		return
	}
	s.getTrap(w, r)
}

type moveRequest struct {
	Position []float64 `json:"position,omitempty"`
	Delta    []float64 `json:"delta,omitempty"`
}

// moveTrap places a trap or group at position, or displaces it by delta.
func (s *Server) moveTrap(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req moveRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	switch {
	case req.Position != nil && req.Delta == nil:
		err = s.pattern.Move(id, req.Position)
	case req.Delta != nil && req.Position == nil:
		var dr trap.Vec3
		dr, err = trap.ParsePosition(trap.Vec3{}, req.Delta)
		if err == nil {
			err = s.pattern.Translate(id, dr)
		}
	default:
		httputil.BadRequest(w, "exactly one of position or delta is required")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	pos, err := s.pattern.Position(id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"id": id, "position": pos})
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
