package settings

import (
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/holofab/internal/httputil"
)

// AttachAdminRoutes mounts tailsql and a settings dump on the tsweb
// debug page of mux.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
		Label: "Settings DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("settings", "Stored settings by scope", http.HandlerFunc(s.handleDump))
	return nil
}

func (s *Store) handleDump(w http.ResponseWriter, r *http.Request) {
	scopes, err := s.Scopes(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make(map[string]map[string]float64, len(scopes))
	for _, scope := range scopes {
		values, err := s.Load(r.Context(), scope)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		out[scope] = values
	}
	httputil.WriteJSONOK(w, out)
}
