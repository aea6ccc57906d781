package db

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/marcopolo/internal/httputil"
)

// AttachAdminRoutes mounts tailsql and a JSON session browser under
// /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "UART sessions",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	// GET sessions?limit=N lists sessions; sessions?id=X returns one
	// session with its event counts and exchanges.
	debug.HandleFunc("sessions", "recorded simulation and bridge sessions", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
			db.serveSession(w, id)
			return
		}
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				httputil.BadRequest(w, "invalid limit")
				return
			}
			limit = n
		}
		sessions, err := db.Sessions(limit)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if sessions == nil {
			sessions = []Session{}
		}
		httputil.WriteJSONOK(w, sessions)
	})
	return nil
}

func (db *DB) serveSession(w http.ResponseWriter, id string) {
	s, err := db.Session(id)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	counts, err := db.EventCounts(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	exchanges, err := db.Exchanges(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"session":      s,
		"event_counts": counts,
		"exchanges":    exchanges,
	})
}
