// Package httpapi exposes read-only room, ledger and result endpoints, the
// health probes and the WebSocket upgrade on one chi router.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jensholdgaard/ipl-auction/internal/catalog"
	"github.com/jensholdgaard/ipl-auction/internal/event"
	"github.com/jensholdgaard/ipl-auction/internal/health"
	"github.com/jensholdgaard/ipl-auction/internal/room"
	"github.com/jensholdgaard/ipl-auction/internal/store"
	"github.com/jensholdgaard/ipl-auction/internal/telemetry"
	"github.com/jensholdgaard/ipl-auction/internal/ws"
)

const (
	defaultResultLimit = 20
	maxResultLimit     = 100
)

// Deps are the collaborators the router serves from.
type Deps struct {
	Rooms          *room.Manager
	Events         event.Store
	Results        store.ResultRepository
	Health         *health.Handler
	Logger         *slog.Logger
	AllowedOrigins []string
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", d.Health.LivenessHandler())
	r.Get("/readyz", d.Health.ReadinessHandler())
	r.Get("/ws", ws.Handler(d.Rooms, d.Logger, d.AllowedOrigins))

	r.Get("/franchises", listFranchises)
	r.Route("/rooms/{code}", func(r chi.Router) {
		r.Get("/", getRoom(d.Rooms))
		r.Get("/state", getState(d.Rooms))
	})
	r.Get("/auctions/{id}/events", listEvents(d.Events, d.Logger))
	r.Get("/results", listResults(d.Results, d.Logger))

	return otelhttp.NewHandler(r, "auctiond",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}

func listFranchises(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalog.Franchises)
}

func getRoom(rooms *room.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := rooms.View(chi.URLParam(r, "code"))
		if !ok {
			writeError(w, http.StatusNotFound, room.ErrRoomNotFound.Error())
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func getState(rooms *room.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := rooms.Snapshot(chi.URLParam(r, "code"))
		if !ok {
			writeError(w, http.StatusNotFound, room.ErrRoomNotFound.Error())
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func listEvents(events event.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evs, err := events.Load(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			telemetry.LogWithTrace(r.Context(), logger).ErrorContext(r.Context(), "loading events", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to load events")
			return
		}
		if evs == nil {
			evs = []event.Event{}
		}
		writeJSON(w, http.StatusOK, evs)
	}
}

func listResults(results store.ResultRepository, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultResultLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxResultLimit)
		}
		out, err := results.ListRecent(r.Context(), limit)
		if err != nil {
			telemetry.LogWithTrace(r.Context(), logger).ErrorContext(r.Context(), "listing results", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to list results")
			return
		}
		if out == nil {
			out = []store.Result{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
