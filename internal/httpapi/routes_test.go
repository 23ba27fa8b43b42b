package httpapi_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/ipl-auction/internal/auction"
	"github.com/jensholdgaard/ipl-auction/internal/catalog"
	"github.com/jensholdgaard/ipl-auction/internal/clock"
	"github.com/jensholdgaard/ipl-auction/internal/health"
	"github.com/jensholdgaard/ipl-auction/internal/httpapi"
	"github.com/jensholdgaard/ipl-auction/internal/pool"
	"github.com/jensholdgaard/ipl-auction/internal/registry"
	"github.com/jensholdgaard/ipl-auction/internal/room"
	"github.com/jensholdgaard/ipl-auction/internal/store"
	"github.com/jensholdgaard/ipl-auction/internal/store/memory"
	"github.com/jensholdgaard/ipl-auction/internal/tournament"
)

type fixture struct {
	handler http.Handler
	rooms   *room.Manager
	results *memory.ResultRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	clk := clock.NewManual(time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC))
	events := memory.NewEventStore(clk)
	results := memory.NewResultRepo(clk)
	tp := noop.NewTracerProvider()
	engine := auction.NewEngine(pool.NewGenerator(c, rand.New(rand.NewSource(1))),
		registry.New[*auction.Room](), events, slog.Default(), tp, clk)
	sim := tournament.NewSimulator(registry.New[*tournament.Tournament](), rand.New(rand.NewSource(1)),
		events, slog.Default(), tp, clk)
	rooms := room.NewManager(engine, sim, results, slog.Default(), tp, clk, room.Options{})
	t.Cleanup(rooms.Close)

	h := health.NewHandler(clk)
	h.SetReady(true)
	return &fixture{
		handler: httpapi.NewRouter(httpapi.Deps{
			Rooms:   rooms,
			Events:  events,
			Results: results,
			Health:  h,
			Logger:  slog.Default(),
		}),
		rooms:   rooms,
		results: results,
	}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRoutes_StatusCodes(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/franchises", http.StatusOK},
		{"/rooms/NOPE00/", http.StatusNotFound},
		{"/rooms/NOPE00/state", http.StatusNotFound},
		{"/auctions/unknown/events", http.StatusOK},
		{"/results", http.StatusOK},
		{"/results?limit=abc", http.StatusBadRequest},
		{"/results?limit=0", http.StatusBadRequest},
		{"/ws", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if rec := f.get(t, tt.path); rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestRoutes_RoomAndLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := room.Member{ID: "a", Name: "alice"}
	bob := room.Member{ID: "b", Name: "bob"}

	v, _ := f.rooms.Create(ctx, alice, 2)
	f.rooms.Join(ctx, v.Code, bob)
	f.rooms.SelectTeam(ctx, v.Code, alice.ID, "gt")
	f.rooms.SelectTeam(ctx, v.Code, bob.ID, "srh")
	st, err := f.rooms.StartAuction(ctx, v.Code, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	f.rooms.Pass(ctx, v.Code, bob.ID)

	var got room.View
	rec := f.get(t, "/rooms/"+v.Code+"/")
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Code != v.Code || len(got.Players) != 2 || got.Status != room.StatusAuction {
		t.Errorf("room = %+v", got)
	}

	var snap room.Snapshot
	rec = f.get(t, "/rooms/"+v.Code+"/state")
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Auction == nil || len(snap.TeamStats) != 2 || len(snap.Auction.UnsoldPlayers) != 1 {
		t.Errorf("state = %+v", snap.Auction)
	}

	var evs []map[string]any
	rec = f.get(t, "/auctions/"+st.ID+"/events")
	if err := json.NewDecoder(rec.Body).Decode(&evs); err != nil {
		t.Fatal(err)
	}
	// started, passed, unsold
	if len(evs) != 3 || evs[0]["type"] != "auction.started" {
		t.Errorf("events = %v", evs)
	}
}

func TestRoutes_Results(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, w := range []string{"csk", "mi", "kkr"} {
		f.results.Save(ctx, &store.Result{RoomCode: "R" + w, WinnerID: w})
	}

	var got []store.Result
	rec := f.get(t, "/results?limit=2")
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].WinnerID != "kkr" {
		t.Errorf("results = %+v", got)
	}
}
