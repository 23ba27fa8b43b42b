package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jensholdgaard/ipl-auction/internal/clock"
	"github.com/jensholdgaard/ipl-auction/internal/event"
	"github.com/jensholdgaard/ipl-auction/internal/store"
	"github.com/jensholdgaard/ipl-auction/internal/store/memory"
)

var testClk = clock.Mock{T: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)}

func TestEventStore_AppendAndLoad(t *testing.T) {
	es := memory.NewEventStore(testClk)
	ctx := context.Background()

	events := []event.Event{
		{AggregateID: "auction-R1-1", RoomCode: "R1", Type: event.AuctionBidPlaced, Data: json.RawMessage(`{}`), Version: 2},
		{AggregateID: "auction-R1-1", RoomCode: "R1", Type: event.AuctionStarted, Data: json.RawMessage(`{}`), Version: 1},
		{AggregateID: "auction-R2-1", RoomCode: "R2", Type: event.AuctionStarted, Data: json.RawMessage(`{}`), Version: 1},
	}
	if err := es.Append(ctx, events...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	loaded, err := es.Load(ctx, "auction-R1-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 || loaded[0].Version != 1 || loaded[1].Version != 2 {
		t.Fatalf("Load = %+v", loaded)
	}
	if loaded[0].ID == "" || !loaded[0].CreatedAt.Equal(testClk.T) {
		t.Errorf("ID/CreatedAt not assigned: %+v", loaded[0])
	}

	started, _ := es.LoadByType(ctx, event.AuctionStarted)
	if len(started) != 2 {
		t.Errorf("LoadByType = %d, want 2", len(started))
	}
}

func TestEventStore_UniqueAggregateVersion(t *testing.T) {
	es := memory.NewEventStore(testClk)
	ctx := context.Background()
	e := event.Event{AggregateID: "dup", Type: event.AuctionPaused, Version: 1}

	if err := es.Append(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := es.Append(ctx, e); !errors.Is(err, event.ErrVersionConflict) {
		t.Fatalf("Append duplicate error = %v, want ErrVersionConflict", err)
	}

	// A failing batch stores nothing.
	ok := event.Event{AggregateID: "dup", Type: event.AuctionResumed, Version: 2}
	if err := es.Append(ctx, ok, e); err == nil {
		t.Fatal("expected batch error")
	}
	loaded, _ := es.Load(ctx, "dup")
	if len(loaded) != 1 {
		t.Errorf("batch partially applied: %d events", len(loaded))
	}
}

func TestResultRepo(t *testing.T) {
	repo := memory.NewResultRepo(testClk)
	ctx := context.Background()

	for _, w := range []string{"mi", "csk", "rcb"} {
		if err := repo.Save(ctx, &store.Result{RoomCode: "R-" + w, WinnerID: w}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].WinnerID != "rcb" || got[1].WinnerID != "csk" {
		t.Errorf("ListRecent = %+v", got)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Errorf("ID/CreatedAt not assigned: %+v", got[0])
	}
}
