package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jensholdgaard/ipl-auction/internal/clock"
	"github.com/jensholdgaard/ipl-auction/internal/store"
	"github.com/jensholdgaard/ipl-auction/internal/store/postgres"
)

func TestResultRepo_SaveAndListRecent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 25, 19, 30, 0, 0, time.UTC)

	for i, winner := range []string{"mi", "csk", "kkr"} {
		repo := postgres.NewResultRepo(db, clock.Mock{T: base.Add(time.Duration(i) * time.Hour)})
		res := &store.Result{RoomCode: "ROOM0" + winner, WinnerID: winner, WinnerName: winner, Teams: 4, Matches: 16}
		if err := repo.Save(ctx, res); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if res.ID == "" {
			t.Fatal("Save did not assign an ID")
		}
	}

	got, err := postgres.NewResultRepo(db, clock.Real{}).ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListRecent returned %d, want 2", len(got))
	}
	if got[0].WinnerID != "kkr" || got[1].WinnerID != "csk" {
		t.Errorf("order = [%s, %s], want [kkr, csk]", got[0].WinnerID, got[1].WinnerID)
	}
	if got[0].Matches != 16 || got[0].Teams != 4 {
		t.Errorf("got %+v", got[0])
	}
}
