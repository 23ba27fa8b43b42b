package ws_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/ipl-auction/internal/auction"
	"github.com/jensholdgaard/ipl-auction/internal/catalog"
	"github.com/jensholdgaard/ipl-auction/internal/clock"
	"github.com/jensholdgaard/ipl-auction/internal/pool"
	"github.com/jensholdgaard/ipl-auction/internal/registry"
	"github.com/jensholdgaard/ipl-auction/internal/room"
	"github.com/jensholdgaard/ipl-auction/internal/store/memory"
	"github.com/jensholdgaard/ipl-auction/internal/tournament"
	"github.com/jensholdgaard/ipl-auction/internal/ws"
)

// envelope is a server message with its payload left raw.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Action  string          `json:"action"`
	Error   string          `json:"error"`
}

func newServer(t *testing.T) (*httptest.Server, *room.Manager) {
	t.Helper()
	c, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	clk := clock.Real{}
	events := memory.NewEventStore(clk)
	tp := noop.NewTracerProvider()
	engine := auction.NewEngine(pool.NewGenerator(c, rand.New(rand.NewSource(1))),
		registry.New[*auction.Room](), events, slog.Default(), tp, clk)
	sim := tournament.NewSimulator(registry.New[*tournament.Tournament](), rand.New(rand.NewSource(1)),
		events, slog.Default(), tp, clk)
	mgr := room.NewManager(engine, sim, memory.NewResultRepo(clk), slog.Default(), tp, clk, room.Options{})

	srv := httptest.NewServer(ws.Handler(mgr, slog.Default(), nil))
	t.Cleanup(func() {
		srv.Close()
		mgr.Close()
	})
	return srv, mgr
}

func dial(t *testing.T, srv *httptest.Server, name string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?name=" + name
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	if got := next(t, conn, ws.TypeWelcome); got.Type != ws.TypeWelcome {
		t.Fatalf("first message = %q", got.Type)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg ws.ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// next reads until a message of the wanted type arrives.
func next(t *testing.T, conn *websocket.Conn, want string) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		if env.Type == want {
			return env
		}
	}
}

func TestHandler_RequiresName(t *testing.T) {
	srv, _ := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	if _, _, err := websocket.Dial(ctx, url, nil); err == nil {
		t.Fatal("expected dial to fail without a name")
	}
}

func TestHandler_RoomFlow(t *testing.T) {
	srv, mgr := newServer(t)

	host := dial(t, srv, "alice")
	send(t, host, ws.ClientMessage{Type: ws.TypeRoomCreate, MaxPlayers: 2})
	var created room.View
	if err := json.Unmarshal(next(t, host, ws.TypeRoomCreated).Payload, &created); err != nil {
		t.Fatal(err)
	}

	guest := dial(t, srv, "bob")
	send(t, guest, ws.ClientMessage{Type: ws.TypeRoomJoin, RoomCode: strings.ToLower(created.Code)})
	next(t, guest, ws.TypeRoomJoined)
	next(t, host, room.MsgPlayerJoined)

	// Commands before a room is joined are rejected on that connection only.
	stranger := dial(t, srv, "carol")
	send(t, stranger, ws.ClientMessage{Type: ws.TypeAuctionBid, Amount: 100})
	if e := next(t, stranger, ws.TypeError); e.Action != ws.TypeAuctionBid || e.Error != room.ErrNotMember.Error() {
		t.Errorf("error = %+v", e)
	}

	send(t, host, ws.ClientMessage{Type: ws.TypeTeamSelect, TeamID: "csk"})
	send(t, guest, ws.ClientMessage{Type: ws.TypeTeamSelect, TeamID: "csk"})
	if e := next(t, guest, ws.TypeError); e.Error != room.ErrTeamTaken.Error() {
		t.Errorf("duplicate team error = %+v", e)
	}
	send(t, guest, ws.ClientMessage{Type: ws.TypeTeamSelect, TeamID: "rcb"})

	send(t, guest, ws.ClientMessage{Type: ws.TypeAuctionStart})
	if e := next(t, guest, ws.TypeError); e.Error != room.ErrNotCreator.Error() {
		t.Errorf("non-creator start error = %+v", e)
	}

	send(t, host, ws.ClientMessage{Type: ws.TypeAuctionStart})
	var started room.Started
	if err := json.Unmarshal(next(t, guest, room.MsgAuctionStarted).Payload, &started); err != nil {
		t.Fatal(err)
	}
	item := started.State.CurrentItem
	if item == nil || len(started.State.Teams) != 2 {
		t.Fatalf("started state = %+v", started.State)
	}

	send(t, guest, ws.ClientMessage{Type: ws.TypeAuctionBid, Amount: item.BasePrice + item.BidIncrement})
	var bid room.BidPlaced
	if err := json.Unmarshal(next(t, host, room.MsgBidPlaced).Payload, &bid); err != nil {
		t.Fatal(err)
	}
	if bid.Bidder != "bob" || bid.Team != "rcb" {
		t.Errorf("bid = %+v", bid)
	}

	send(t, host, ws.ClientMessage{Type: ws.TypeAuctionPass})
	var passed room.Passed
	if err := json.Unmarshal(next(t, guest, room.MsgPassed).Payload, &passed); err != nil {
		t.Fatal(err)
	}
	if !passed.PlayerSold || passed.Resolution == nil || passed.Resolution.TeamID != "rcb" {
		t.Errorf("passed = %+v", passed)
	}

	send(t, guest, ws.ClientMessage{Type: ws.TypeAuctionGetState})
	var snap room.Snapshot
	if err := json.Unmarshal(next(t, guest, ws.TypeStateUpdate).Payload, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Auction == nil || len(snap.Auction.SoldPlayers) != 1 {
		t.Errorf("snapshot auction = %+v", snap.Auction)
	}

	// Disconnecting the host hands the room to bob.
	host.Close(websocket.StatusNormalClosure, "")
	next(t, guest, room.MsgPlayerLeft)
	v, ok := mgr.View(created.Code)
	if !ok || v.CreatorID != snap.Room.Players[1].ID {
		t.Errorf("creator after disconnect = %+v", v)
	}
}

func TestHandler_UnknownType(t *testing.T) {
	srv, _ := newServer(t)
	conn := dial(t, srv, "alice")
	send(t, conn, ws.ClientMessage{Type: ws.TypeRoomCreate})
	next(t, conn, ws.TypeRoomCreated)

	send(t, conn, ws.ClientMessage{Type: "auction:teleport"})
	if e := next(t, conn, ws.TypeError); !strings.Contains(e.Error, "unknown message type") {
		t.Errorf("error = %+v", e)
	}
}
