// Package ws serves the JSON WebSocket protocol players use to run a room.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/jensholdgaard/ipl-auction/internal/room"
	"github.com/jensholdgaard/ipl-auction/internal/telemetry"
)

const (
	sendBuffer   = 64
	writeTimeout = 3 * time.Second
	maxNameLen   = 32
)

// Handler upgrades requests to WebSocket connections. The display name is
// taken from the "name" query parameter.
func Handler(mgr *room.Manager, logger *slog.Logger, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			http.Error(w, "missing name", http.StatusBadRequest)
			return
		}
		if len(name) > maxNameLen {
			name = name[:maxNameLen]
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			logger.WarnContext(r.Context(), "websocket accept failed", slog.Any("error", err))
			return
		}
		defer conn.CloseNow()

		c := &client{
			mgr:    mgr,
			conn:   conn,
			member: room.Member{ID: uuid.NewString(), Name: name},
			send:   make(chan any, sendBuffer),
		}
		c.logger = logger.With(slog.String("conn_id", c.member.ID), slog.String("member", name))
		c.serve(r.Context())
	}
}

// client is one connected player. Only the reader goroutine touches code.
type client struct {
	mgr    *room.Manager
	conn   *websocket.Conn
	member room.Member
	logger *slog.Logger
	send   chan any

	code    string
	forward sync.WaitGroup
}

func (c *client) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	c.logger.InfoContext(ctx, "client connected")
	go c.writeLoop(ctx, cancel)

	c.enqueue(ctx, ServerMessage{Type: TypeWelcome, Payload: Welcome{ID: c.member.ID, Name: c.member.Name}})

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					c.logger.DebugContext(ctx, "read failed", slog.Any("error", err))
				}
			}
			break
		}
		if err := c.handle(ctx, msg); err != nil {
			c.enqueue(ctx, ErrorMessage{Type: TypeError, Action: msg.Type, Error: err.Error()})
		}
	}

	c.leave(context.WithoutCancel(ctx))
	cancel()
	c.forward.Wait()
	c.logger.InfoContext(ctx, "client disconnected")
}

// writeLoop is the only writer on the connection.
func (c *client) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case v := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, v)
			wcancel()
			if err != nil {
				c.logger.DebugContext(ctx, "write failed", slog.Any("error", err))
				return
			}
		}
	}
}

// enqueue queues v for the writer. A client that cannot keep up is
// disconnected.
func (c *client) enqueue(ctx context.Context, v any) {
	select {
	case c.send <- v:
	case <-ctx.Done():
	default:
		c.logger.WarnContext(ctx, "send buffer full, closing connection")
		c.conn.Close(websocket.StatusPolicyViolation, "too slow")
	}
}

// subscribe forwards the room's broadcasts to this connection.
func (c *client) subscribe(ctx context.Context, code string) error {
	sub, err := c.mgr.Subscribe(code, c.member.ID)
	if err != nil {
		return err
	}
	c.code = code
	c.forward.Add(1)
	go func() {
		defer c.forward.Done()
		for msg := range sub {
			c.enqueue(ctx, msg)
		}
	}()
	return nil
}

// leave drops the connection's seat, if any.
func (c *client) leave(ctx context.Context) {
	if c.code == "" {
		return
	}
	code := c.code
	c.code = ""
	c.mgr.Unsubscribe(code, c.member.ID)
	if _, _, err := c.mgr.Leave(ctx, code, c.member.ID); err != nil && !errors.Is(err, room.ErrRoomNotFound) {
		telemetry.LogWithRoom(ctx, c.logger, code).WarnContext(ctx, "leave failed", slog.Any("error", err))
	}
}

// roomCode resolves the room a command targets: the connection's room, or
// the code in the message for create/join.
func (c *client) roomCode(msg ClientMessage) (string, error) {
	if c.code == "" {
		return "", room.ErrNotMember
	}
	if msg.RoomCode != "" && !strings.EqualFold(msg.RoomCode, c.code) {
		return "", fmt.Errorf("%w: connected to %s", room.ErrNotMember, c.code)
	}
	return c.code, nil
}

func (c *client) handle(ctx context.Context, msg ClientMessage) error {
	switch msg.Type {
	case TypeRoomCreate:
		c.leave(ctx)
		v, err := c.mgr.Create(ctx, c.member, msg.MaxPlayers)
		if err != nil {
			return err
		}
		if err := c.subscribe(ctx, v.Code); err != nil {
			return err
		}
		c.enqueue(ctx, ServerMessage{Type: TypeRoomCreated, Payload: v})
		return nil

	case TypeRoomJoin:
		code := strings.ToUpper(strings.TrimSpace(msg.RoomCode))
		if code == c.code && code != "" {
			return room.ErrDuplicateJoin
		}
		c.leave(ctx)
		// Subscribe first so the join broadcast reaches this connection too.
		if err := c.subscribe(ctx, code); err != nil {
			return err
		}
		v, err := c.mgr.Join(ctx, code, c.member)
		if err != nil {
			c.mgr.Unsubscribe(code, c.member.ID)
			c.code = ""
			return err
		}
		c.enqueue(ctx, ServerMessage{Type: TypeRoomJoined, Payload: v})
		return nil

	case TypeRoomLeave:
		if c.code == "" {
			return room.ErrNotMember
		}
		code := c.code
		c.leave(ctx)
		c.enqueue(ctx, ServerMessage{Type: TypeRoomLeft, Payload: map[string]string{"roomCode": code}})
		return nil
	}

	code, err := c.roomCode(msg)
	if err != nil {
		return err
	}

	switch msg.Type {
	case TypeTeamSelect:
		_, err = c.mgr.SelectTeam(ctx, code, c.member.ID, msg.TeamID)
	case TypeAuctionStart:
		_, err = c.mgr.StartAuction(ctx, code, c.member.ID)
	case TypeAuctionBid:
		_, err = c.mgr.Bid(ctx, code, c.member.ID, msg.Amount)
	case TypeAuctionPass:
		_, err = c.mgr.Pass(ctx, code, c.member.ID)
	case TypeAuctionPause:
		_, err = c.mgr.Pause(ctx, code, c.member.ID)
	case TypeAuctionResume:
		_, err = c.mgr.Resume(ctx, code, c.member.ID)
	case TypeAuctionEnd:
		_, err = c.mgr.End(ctx, code, c.member.ID)
	case TypeTournamentStart:
		_, err = c.mgr.StartTournament(ctx, code, c.member.ID)
	case TypeAuctionGetState:
		snap, ok := c.mgr.Snapshot(code)
		if !ok {
			return room.ErrRoomNotFound
		}
		c.enqueue(ctx, ServerMessage{Type: TypeStateUpdate, Payload: snap})
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return err
}
