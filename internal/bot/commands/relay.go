package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/ipl-auction/internal/auction"
	"github.com/jensholdgaard/ipl-auction/internal/event"
	"github.com/jensholdgaard/ipl-auction/internal/room"
)

// Poster sends a message to a Discord channel. *discordgo.Session
// satisfies it.
type Poster interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Relay posts room broadcasts to the Discord channels watching the room.
type Relay struct {
	rooms  *room.Manager
	poster Poster
	logger *slog.Logger

	mu       sync.Mutex
	watching map[watch]struct{}
	wg       sync.WaitGroup
}

type watch struct {
	code       string
	subscriber string
}

// NewRelay creates a Relay.
func NewRelay(rooms *room.Manager, poster Poster, logger *slog.Logger) *Relay {
	return &Relay{
		rooms:    rooms,
		poster:   poster,
		logger:   logger,
		watching: make(map[watch]struct{}),
	}
}

func subscriberID(channelID string) string {
	return "discord:" + channelID
}

// Watch starts posting the room's broadcasts to the channel. Watching the
// same room from the same channel twice is a no-op.
func (r *Relay) Watch(code, channelID string) error {
	id := subscriberID(channelID)
	msgs, err := r.rooms.Subscribe(code, id)
	if errors.Is(err, room.ErrSubscriberExists) {
		return nil
	}
	if err != nil {
		return err
	}

	w := watch{code: code, subscriber: id}
	r.mu.Lock()
	r.watching[w] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.watching, w)
			r.mu.Unlock()
		}()
		for msg := range msgs {
			text, ok := Format(msg)
			if !ok {
				continue
			}
			if _, err := r.poster.ChannelMessageSend(channelID, text); err != nil {
				r.logger.Warn("failed to post room update",
					slog.String("room_code", code),
					slog.String("channel_id", channelID),
					slog.Any("error", err),
				)
			}
		}
	}()
	return nil
}

// Close unsubscribes every watched room and waits for pending posts.
func (r *Relay) Close() {
	r.mu.Lock()
	watches := make([]watch, 0, len(r.watching))
	for w := range r.watching {
		watches = append(watches, w)
	}
	r.mu.Unlock()

	for _, w := range watches {
		r.rooms.Unsubscribe(w.code, w.subscriber)
	}
	r.wg.Wait()
}

// Format renders a room broadcast for a Discord channel. Messages with no
// channel-worthy content report false.
func Format(msg room.Message) (string, bool) {
	switch p := msg.Payload.(type) {
	case room.Started:
		return fmt.Sprintf("**Auction started** in room `%s`.\n%s", p.Room.Code, onTheBlock(p.State)), true
	case room.BidPlaced:
		return fmt.Sprintf("%s (%s)", p.Message, p.Bidder), true
	case room.Passed:
		if p.Resolution == nil {
			return "", false
		}
		return resolution(*p.Resolution) + nextUp(p.State), true
	case room.Ended:
		return ended(p.State, p.RemovedTeams), true
	case room.TournamentResult:
		return champion(p), true
	case room.PlayerLeft:
		return fmt.Sprintf("%s left the room.", p.LeftPlayer), true
	case auction.State:
		switch msg.Type {
		case room.MsgPaused:
			return "Auction paused.", true
		case room.MsgResumed:
			return "Auction resumed.\n" + onTheBlock(p), true
		}
	}
	return "", false
}

func onTheBlock(st auction.State) string {
	item := st.CurrentItem
	if item == nil {
		return "No player on the block."
	}
	overseas := ""
	if item.Overseas {
		overseas = ", overseas"
	}
	return fmt.Sprintf("On the block: **%s** (%s, %s%s). Base %s, raise by %s.",
		item.Name, item.Role, item.Level, overseas, auction.FormatAmount(item.BasePrice), auction.FormatAmount(item.BidIncrement))
}

func nextUp(st auction.State) string {
	if st.CurrentItem == nil {
		return ""
	}
	return "\n" + onTheBlock(st)
}

func resolution(res auction.Resolution) string {
	var b strings.Builder
	if res.Sold {
		fmt.Fprintf(&b, "**%s** sold to **%s** for %s.", res.Item.Name, res.TeamName, auction.FormatAmount(res.Price))
	} else {
		fmt.Fprintf(&b, "**%s** goes unsold.", res.Item.Name)
	}
	if res.SecondRoundStarted {
		b.WriteString(" Second round starting with the unsold players.")
	}
	if res.Completed {
		b.WriteString(" The pool is exhausted.")
	}
	return b.String()
}

func ended(st auction.State, removed []event.RemovedTeam) string {
	var b strings.Builder
	b.WriteString("**Auction ended.**")
	for _, t := range removed {
		fmt.Fprintf(&b, "\n%s removed: %s", t.Name, t.Reason)
	}
	if st.TournamentMessage != "" {
		b.WriteString("\n" + st.TournamentMessage)
	} else {
		b.WriteString("\nThe creator can now run `/tournament`.")
	}
	return b.String()
}

func champion(res room.TournamentResult) string {
	if res.Summary == nil {
		if res.Message != "" {
			return fmt.Sprintf("**%s** win by default. %s", res.WinnerName, res.Message)
		}
		return fmt.Sprintf("**%s** win by default.", res.WinnerName)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** are the champions after %d matches.\n", res.WinnerName, res.Summary.TotalMatches)
	for _, s := range res.Summary.PointsTable {
		fmt.Fprintf(&b, "%d. %s: %d pts (%d-%d)\n", s.Position, s.Name, s.Points, s.Won, s.Lost)
	}
	return b.String()
}

func status(st auction.State, stats []auction.TeamStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Auction `%s` is %s.\n", st.RoomCode, st.Status)
	if st.CurrentItem != nil {
		b.WriteString(onTheBlock(st))
		if st.CurrentBidder != "" {
			fmt.Fprintf(&b, " Current bid %s by %s.", auction.FormatAmount(st.CurrentBid), st.CurrentBidder)
		}
		b.WriteString("\n")
	}
	for _, t := range stats {
		fmt.Fprintf(&b, "- %s: %s left, %d players (%d overseas)\n",
			t.Name, auction.FormatAmount(t.Budget), t.TotalPlayers, t.OverseasCount)
	}
	return b.String()
}
