package room

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/ipl-auction/internal/auction"
)

// armTimer (re)starts the room's bid timer. The caller holds r.mu.
func (m *Manager) armTimer(r *room) {
	m.stopTimer(r)
	if !m.opts.AutoPass || m.opts.BidTimeout <= 0 {
		return
	}
	gen := r.generation
	code := r.code
	r.timer = m.sched.AfterFunc(m.opts.BidTimeout, func() { m.expire(code, gen) })
}

// stopTimer cancels the bid timer. Bumping the generation invalidates a
// callback that already fired and is waiting on r.mu. The caller holds r.mu.
func (m *Manager) stopTimer(r *room) {
	r.generation++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// expire passes for every team except the leader until the item on the
// block resolves.
func (m *Manager) expire(code string, gen uint64) {
	r, err := m.lock(code)
	if err != nil {
		return
	}
	defer r.mu.Unlock()
	if r.generation != gen {
		return
	}
	r.timer = nil

	ctx, span := m.tracer.Start(context.Background(), "Manager.autoPass",
		trace.WithAttributes(attribute.String("room.code", code)),
	)
	defer span.End()

	st, ok := m.engine.State(code)
	if !ok || st.Status != auction.StatusActive || st.CurrentItem == nil {
		return
	}
	m.logger.InfoContext(ctx, "bid timer expired",
		slog.String("room_code", code),
		slog.String("item_id", st.CurrentItem.ID),
	)

	for _, t := range st.Teams {
		if t.ID == st.CurrentBidderTeam {
			continue
		}
		res, err := m.pass(ctx, r, t.ID, t.PlayerName, true)
		if err != nil {
			m.logger.ErrorContext(ctx, "auto-pass failed",
				slog.String("room_code", code),
				slog.String("team_id", t.ID),
				slog.Any("error", err),
			)
			return
		}
		if res.Resolution != nil {
			m.autoPasses.Add(ctx, 1)
			return
		}
	}
}
