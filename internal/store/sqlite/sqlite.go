// Package sqlite implements the store driver "sqlite" on modernc.org/sqlite,
// for single-node deployments that want results to survive a restart without
// running Postgres.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/jensholdgaard/ipl-auction/internal/clock"
	"github.com/jensholdgaard/ipl-auction/internal/config"
	"github.com/jensholdgaard/ipl-auction/internal/event"
	"github.com/jensholdgaard/ipl-auction/internal/store"
)

func init() {
	store.Register("sqlite", open)
}

func open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	db, err := Open(ctx, cfg.Path, clk)
	if err != nil {
		return nil, err
	}
	return &store.Repositories{
		Events:  NewEventStore(db, clk),
		Results: NewResultRepo(db, clk),
		Closer:  db,
		Ping:    db.PingContext,
	}, nil
}

// Open opens the database file at path and applies embedded migrations.
func Open(ctx context.Context, path string, clk clock.Clock) (*sqlx.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	sqlDB, err := otelsql.Open("sqlite", dsn, otelsql.WithAttributes(semconv.DBSystemSqlite))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; WAL still lets readers proceed.
	sqlDB.SetMaxOpenConns(1)

	db := sqlx.NewDb(sqlDB, "sqlite")
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, toMillis(clk.Now())); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// EventStore implements event.Store backed by SQLite.
type EventStore struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewEventStore returns a new EventStore.
func NewEventStore(db *sqlx.DB, clk clock.Clock) *EventStore {
	return &EventStore{db: db, clock: clk}
}

type eventRow struct {
	ID          string `db:"id"`
	AggregateID string `db:"aggregate_id"`
	RoomCode    string `db:"room_code"`
	Type        string `db:"type"`
	Data        string `db:"data"`
	Version     int    `db:"version"`
	CreatedAt   int64  `db:"created_at"`
}

func (r eventRow) event() event.Event {
	return event.Event{
		ID:          r.ID,
		AggregateID: r.AggregateID,
		RoomCode:    r.RoomCode,
		Type:        event.Type(r.Type),
		Data:        []byte(r.Data),
		Version:     r.Version,
		CreatedAt:   fromMillis(r.CreatedAt),
	}
}

func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO events (id, aggregate_id, room_code, type, data, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = s.clock.Now()
		}
		data := string(e.Data)
		if data == "" {
			data = "{}"
		}
		if _, err := stmt.ExecContext(ctx, id, e.AggregateID, e.RoomCode, string(e.Type), data, e.Version, toMillis(createdAt)); err != nil {
			if isUniqueViolation(err) {
				err = event.ErrVersionConflict
			}
			return fmt.Errorf("inserting event (aggregate=%s, version=%d): %w", e.AggregateID, e.Version, err)
		}
	}

	return tx.Commit()
}

func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	return s.query(ctx, "loading events",
		`SELECT id, aggregate_id, room_code, type, data, version, created_at
		 FROM events WHERE aggregate_id = ? ORDER BY version ASC`, aggregateID)
}

func (s *EventStore) LoadByType(ctx context.Context, eventType event.Type) ([]event.Event, error) {
	return s.query(ctx, "loading events by type",
		`SELECT id, aggregate_id, room_code, type, data, version, created_at
		 FROM events WHERE type = ? ORDER BY created_at ASC, rowid ASC`, string(eventType))
}

func (s *EventStore) query(ctx context.Context, what, q string, arg any) ([]event.Event, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, q, arg); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	events := make([]event.Event, len(rows))
	for i, r := range rows {
		events[i] = r.event()
	}
	return events, nil
}

// ResultRepo implements store.ResultRepository backed by SQLite.
type ResultRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewResultRepo returns a new ResultRepo.
func NewResultRepo(db *sqlx.DB, clk clock.Clock) *ResultRepo {
	return &ResultRepo{db: db, clock: clk}
}

type resultRow struct {
	ID           string `db:"id"`
	RoomCode     string `db:"room_code"`
	AuctionID    string `db:"auction_id"`
	TournamentID string `db:"tournament_id"`
	WinnerID     string `db:"winner_id"`
	WinnerName   string `db:"winner_name"`
	Teams        int    `db:"teams"`
	Matches      int    `db:"matches"`
	CreatedAt    int64  `db:"created_at"`
}

func (r *ResultRepo) Save(ctx context.Context, res *store.Result) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = r.clock.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO results (id, room_code, auction_id, tournament_id, winner_id, winner_name, teams, matches, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.RoomCode, res.AuctionID, res.TournamentID, res.WinnerID, res.WinnerName, res.Teams, res.Matches, toMillis(res.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving result for room %s: %w", res.RoomCode, err)
	}
	return nil
}

func (r *ResultRepo) ListRecent(ctx context.Context, limit int) ([]store.Result, error) {
	var rows []resultRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, room_code, auction_id, tournament_id, winner_id, winner_name, teams, matches, created_at
		 FROM results ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	out := make([]store.Result, len(rows))
	for i, row := range rows {
		out[i] = store.Result{
			ID:           row.ID,
			RoomCode:     row.RoomCode,
			AuctionID:    row.AuctionID,
			TournamentID: row.TournamentID,
			WinnerID:     row.WinnerID,
			WinnerName:   row.WinnerName,
			Teams:        row.Teams,
			Matches:      row.Matches,
			CreatedAt:    fromMillis(row.CreatedAt),
		}
	}
	return out, nil
}
