package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stockcast/internal/domain"
	"stockcast/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const eventColumns = `id, source_news_id, ticker, stock_name, market, event_type,
	direction, magnitude, novelty, credibility, is_disclosure,
	title, summary, source, event_timestamp, is_after_market, created_at`

// Insert adds one event and fills in its ID. Returns ErrDuplicateKey when
// an event for the same source news record already exists.
func (s *EventStore) Insert(ctx context.Context, e *domain.Event) error {
	query := `
		INSERT INTO events (
			source_news_id, ticker, stock_name, market, event_type, direction,
			magnitude, novelty, credibility, is_disclosure,
			title, summary, source, event_timestamp, is_after_market
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`

	err := s.pool.QueryRow(ctx, query,
		e.SourceNewsID, e.Ticker, e.StockName, e.Market, string(e.EventType),
		string(e.Direction), e.Magnitude, e.Novelty, e.Credibility, e.IsDisclosure,
		e.Title, e.Summary, e.Source, e.EventTimestamp, e.IsAfterMarket,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// InsertBatch inserts events one by one, skipping duplicates. Returns the
// number actually inserted.
func (s *EventStore) InsertBatch(ctx context.Context, events []*domain.Event) (int, error) {
	inserted := 0
	for _, e := range events {
		err := s.Insert(ctx, e)
		if err == storage.ErrDuplicateKey {
			continue
		}
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// GetByID retrieves an event by ID. Returns ErrNotFound if not exists.
func (s *EventStore) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	e, err := scanEvent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get event by id: %w", err)
	}
	return e, nil
}

// BySourceNewsID retrieves the event derived from a raw news record.
func (s *EventStore) BySourceNewsID(ctx context.Context, newsID int64) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE source_news_id = $1 AND source_news_id <> 0`

	row := s.pool.QueryRow(ctx, query, newsID)
	e, err := scanEvent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get event by source news id: %w", err)
	}
	return e, nil
}

// CountPrior counts same-ticker same-type events with timestamp in [since, until).
func (s *EventStore) CountPrior(ctx context.Context, ticker string, et domain.EventType, since, until time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM events
		 WHERE ticker = $1 AND event_type = $2
		   AND event_timestamp >= $3 AND event_timestamp < $4`,
		ticker, string(et), since, until).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count prior events: %w", err)
	}
	return n, nil
}

// ByTickerWindow returns events with timestamp in [from, to), ascending.
func (s *EventStore) ByTickerWindow(ctx context.Context, ticker string, from, to time.Time) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE ticker = $1 AND event_timestamp >= $2 AND event_timestamp < $3
		ORDER BY event_timestamp ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, ticker, from, to)
	if err != nil {
		return nil, fmt.Errorf("get events by ticker window: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ByMarketWindow returns market events with timestamp in [from, to), ascending.
func (s *EventStore) ByMarketWindow(ctx context.Context, market string, from, to time.Time) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE market = $1 AND event_timestamp >= $2 AND event_timestamp < $3
		ORDER BY event_timestamp ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, market, from, to)
	if err != nil {
		return nil, fmt.Errorf("get events by market window: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// SimilarCandidates returns same-type events in [from, to), optionally
// restricted to one market.
func (s *EventStore) SimilarCandidates(ctx context.Context, et domain.EventType, market string, sameMarketOnly bool, from, to time.Time) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE event_type = $1 AND event_timestamp >= $2 AND event_timestamp < $3
		  AND ($4 = FALSE OR market = $5)
		ORDER BY event_timestamp DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, string(et), from, to, sameMarketOnly, market)
	if err != nil {
		return nil, fmt.Errorf("get similar candidates: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CountByType returns per-type event counts for a market window.
func (s *EventStore) CountByType(ctx context.Context, market string, from, to time.Time) (map[domain.EventType]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_type, count(*) FROM events
		 WHERE market = $1 AND event_timestamp >= $2 AND event_timestamp < $3
		 GROUP BY event_type`,
		market, from, to)
	if err != nil {
		return nil, fmt.Errorf("count events by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EventType]int)
	for rows.Next() {
		var et string
		var n int
		if err := rows.Scan(&et, &n); err != nil {
			return nil, fmt.Errorf("scan event count row: %w", err)
		}
		counts[domain.EventType(et)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event count rows: %w", err)
	}
	return counts, nil
}

// DeleteWindow removes a market's events in [from, to). Used before
// re-extracting a window.
func (s *EventStore) DeleteWindow(ctx context.Context, market string, from, to time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM events
		 WHERE market = $1 AND event_timestamp >= $2 AND event_timestamp < $3`,
		market, from, to)
	if err != nil {
		return 0, fmt.Errorf("delete events window: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanEvent scans a single row into an Event.
func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	var eventType, direction string

	err := row.Scan(
		&e.ID, &e.SourceNewsID, &e.Ticker, &e.StockName, &e.Market, &eventType,
		&direction, &e.Magnitude, &e.Novelty, &e.Credibility, &e.IsDisclosure,
		&e.Title, &e.Summary, &e.Source, &e.EventTimestamp, &e.IsAfterMarket, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.EventType = domain.EventType(eventType)
	e.Direction = domain.Direction(direction)
	return &e, nil
}

// scanEvents scans multiple rows into a slice of Event.
func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}
