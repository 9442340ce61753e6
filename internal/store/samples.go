package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/viewlabs/viewband/pkg/envelope"
)

// SampleStore reads raw view-count observations from a SQL backend.
// The production source of truth is an external append-only table; a
// local SQLite file serves development, imports and tests. Reads are
// keyset-paged so the engine never assumes single-shot delivery.
type SampleStore struct {
	db     *sqlx.DB
	driver string
}

// sampleRow is the view_samples table shape.
type sampleRow struct {
	ID       int64  `db:"id"`
	EntityID string `db:"entity_id"`
	AgeDays  int    `db:"age_days"`
	Value    int64  `db:"value"`
}

// NewSampleStore opens the sample source. driver is "sqlite" or
// "postgres". The SQLite backend owns its schema; Postgres is treated
// as an externally managed table.
func NewSampleStore(driver, dsn string) (*SampleStore, error) {
	switch driver {
	case "sqlite", "":
		driver = "sqlite"
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported sample driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sample store (%s): %w", driver, err)
	}

	if driver == "sqlite" {
		if _, err := db.Exec(sampleSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("run sample migrations: %w", err)
		}
	}

	return &SampleStore{db: db, driver: driver}, nil
}

func (s *SampleStore) Close() error {
	return s.db.Close()
}

// ListSamples returns one page of samples with id > AfterID, in id
// order, filtered by age range and optionally by entity.
func (s *SampleStore) ListSamples(ctx context.Context, q envelope.SampleQuery) (envelope.SamplePage, error) {
	query := "SELECT id, entity_id, age_days, value FROM view_samples WHERE id > ? AND age_days >= ? AND age_days <= ?"
	args := []any{q.AfterID, q.MinAge, q.MaxAge}

	if q.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, q.EntityID)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 5000
	}
	query += " ORDER BY id LIMIT ?"
	args = append(args, limit)

	var rows []sampleRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return envelope.SamplePage{}, fmt.Errorf("list samples: %w", err)
	}

	page := envelope.SamplePage{Samples: make([]envelope.Sample, len(rows))}
	for i, r := range rows {
		page.Samples[i] = envelope.Sample{EntityID: r.EntityID, AgeDays: r.AgeDays, Value: r.Value}
	}
	if len(rows) == limit {
		page.NextID = rows[len(rows)-1].ID
	}
	return page, nil
}

// InsertSamples appends observations. Used by the import command and
// by tests against the SQLite backend.
func (s *SampleStore) InsertSamples(ctx context.Context, samples []envelope.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert samples: begin: %w", err)
	}
	defer tx.Rollback()

	insert := tx.Rebind("INSERT INTO view_samples (entity_id, age_days, value, observed_at) VALUES (?, ?, ?, ?)")
	now := time.Now().UTC()
	for _, smp := range samples {
		if _, err := tx.ExecContext(ctx, insert, smp.EntityID, smp.AgeDays, smp.Value, now); err != nil {
			return fmt.Errorf("insert sample %s/%d: %w", smp.EntityID, smp.AgeDays, err)
		}
	}
	return tx.Commit()
}

// CountSamples returns the total number of stored observations.
func (s *SampleStore) CountSamples(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM view_samples"); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return n, nil
}
