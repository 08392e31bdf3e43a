package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists batches in the batches table (see migrations/).
type PostgresStore struct {
	DB        *sql.DB
	retention time.Duration
	now       func() time.Time
}

func NewPostgresStore(db *sql.DB, retention time.Duration) *PostgresStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &PostgresStore{DB: db, retention: retention, now: time.Now}
}

// OpenPostgres opens and pings a lib/pq connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) Put(ctx context.Context, res *Result) (string, error) {
	stored := *res
	stored.StoredAt = s.now().UTC()
	stored.Status = StatusCompleted
	payload, err := json.Marshal(stored.Results)
	if err != nil {
		return "", fmt.Errorf("encode batch: %w", err)
	}

	if stored.ID != "" {
		_, err := s.DB.ExecContext(ctx,
			`INSERT INTO batches (id, payload, stored_at) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, stored_at = EXCLUDED.stored_at`,
			stored.ID, string(payload), stored.StoredAt)
		if err != nil {
			return "", fmt.Errorf("insert batch: %w", err)
		}
	} else {
		for {
			stored.ID = NewID()
			_, err := s.DB.ExecContext(ctx,
				`INSERT INTO batches (id, payload, stored_at) VALUES ($1, $2, $3)`,
				stored.ID, string(payload), stored.StoredAt)
			var pgErr *pq.Error
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				continue
			}
			if err != nil {
				return "", fmt.Errorf("insert batch: %w", err)
			}
			break
		}
	}
	res.ID, res.StoredAt, res.Status = stored.ID, stored.StoredAt, stored.Status
	return stored.ID, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Result, error) {
	var (
		payload  []byte
		storedAt time.Time
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT payload, stored_at FROM batches WHERE id=$1 AND stored_at >= $2`,
		id, s.cutoff(s.now())).Scan(&payload, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select batch: %w", err)
	}
	res := &Result{ID: id, StoredAt: storedAt, Status: StatusCompleted}
	if err := json.Unmarshal(payload, &res.Results); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", id, err)
	}
	return res, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	r, err := s.DB.ExecContext(ctx,
		`DELETE FROM batches WHERE id=$1 AND stored_at >= $2`, id, s.cutoff(s.now()))
	if err != nil {
		return false, fmt.Errorf("delete batch: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	r, err := s.DB.ExecContext(ctx, `DELETE FROM batches WHERE stored_at < $1`, s.cutoff(now))
	if err != nil {
		return 0, fmt.Errorf("sweep batches: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM batches WHERE stored_at >= $1`, s.cutoff(s.now())).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count batches: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) cutoff(now time.Time) time.Time {
	return now.Add(-s.retention).UTC()
}
