// Package store persists confirmed health records in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-vitals/internal/config"
	"github.com/loqalabs/loqa-vitals/internal/health"
)

var ErrNotFound = errors.New("store: record not found")

// Store wraps a SQLite-backed record table. Timestamps are stored as unix
// milliseconds.
type Store struct {
	db    *sql.DB
	cfg   config.RecordStoreConfig
	log   *slog.Logger
	clock func() time.Time
	gauge metric.Registration
}

// Open initializes the record store according to config.
func Open(ctx context.Context, cfg config.RecordStoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log.With(slog.String("component", "record-store")), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := s.Prune(ctx); err != nil {
		s.log.Warn("record store prune on start failed", slog.String("error", err.Error()))
	}
	if err := s.initMetrics(); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-vitals/store")
	gauge, err := meter.Int64ObservableGauge("vitals.records.stored", metric.WithDescription("Stored records by type"))
	if err != nil {
		return err
	}
	s.gauge, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		counts, err := s.Counts(ctx)
		if err != nil {
			return err
		}
		for t, n := range counts {
			obs.ObserveInt64(gauge, n, metric.WithAttributes(attribute.String("type", string(t))))
		}
		return nil
	}, gauge)
	return err
}

// Counts returns the number of stored records per type.
func (s *Store) Counts(ctx context.Context) (map[health.RecordType]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM records GROUP BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[health.RecordType]int64)
	for rows.Next() {
		var (
			typ string
			n   int64
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[health.RecordType(typ)] = n
	}
	return counts, rows.Err()
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS records (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    data BLOB NOT NULL,
    timestamp INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_type_timestamp ON records(type, timestamp);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.gauge != nil {
		_ = s.gauge.Unregister()
	}
	return s.db.Close()
}

// GenerateID returns a fresh record ID.
func (s *Store) GenerateID() string {
	return health.NewID()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, ex execer, rec health.Record) error {
	if rec.ID == "" {
		rec.ID = s.GenerateID()
	}
	if _, err := health.ParseType(string(rec.Type)); err != nil {
		return err
	}
	if len(rec.Data) == 0 {
		return fmt.Errorf("record %s has no data", rec.ID)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clock()
	}
	// Re-saving a record with the same ID replaces it.
	_, err := ex.ExecContext(ctx,
		`INSERT INTO records(id, type, data, timestamp, created_at) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET type=excluded.type, data=excluded.data, timestamp=excluded.timestamp`,
		rec.ID, string(rec.Type), []byte(rec.Data), rec.Timestamp.UnixMilli(), s.clock().UnixMilli())
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, rec health.Record) error {
	return s.insert(ctx, s.db, rec)
}

// SaveMany writes all records or none.
func (s *Store) SaveMany(ctx context.Context, recs []health.Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, rec := range recs {
		if err = s.insert(ctx, tx, rec); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Update replaces the stored record with the given ID.
func (s *Store) Update(ctx context.Context, id string, rec health.Record) error {
	if _, err := health.ParseType(string(rec.Type)); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clock()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET type = ?, data = ?, timestamp = ? WHERE id = ?`,
		string(rec.Type), []byte(rec.Data), rec.Timestamp.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	return expectOne(res, id)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (health.Record, error) {
	recs, err := s.query(ctx, `WHERE id = ?`, id)
	if err != nil {
		return health.Record{}, err
	}
	if len(recs) == 0 {
		return health.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return recs[0], nil
}

// ListByType returns records of one domain, newest first.
func (s *Store) ListByType(ctx context.Context, t health.RecordType) ([]health.Record, error) {
	return s.query(ctx, `WHERE type = ?`, string(t))
}

// ListAll returns every record, newest first.
func (s *Store) ListAll(ctx context.Context) ([]health.Record, error) {
	return s.query(ctx, ``)
}

// ListToday returns records captured on the current local day.
func (s *Store) ListToday(ctx context.Context) ([]health.Record, error) {
	now := s.clock()
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, 1)
	return s.query(ctx, `WHERE timestamp >= ? AND timestamp < ?`, start.UnixMilli(), end.UnixMilli())
}

// Latest returns the newest record of each domain that has any.
func (s *Store) Latest(ctx context.Context) (map[health.RecordType]health.Record, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[health.RecordType]health.Record)
	for _, rec := range all {
		if _, ok := out[rec.Type]; !ok {
			out[rec.Type] = rec
		}
	}
	return out, nil
}

func (s *Store) query(ctx context.Context, where string, args ...any) ([]health.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, data, timestamp FROM records `+where+` ORDER BY timestamp DESC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []health.Record
	for rows.Next() {
		var (
			rec  health.Record
			typ  string
			data []byte
			ts   int64
		)
		if err := rows.Scan(&rec.ID, &typ, &data, &ts); err != nil {
			return nil, err
		}
		rec.Type = health.RecordType(typ)
		rec.Data = data
		rec.Timestamp = time.UnixMilli(ts).UTC()
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Prune drops records older than the retention window. Zero days keeps
// everything.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Info("pruned records", slog.Int64("count", n), slog.Int("retention_days", s.cfg.RetentionDays))
	}
	return nil
}
