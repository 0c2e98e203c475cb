package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/mkarhu/gridmerge/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS location_forecasts (
	forecast_time TEXT             NOT NULL,
	latitude      DOUBLE PRECISION NOT NULL,
	longitude     DOUBLE PRECISION NOT NULL,
	population    DOUBLE PRECISION NOT NULL,
	forecasts     JSONB            NOT NULL,
	loaded_at     TIMESTAMPTZ      NOT NULL,
	PRIMARY KEY (latitude, longitude, population)
)`

const upsertQuery = `
INSERT INTO location_forecasts
	(forecast_time, latitude, longitude, population, forecasts, loaded_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (latitude, longitude, population) DO UPDATE SET
	forecast_time = EXCLUDED.forecast_time,
	forecasts     = EXCLUDED.forecasts,
	loaded_at     = EXCLUDED.loaded_at`

// Loader persists grouped location forecasts into Postgres.
type Loader struct {
	db        *sqlx.DB
	logger    *slog.Logger
	batchSize int
}

// NewLoader opens a connection pool and verifies it with a ping.
func NewLoader(dsn string, batchSize int, logger *slog.Logger) (*Loader, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Loader{db: db, logger: logger, batchSize: batchSize}, nil
}

// EnsureSchema creates the destination table if it does not exist.
func (l *Loader) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// LoadGroups upserts the grouped table in transactional batches. A location
// loaded twice keeps the latest forecasts.
func (l *Loader) LoadGroups(ctx context.Context, groups []domain.LocationGroup) error {
	loadedAt := domain.Now().UTC()

	for start := 0; start < len(groups); start += l.batchSize {
		end := min(start+l.batchSize, len(groups))
		if err := l.loadBatch(ctx, groups[start:end], loadedAt); err != nil {
			return fmt.Errorf("load batch at %d: %w", start, err)
		}
		l.logger.Debug("batch loaded", "from", start, "to", end)
	}

	l.logger.Info("groups loaded", "count", len(groups))
	return nil
}

func (l *Loader) loadBatch(ctx context.Context, groups []domain.LocationGroup, loadedAt time.Time) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PreparexContext(ctx, upsertQuery)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, g := range groups {
		args, err := upsertArgs(g, loadedAt)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("upsert group at %s,%s: %w",
				domain.FormatFloat(g.Lat), domain.FormatFloat(g.Lon), err)
		}
	}

	return tx.Commit()
}

// CountGroups reports how many locations the destination table holds.
func (l *Loader) CountGroups(ctx context.Context) (int, error) {
	var n int
	if err := l.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM location_forecasts`); err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}
	return n, nil
}

func (l *Loader) Close() error {
	return l.db.Close()
}

// upsertArgs flattens a group into the upsert's positional arguments, with
// the sample list encoded for the jsonb column.
func upsertArgs(g domain.LocationGroup, loadedAt time.Time) ([]any, error) {
	samples, err := domain.EncodeSamples(g.Samples)
	if err != nil {
		return nil, err
	}
	return []any{g.Time, g.Lat, g.Lon, g.Population, samples, loadedAt}, nil
}
