//go:build integration

package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarhu/gridmerge/internal/adapter/postgres"
	"github.com/mkarhu/gridmerge/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }

func testGroups() []domain.LocationGroup {
	return []domain.LocationGroup{
		{
			Time: "2023-01-15 00:00:00", Lat: 37.77, Lon: -122.42, Population: 1000,
			Samples: []domain.ForecastSample{
				{Time: "2023-01-15 00:00:00", Value: floatPtr(15.2), Stddev: floatPtr(0.3)},
				{Time: "2023-01-15 06:00:00", Value: floatPtr(16.0), Stddev: nil},
			},
		},
		{
			Time: "2023-01-15 00:00:00", Lat: 40.71, Lon: -74.00, Population: 500,
			Samples: []domain.ForecastSample{
				{Time: "2023-01-15 00:00:00", Value: floatPtr(3.0), Stddev: floatPtr(0.1)},
			},
		},
	}
}

// TestLoaderRoundTrip loads a grouped table into a real Postgres, reloads it
// to exercise the upsert path, and reads the rows back.
func TestLoaderRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := startPostgres(ctx, t)

	loader, err := postgres.NewLoader(dsn, 1, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = loader.Close() })

	require.NoError(t, loader.EnsureSchema(ctx))
	require.NoError(t, loader.LoadGroups(ctx, testGroups()))

	n, err := loader.CountGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Loading again must update in place, not duplicate.
	updated := testGroups()
	updated[0].Samples = updated[0].Samples[:1]
	require.NoError(t, loader.LoadGroups(ctx, updated))

	n, err = loader.CountGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var row struct {
		ForecastTime string  `db:"forecast_time"`
		Population   float64 `db:"population"`
		Forecasts    string  `db:"forecasts"`
	}
	require.NoError(t, db.GetContext(ctx, &row,
		`SELECT forecast_time, population, forecasts
		 FROM location_forecasts WHERE latitude = $1 AND longitude = $2`,
		37.77, -122.42))

	assert.Equal(t, "2023-01-15 00:00:00", row.ForecastTime)
	assert.Equal(t, 1000.0, row.Population)

	samples, err := domain.DecodeSamples(row.Forecasts)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 15.2, *samples[0].Value)
}
