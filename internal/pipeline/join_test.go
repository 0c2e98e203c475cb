package pipeline_test

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mkarhu/gridmerge/internal/domain"
	"github.com/mkarhu/gridmerge/internal/pipeline"
	"github.com/mkarhu/gridmerge/internal/popindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildIndex(t *testing.T, rows ...string) *popindex.Index {
	t.Helper()
	src := "longitude,latitude,population\n" + strings.Join(rows, "\n")
	ix, _, err := popindex.BuildFromReader(strings.NewReader(src), discardLogger())
	require.NoError(t, err)
	return ix
}

func collectRows(t *testing.T, j *pipeline.Joiner, forecast string) ([]domain.MatchedRow, pipeline.JoinStats) {
	t.Helper()
	var rows []domain.MatchedRow
	stats, err := j.Join(strings.NewReader(forecast), func(row domain.MatchedRow) error {
		rows = append(rows, row)
		return nil
	})
	require.NoError(t, err)
	return rows, stats
}

func TestJoin_NormalizesLongitudeConvention(t *testing.T) {
	// The forecast grid speaks 0-360; 237.58 is -122.42 in signed degrees.
	ix := buildIndex(t, "-122.42,37.77,1000.0")
	j := pipeline.NewJoiner(ix, discardLogger())

	forecast := strings.Join([]string{
		"forecast_time,latitude,longitude,temp_2m,temp_2m_stddev",
		"2023-01-15 00:00:00,37.77,237.58,15.2,0.3",
	}, "\n")

	rows, stats := collectRows(t, j, forecast)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, stats.Seen)
	assert.Equal(t, 1, stats.Matched)

	row := rows[0]
	assert.Equal(t, "2023-01-15 00:00:00", row.Time)
	assert.Equal(t, 37.77, row.Lat)
	assert.Equal(t, -122.42, row.Lon)
	assert.Equal(t, 1000.0, row.Population)
	require.NotNil(t, row.Value)
	assert.Equal(t, 15.2, *row.Value)
	require.NotNil(t, row.Stddev)
	assert.Equal(t, 0.3, *row.Stddev)
}

func TestJoin_DropsUnmatchedRows(t *testing.T) {
	ix := buildIndex(t, "-122.42,37.77,1000.0")
	j := pipeline.NewJoiner(ix, discardLogger())

	forecast := strings.Join([]string{
		"forecast_time,latitude,longitude,temp_2m,temp_2m_stddev",
		"t0,37.77,237.58,15.2,0.3",
		"t0,48.85,2.35,9.1,0.2", // Paris: not in the index
	}, "\n")

	rows, stats := collectRows(t, j, forecast)
	assert.Len(t, rows, 1)
	assert.Equal(t, 2, stats.Seen)
	assert.Equal(t, 1, stats.Matched)
	assert.Zero(t, stats.Skipped)
}

func TestJoin_SkipsMalformedRows(t *testing.T) {
	ix := buildIndex(t, "-122.42,37.77,1000.0")
	j := pipeline.NewJoiner(ix, discardLogger())

	forecast := strings.Join([]string{
		"forecast_time,latitude,longitude,temp_2m,temp_2m_stddev",
		"t0,not-a-number,237.58,15.2,0.3",
		"t0,37.77,237.58,15.2,0.3",
	}, "\n")

	rows, stats := collectRows(t, j, forecast)
	assert.Len(t, rows, 1)
	assert.Equal(t, 2, stats.Seen)
	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, 1, stats.Skipped)
}

func TestJoin_PreservesInputOrderAndDuplicates(t *testing.T) {
	ix := buildIndex(t, "-122.42,37.77,1000.0")
	j := pipeline.NewJoiner(ix, discardLogger())

	// Duplicate (time, location) pairs from overlapping files pass through.
	forecast := strings.Join([]string{
		"forecast_time,latitude,longitude,temp_2m,temp_2m_stddev",
		"t0,37.77,237.58,15.2,0.3",
		"t1,37.77,237.58,16.0,0.4",
		"t0,37.77,237.58,15.2,0.3",
	}, "\n")

	rows, stats := collectRows(t, j, forecast)
	require.Len(t, rows, 3)
	assert.Equal(t, 3, stats.Matched)
	assert.Equal(t, []string{"t0", "t1", "t0"}, []string{rows[0].Time, rows[1].Time, rows[2].Time})
}

func TestJoin_FourColumnInputHasNoStddev(t *testing.T) {
	ix := buildIndex(t, "-122.42,37.77,1000.0")
	j := pipeline.NewJoiner(ix, discardLogger())

	forecast := strings.Join([]string{
		"forecast_time,latitude,longitude,temp_2m",
		"t0,37.77,237.58,15.2",
	}, "\n")

	rows, _ := collectRows(t, j, forecast)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Stddev)
}

func TestJoin_IsDeterministic(t *testing.T) {
	ix := buildIndex(t,
		"-122.42,37.77,1000.0",
		"-122.43,37.78,500.0",
	)
	j := pipeline.NewJoiner(ix, discardLogger())

	forecast := strings.Join([]string{
		"forecast_time,latitude,longitude,temp_2m,temp_2m_stddev",
		"t0,37.77,237.58,15.2,0.3",
		"t0,37.78,237.57,14.8,0.2",
		"t1,37.77,237.58,16.1,0.5",
	}, "\n")

	first, _ := collectRows(t, j, forecast)
	second, _ := collectRows(t, j, forecast)
	assert.Equal(t, first, second)
}
