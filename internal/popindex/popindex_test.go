package popindex_test

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mkarhu/gridmerge/internal/domain"
	"github.com/mkarhu/gridmerge/internal/popindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildFromReader_SwapsCoordinateOrder(t *testing.T) {
	src := strings.Join([]string{
		"longitude,latitude,population",
		"-122.42,37.77,1000.0",
	}, "\n")

	ix, stats, err := popindex.BuildFromReader(strings.NewReader(src), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.Rows)
	assert.Zero(t, stats.Skipped)

	pop, ok := ix.Lookup(domain.GridKey{Lat: 37.77, Lon: -122.42})
	require.True(t, ok)
	assert.Equal(t, 1000.0, pop)

	// The source order (lon, lat) must not be usable as a key.
	_, ok = ix.Lookup(domain.GridKey{Lat: -122.42, Lon: 37.77})
	assert.False(t, ok)
}

func TestBuildFromReader_QuantizesKeys(t *testing.T) {
	src := strings.Join([]string{
		"longitude,latitude,population",
		"-122.419999,37.770001,42.0",
	}, "\n")

	ix, _, err := popindex.BuildFromReader(strings.NewReader(src), discardLogger())
	require.NoError(t, err)

	pop, ok := ix.Lookup(domain.KeyFor(37.77, -122.42))
	require.True(t, ok)
	assert.Equal(t, 42.0, pop)
}

func TestBuildFromReader_LastWriteWins(t *testing.T) {
	src := strings.Join([]string{
		"longitude,latitude,population",
		"-122.42,37.77,100.0",
		"-122.42,37.77,200.0",
	}, "\n")

	ix, stats, err := popindex.BuildFromReader(strings.NewReader(src), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 2, stats.Rows)

	pop, ok := ix.Lookup(domain.KeyFor(37.77, -122.42))
	require.True(t, ok)
	assert.Equal(t, 200.0, pop)
}

func TestBuildFromReader_SkipsMalformedRows(t *testing.T) {
	src := strings.Join([]string{
		"longitude,latitude,population",
		"-122.42,37.77,1000.0",
		"not-a-number,37.78,50.0",
		"-122.43,37.79",
		"-122.44,37.80,75.0",
	}, "\n")

	ix, stats, err := popindex.BuildFromReader(strings.NewReader(src), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Rows)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 2, ix.Len())
}

func TestBuild_MissingFileIsFatal(t *testing.T) {
	_, _, err := popindex.Build(filepath.Join(t.TempDir(), "absent.csv"), discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open population table")
}
