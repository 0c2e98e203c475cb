package domain_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mkarhu/gridmerge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestParseForecastRow(t *testing.T) {
	t.Run("five columns", func(t *testing.T) {
		rec, err := domain.ParseForecastRow([]string{"2023-01-15 00:00:00", "37.77", "237.58", "15.2", "0.3"})
		require.NoError(t, err)
		assert.Equal(t, "2023-01-15 00:00:00", rec.Time)
		assert.Equal(t, 37.77, rec.Lat)
		assert.Equal(t, 237.58, rec.Lon)
		require.NotNil(t, rec.Value)
		assert.Equal(t, 15.2, *rec.Value)
		require.NotNil(t, rec.Stddev)
		assert.Equal(t, 0.3, *rec.Stddev)
	})

	t.Run("four columns has no stddev", func(t *testing.T) {
		rec, err := domain.ParseForecastRow([]string{"t0", "37.77", "237.58", "15.2"})
		require.NoError(t, err)
		assert.Nil(t, rec.Stddev)
	})

	t.Run("empty measurement is a missing value", func(t *testing.T) {
		rec, err := domain.ParseForecastRow([]string{"t0", "37.77", "237.58", "", ""})
		require.NoError(t, err)
		assert.Nil(t, rec.Value)
		assert.Nil(t, rec.Stddev)
	})

	t.Run("bad coordinate is an error", func(t *testing.T) {
		_, err := domain.ParseForecastRow([]string{"t0", "north", "237.58", "15.2"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "latitude")
	})

	t.Run("wrong field count is an error", func(t *testing.T) {
		_, err := domain.ParseForecastRow([]string{"t0", "37.77"})
		assert.Error(t, err)
	})
}

func TestMatchedRow_Fields(t *testing.T) {
	row := domain.MatchedRow{
		Time:       "t0",
		Lat:        37.77,
		Lon:        -122.42,
		Population: 1000,
		Value:      floatPtr(15.2),
		Stddev:     floatPtr(0.3),
	}
	assert.Equal(t, []string{"t0", "37.770000", "-122.420000", "1000.000000", "15.200000", "0.300000"}, row.Fields())

	row.Stddev = nil
	assert.Equal(t, "", row.Fields()[5])
}

func TestParseMatchedRow_RoundTripsFields(t *testing.T) {
	row := domain.MatchedRow{
		Time:       "t0",
		Lat:        37.77,
		Lon:        -122.42,
		Population: 1000,
		Value:      floatPtr(15.2),
	}

	parsed, err := domain.ParseMatchedRow(row.Fields())
	require.NoError(t, err)
	if diff := cmp.Diff(row, parsed); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSamples_EncodeDecode(t *testing.T) {
	samples := []domain.ForecastSample{
		{Time: "t0", Value: floatPtr(15.2), Stddev: floatPtr(0.3)},
		{Time: `with "quotes", commas`, Value: nil, Stddev: nil},
	}

	encoded, err := domain.EncodeSamples(samples)
	require.NoError(t, err)
	assert.Contains(t, encoded, `"value":null`)

	decoded, err := domain.DecodeSamples(encoded)
	require.NoError(t, err)
	if diff := cmp.Diff(samples, decoded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLocationGroup_FieldsAndParse(t *testing.T) {
	g := domain.LocationGroup{
		Time:       "t0",
		Lat:        37.77,
		Lon:        -122.42,
		Population: 1000,
		Samples: []domain.ForecastSample{
			{Time: "t0", Value: floatPtr(15.2), Stddev: floatPtr(0.3)},
			{Time: "t1", Value: floatPtr(16.0), Stddev: nil},
		},
	}

	fields, err := g.Fields()
	require.NoError(t, err)
	require.Len(t, fields, 5)
	assert.Equal(t, "37.770000", fields[1])

	parsed, err := domain.ParseGroupedRow(fields)
	require.NoError(t, err)
	if diff := cmp.Diff(g, parsed); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseGroupedRow_BadSampleList(t *testing.T) {
	_, err := domain.ParseGroupedRow([]string{"t0", "37.77", "-122.42", "1000", "not-json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode samples")
}
