package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Column layouts shared by the pipeline's CSV tables.
var (
	// MatchedHeader is the layout of master_, filtered_ and us_ tables.
	MatchedHeader = []string{"forecast_time", "latitude", "longitude", "population", "temp_2m", "temp_2m_stddev"}

	// GroupedHeader is the layout of grouped_ tables.
	GroupedHeader = []string{"forecast_time", "latitude", "longitude", "population", "forecasts"}
)

// ForecastRecord is one parsed row of a model-cycle forecast table.
// Coordinates are raw (unquantized) and the longitude still follows the
// source's 0-360 convention.
type ForecastRecord struct {
	Time   string
	Lat    float64
	Lon    float64
	Value  *float64
	Stddev *float64
}

// MatchedRow is one joined row: a forecast cell together with the
// population found for it. Coordinates are quantized and the longitude is
// signed.
type MatchedRow struct {
	Time       string
	Lat        float64
	Lon        float64
	Population float64
	Value      *float64
	Stddev     *float64
}

// ForecastSample is one timestamped measurement inside a LocationGroup.
type ForecastSample struct {
	Time   string   `json:"time"`
	Value  *float64 `json:"value"`
	Stddev *float64 `json:"stddev"`
}

// GroupKey is the composite identity a row folds under. Population joins
// the coordinates so a location only merges with rows that carried the
// same population value.
type GroupKey struct {
	Lat        float64
	Lon        float64
	Population float64
}

// LocationGroup collects every sample seen for one GroupKey. Time is the
// timestamp of the first row folded in; Samples keep encounter order and
// are never empty.
type LocationGroup struct {
	Time       string
	Lat        float64
	Lon        float64
	Population float64
	Samples    []ForecastSample
}

// ParseForecastRow converts one forecast-table record into a
// ForecastRecord. Four-column tables have no stddev column; in
// five-column tables an empty stddev field is a missing value.
func ParseForecastRow(fields []string) (ForecastRecord, error) {
	if len(fields) != 4 && len(fields) != 5 {
		return ForecastRecord{}, fmt.Errorf("forecast row: want 4 or 5 fields, got %d", len(fields))
	}

	lat, err := parseFloatField("latitude", fields[1])
	if err != nil {
		return ForecastRecord{}, err
	}
	lon, err := parseFloatField("longitude", fields[2])
	if err != nil {
		return ForecastRecord{}, err
	}
	value, err := parseOptionalFloat("temp_2m", fields[3])
	if err != nil {
		return ForecastRecord{}, err
	}

	rec := ForecastRecord{Time: fields[0], Lat: lat, Lon: lon, Value: value}
	if len(fields) == 5 {
		stddev, err := parseOptionalFloat("temp_2m_stddev", fields[4])
		if err != nil {
			return ForecastRecord{}, err
		}
		rec.Stddev = stddev
	}
	return rec, nil
}

// ParseMatchedRow converts one joined-table record into a MatchedRow.
// Five-column tables (joined from stddev-less forecasts) are accepted
// alongside the usual six columns.
func ParseMatchedRow(fields []string) (MatchedRow, error) {
	if len(fields) != 5 && len(fields) != 6 {
		return MatchedRow{}, fmt.Errorf("matched row: want 5 or 6 fields, got %d", len(fields))
	}

	lat, err := parseFloatField("latitude", fields[1])
	if err != nil {
		return MatchedRow{}, err
	}
	lon, err := parseFloatField("longitude", fields[2])
	if err != nil {
		return MatchedRow{}, err
	}
	pop, err := parseFloatField("population", fields[3])
	if err != nil {
		return MatchedRow{}, err
	}
	value, err := parseOptionalFloat("temp_2m", fields[4])
	if err != nil {
		return MatchedRow{}, err
	}

	row := MatchedRow{Time: fields[0], Lat: lat, Lon: lon, Population: pop, Value: value}
	if len(fields) == 6 {
		stddev, err := parseOptionalFloat("temp_2m_stddev", fields[5])
		if err != nil {
			return MatchedRow{}, err
		}
		row.Stddev = stddev
	}
	return row, nil
}

// Key returns the composite identity the row folds under.
func (r MatchedRow) Key() GroupKey {
	return GroupKey{Lat: r.Lat, Lon: r.Lon, Population: r.Population}
}

// Sample extracts the row's timestamped measurement.
func (r MatchedRow) Sample() ForecastSample {
	return ForecastSample{Time: r.Time, Value: r.Value, Stddev: r.Stddev}
}

// Fields renders the row in MatchedHeader order. Missing measurements
// become empty fields.
func (r MatchedRow) Fields() []string {
	return []string{
		r.Time,
		FormatFloat(r.Lat),
		FormatFloat(r.Lon),
		FormatFloat(r.Population),
		formatOptional(r.Value),
		formatOptional(r.Stddev),
	}
}

// Fields renders the group in GroupedHeader order. The sample list is
// embedded as a JSON array in the last column; the CSV layer adds the
// quoting that keeps it round-trippable.
func (g LocationGroup) Fields() ([]string, error) {
	samples, err := EncodeSamples(g.Samples)
	if err != nil {
		return nil, err
	}
	return []string{
		g.Time,
		FormatFloat(g.Lat),
		FormatFloat(g.Lon),
		FormatFloat(g.Population),
		samples,
	}, nil
}

// ParseGroupedRow converts one grouped-table record back into a
// LocationGroup, decoding the embedded sample list.
func ParseGroupedRow(fields []string) (LocationGroup, error) {
	if len(fields) != 5 {
		return LocationGroup{}, fmt.Errorf("grouped row: want 5 fields, got %d", len(fields))
	}

	lat, err := parseFloatField("latitude", fields[1])
	if err != nil {
		return LocationGroup{}, err
	}
	lon, err := parseFloatField("longitude", fields[2])
	if err != nil {
		return LocationGroup{}, err
	}
	pop, err := parseFloatField("population", fields[3])
	if err != nil {
		return LocationGroup{}, err
	}
	samples, err := DecodeSamples(fields[4])
	if err != nil {
		return LocationGroup{}, err
	}

	return LocationGroup{Time: fields[0], Lat: lat, Lon: lon, Population: pop, Samples: samples}, nil
}

// EncodeSamples marshals a sample list into the JSON array stored in the
// forecasts column.
func EncodeSamples(samples []ForecastSample) (string, error) {
	data, err := json.Marshal(samples)
	if err != nil {
		return "", fmt.Errorf("encode samples: %w", err)
	}
	return string(data), nil
}

// DecodeSamples is the inverse of EncodeSamples.
func DecodeSamples(s string) ([]ForecastSample, error) {
	var samples []ForecastSample
	if err := json.Unmarshal([]byte(s), &samples); err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}
	return samples, nil
}

// FormatFloat renders a value in the fixed six-decimal form shared by
// every derived table.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return FormatFloat(*v)
}

// parseFloatField parses a required numeric field.
func parseFloatField(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, s, err)
	}
	return v, nil
}

// parseOptionalFloat parses a measurement field. Empty means the model had
// no value for this cell; anything else must parse.
func parseOptionalFloat(name, s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s %q: %w", name, s, err)
	}
	return &v, nil
}
