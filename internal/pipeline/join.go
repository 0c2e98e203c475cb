// Package pipeline implements the merge, filter, clip, and group stages
// over delimited forecast tables, plus the file-to-file runners that tie
// them together.
package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mkarhu/gridmerge/internal/domain"
	"github.com/mkarhu/gridmerge/internal/popindex"
)

// Joiner streams forecast rows against a prebuilt population index. The
// index is read-only during the join, so one Joiner may serve concurrent
// passes over independent files.
type Joiner struct {
	index  *popindex.Index
	logger *slog.Logger
}

// NewJoiner creates a Joiner over the given index.
func NewJoiner(index *popindex.Index, logger *slog.Logger) *Joiner {
	return &Joiner{index: index, logger: logger}
}

// JoinStats counts what one join pass saw.
type JoinStats struct {
	Seen    int // data rows read
	Matched int // rows joined to a population cell
	Skipped int // malformed rows dropped
}

// Join streams one forecast table through the index, calling emit for every
// matched row in input order. Rows whose quantized cell is not in the index
// are dropped silently and counted; malformed rows are skipped and counted.
func (j *Joiner) Join(r io.Reader, emit func(domain.MatchedRow) error) (JoinStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil {
		return JoinStats{}, fmt.Errorf("read forecast header: %w", err)
	}

	var stats JoinStats
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read forecast table: %w", err)
		}

		stats.Seen++
		rec, err := domain.ParseForecastRow(fields)
		if err != nil {
			stats.Skipped++
			j.logger.Warn("skipping malformed forecast row", "row", stats.Seen, "error", err)
			continue
		}

		row, ok := j.Match(rec)
		if !ok {
			continue
		}

		stats.Matched++
		if err := emit(row); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

// Match normalizes one record onto the index's grid and looks its cell up.
// The longitude is converted to signed degrees before quantization so the
// forecast's 0-360 convention meets the population grid's signed one.
func (j *Joiner) Match(rec domain.ForecastRecord) (domain.MatchedRow, bool) {
	key := domain.KeyFor(rec.Lat, domain.SignedLongitude(rec.Lon))
	pop, ok := j.index.Lookup(key)
	if !ok {
		return domain.MatchedRow{}, false
	}
	return domain.MatchedRow{
		Time:       rec.Time,
		Lat:        key.Lat,
		Lon:        key.Lon,
		Population: pop,
		Value:      rec.Value,
		Stddev:     rec.Stddev,
	}, true
}
