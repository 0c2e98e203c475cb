// Package popindex builds the in-memory population lookup the spatial join
// runs against: one entry per quantized grid cell, built once per run,
// read-only afterwards.
package popindex

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mkarhu/gridmerge/internal/domain"
)

// Index maps quantized grid cells to population values. After Build returns
// the index is never written again, so concurrent lookups need no locking.
type Index struct {
	entries map[domain.GridKey]float64
}

// BuildStats reports what the builder did with the source table.
type BuildStats struct {
	Entries int // distinct cells in the index
	Rows    int // data rows read
	Skipped int // malformed rows dropped
}

// Build loads a population table from disk. A missing or unreadable file is
// fatal; malformed rows are skipped and counted.
func Build(path string, logger *slog.Logger) (*Index, BuildStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, BuildStats{}, fmt.Errorf("open population table: %w", err)
	}
	defer f.Close()

	return BuildFromReader(f, logger)
}

// BuildFromReader loads a population table from r. Source columns are
// longitude,latitude,population; index keys are (latitude, longitude), so
// the coordinate order is swapped on insert. Duplicate cells keep the last
// value read.
func BuildFromReader(r io.Reader, logger *slog.Logger) (*Index, BuildStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil {
		return nil, BuildStats{}, fmt.Errorf("read population header: %w", err)
	}

	ix := &Index{entries: make(map[domain.GridKey]float64)}
	var stats BuildStats

	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, BuildStats{}, fmt.Errorf("read population table: %w", err)
		}

		stats.Rows++
		lon, lat, pop, err := parseRow(fields)
		if err != nil {
			stats.Skipped++
			logger.Warn("skipping malformed population row", "line", stats.Rows+1, "error", err)
			continue
		}

		ix.entries[domain.KeyFor(lat, lon)] = pop
	}

	stats.Entries = len(ix.entries)
	return ix, stats, nil
}

func parseRow(fields []string) (lon, lat, pop float64, err error) {
	if len(fields) < 3 {
		return 0, 0, 0, fmt.Errorf("want 3 fields, got %d", len(fields))
	}
	if lon, err = parseFloat("longitude", fields[0]); err != nil {
		return 0, 0, 0, err
	}
	if lat, err = parseFloat("latitude", fields[1]); err != nil {
		return 0, 0, 0, err
	}
	if pop, err = parseFloat("population", fields[2]); err != nil {
		return 0, 0, 0, err
	}
	return lon, lat, pop, nil
}

func parseFloat(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, s, err)
	}
	return v, nil
}

// Lookup returns the population recorded for a quantized cell.
func (ix *Index) Lookup(key domain.GridKey) (float64, bool) {
	pop, ok := ix.entries[key]
	return pop, ok
}

// Len reports the number of distinct cells in the index.
func (ix *Index) Len() int {
	return len(ix.entries)
}
