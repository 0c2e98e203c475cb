package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mkarhu/gridmerge/internal/domain"
)

// Folder folds matched rows into one LocationGroup per composite
// (lat, lon, population) key. Groups come back in first-seen order, and the
// sample list inside each group keeps row encounter order. The order slice
// holds the group pointers directly: a key containing NaN never equals
// itself on lookup, so rows carrying one each get their own group instead
// of a lost map entry.
type Folder struct {
	groups map[domain.GroupKey]*domain.LocationGroup
	order  []*domain.LocationGroup
}

// NewFolder creates an empty fold.
func NewFolder() *Folder {
	return &Folder{groups: make(map[domain.GroupKey]*domain.LocationGroup)}
}

// Add folds one row in. The first row for a key creates the group and
// donates its timestamp as the group's base time; every row appends its
// sample, so a group is never empty.
func (f *Folder) Add(row domain.MatchedRow) {
	key := row.Key()
	g, ok := f.groups[key]
	if !ok {
		g = &domain.LocationGroup{
			Time:       row.Time,
			Lat:        row.Lat,
			Lon:        row.Lon,
			Population: row.Population,
		}
		f.groups[key] = g
		f.order = append(f.order, g)
	}
	g.Samples = append(g.Samples, row.Sample())
}

// Len reports the number of groups folded so far.
func (f *Folder) Len() int {
	return len(f.order)
}

// Groups returns every group in first-seen order.
func (f *Folder) Groups() []domain.LocationGroup {
	out := make([]domain.LocationGroup, 0, len(f.order))
	for _, g := range f.order {
		out = append(out, *g)
	}
	return out
}

// GroupStats counts what one fold pass saw.
type GroupStats struct {
	Total   int // data rows read
	Skipped int // malformed rows dropped
	Groups  int // location groups written
}

// GroupRows folds a filtered table from r into the grouped layout on w:
// one row per composite key, the sample list embedded as a JSON array in
// the forecasts column. The CSV writer supplies the quoting that keeps the
// embedded array round-trippable.
func GroupRows(r io.Reader, w *csv.Writer, logger *slog.Logger) (GroupStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil {
		return GroupStats{}, fmt.Errorf("read header: %w", err)
	}

	folder := NewFolder()
	var stats GroupStats

	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read row: %w", err)
		}

		stats.Total++
		row, err := domain.ParseMatchedRow(fields)
		if err != nil {
			stats.Skipped++
			logger.Warn("skipping malformed row", "row", stats.Total, "error", err)
			continue
		}
		folder.Add(row)
	}

	if err := w.Write(domain.GroupedHeader); err != nil {
		return stats, fmt.Errorf("write header: %w", err)
	}
	for _, g := range folder.Groups() {
		fields, err := g.Fields()
		if err != nil {
			return stats, err
		}
		if err := w.Write(fields); err != nil {
			return stats, fmt.Errorf("write group: %w", err)
		}
	}

	stats.Groups = folder.Len()
	return stats, nil
}
