package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mkarhu/gridmerge/internal/domain"
)

// RowPredicate decides whether a joined-table row survives a filter stage.
// An error means the row cannot be judged; callers count those as removed.
type RowPredicate interface {
	Keep(fields []string) (bool, error)
}

// PopulationFilter keeps rows whose population field is strictly positive.
type PopulationFilter struct{}

func (PopulationFilter) Keep(fields []string) (bool, error) {
	if len(fields) < 4 {
		return false, fmt.Errorf("row has %d fields, want at least 4", len(fields))
	}
	pop, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	if err != nil {
		return false, fmt.Errorf("parse population %q: %w", fields[3], err)
	}
	return pop > 0, nil
}

// BoxFilter keeps rows whose quantized coordinates fall inside an inclusive
// latitude/longitude window.
type BoxFilter struct {
	Box domain.BoundingBox
}

func (f BoxFilter) Keep(fields []string) (bool, error) {
	if len(fields) < 3 {
		return false, fmt.Errorf("row has %d fields, want at least 3", len(fields))
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return false, fmt.Errorf("parse latitude %q: %w", fields[1], err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return false, fmt.Errorf("parse longitude %q: %w", fields[2], err)
	}
	return f.Box.Contains(lat, lon), nil
}

// FilterStats counts what one filter pass saw.
type FilterStats struct {
	Total   int
	Kept    int
	Removed int
}

// FilterRows copies the header and every kept row from r to w, passing kept
// rows through unchanged and preserving their order. Rows the predicate
// cannot judge are removed and counted.
func FilterRows(r io.Reader, w *csv.Writer, pred RowPredicate, logger *slog.Logger) (FilterStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return FilterStats{}, fmt.Errorf("read header: %w", err)
	}
	if err := w.Write(header); err != nil {
		return FilterStats{}, fmt.Errorf("write header: %w", err)
	}

	var stats FilterStats
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read row: %w", err)
		}

		stats.Total++
		keep, err := pred.Keep(fields)
		if err != nil {
			stats.Removed++
			logger.Warn("removing unparseable row", "row", stats.Total, "error", err)
			continue
		}
		if !keep {
			stats.Removed++
			continue
		}

		stats.Kept++
		if err := w.Write(fields); err != nil {
			return stats, fmt.Errorf("write row: %w", err)
		}
	}

	return stats, nil
}
