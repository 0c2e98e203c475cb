package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/mkarhu/gridmerge/internal/config"
	"github.com/mkarhu/gridmerge/internal/domain"
	"github.com/mkarhu/gridmerge/internal/observability"
	"github.com/mkarhu/gridmerge/internal/popindex"
)

const (
	dirDateLayout  = "01-02-2006" // MM-DD-YYYY forecast directory names
	fileDateLayout = "01_02_2006" // MM_DD_YYYY forecast file prefixes
)

// Stages runs the pipeline's file-to-file stages with shared configuration
// and observability. Every stage writes its output atomically: a temp file
// renamed into place on success, nothing left behind on failure.
type Stages struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
}

// NewStages wires up the stage runners. Pass a nil clock for real time;
// tests pass a fake to pin the default run date.
func NewStages(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Stages {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Stages{cfg: cfg, logger: logger, metrics: metrics, clock: clock}
}

// DefaultDate is today's run date in the MM-DD-YYYY directory convention.
func (s *Stages) DefaultDate() string {
	return s.clock.Now().Format(dirDateLayout)
}

// MasterPath is the default joined-table path for a date.
func (s *Stages) MasterPath(date string) string {
	return filepath.Join(s.cfg.OutputDir, "master_"+date+".csv")
}

// FilteredPath is the default population-filtered table path for a date.
func (s *Stages) FilteredPath(date string) string {
	return PrefixedPath(s.MasterPath(date), "filtered_")
}

// GroupedPath is the default grouped-table path for a date.
func (s *Stages) GroupedPath(date string) string {
	return PrefixedPath(s.MasterPath(date), "grouped_")
}

// PrefixedPath derives an output path by prefixing the input's base name,
// keeping the directory.
func PrefixedPath(input, prefix string) string {
	return filepath.Join(filepath.Dir(input), prefix+filepath.Base(input))
}

// MergeSummary reports one merge stage run.
type MergeSummary struct {
	IndexEntries int
	IndexSkipped int
	Files        int
	Seen         int
	Matched      int
	Skipped      int
}

// Merge builds the population index, joins every forecast file for the date
// in input order, and writes the joined table to output.
func (s *Stages) Merge(date, output string) (MergeSummary, error) {
	start := time.Now()

	index, istats, err := popindex.Build(s.cfg.PopulationFile, s.logger)
	if err != nil {
		return MergeSummary{}, err
	}
	s.metrics.IndexEntries.Set(float64(istats.Entries))
	s.logger.Info("population index built",
		"entries", istats.Entries, "rows", istats.Rows, "skipped", istats.Skipped)

	files, err := s.forecastFiles(date)
	if err != nil {
		return MergeSummary{}, err
	}

	out, err := newAtomicWriter(output)
	if err != nil {
		return MergeSummary{}, err
	}
	defer out.Discard()

	cw := csv.NewWriter(out)
	if err := cw.Write(domain.MatchedHeader); err != nil {
		return MergeSummary{}, fmt.Errorf("write header: %w", err)
	}

	joiner := NewJoiner(index, s.logger)
	sum := MergeSummary{IndexEntries: istats.Entries, IndexSkipped: istats.Skipped, Files: len(files)}

	for _, path := range files {
		stats, err := s.joinFile(joiner, path, func(row domain.MatchedRow) error {
			return cw.Write(row.Fields())
		})
		sum.Seen += stats.Seen
		sum.Matched += stats.Matched
		sum.Skipped += stats.Skipped
		if err != nil {
			return sum, fmt.Errorf("join %s: %w", filepath.Base(path), err)
		}
		s.logger.Info("forecast file joined",
			"file", filepath.Base(path), "seen", stats.Seen, "matched", stats.Matched)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return sum, fmt.Errorf("write joined table: %w", err)
	}
	if err := out.Commit(); err != nil {
		return sum, err
	}

	s.observeJoin("merge", sum.Seen, sum.Matched, sum.Skipped)
	s.metrics.StageDuration.WithLabelValues("merge").Observe(time.Since(start).Seconds())
	return sum, nil
}

func (s *Stages) joinFile(joiner *Joiner, path string, emit func(domain.MatchedRow) error) (JoinStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return JoinStats{}, fmt.Errorf("open forecast table: %w", err)
	}
	defer f.Close()
	return joiner.Join(f, emit)
}

// forecastFiles lists the date's forecast tables: every .csv in the date's
// directory whose name starts with the underscore form of the date, in
// lexical (chronological) order.
func (s *Stages) forecastFiles(date string) ([]string, error) {
	parsed, err := time.Parse(dirDateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: want MM-DD-YYYY", date)
	}
	prefix := parsed.Format(fileDateLayout)

	dir := filepath.Join(s.cfg.DataDir, date)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read forecast directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".csv") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("no forecast files for %s in %s", date, dir)
	}
	return files, nil
}

// Filter runs the population>0 filter from input to output.
func (s *Stages) Filter(input, output string) (FilterStats, error) {
	stats, err := s.runFilter("filter", input, output, PopulationFilter{})
	if err != nil {
		return stats, err
	}
	s.metrics.RowsKept.Add(float64(stats.Kept))
	s.metrics.RowsRemoved.Add(float64(stats.Removed))
	return stats, nil
}

// Clip runs the bounding-box filter from input to output.
func (s *Stages) Clip(input, output string, box domain.BoundingBox) (FilterStats, error) {
	return s.runFilter("clip", input, output, BoxFilter{Box: box})
}

func (s *Stages) runFilter(stage, input, output string, pred RowPredicate) (FilterStats, error) {
	start := time.Now()

	in, err := os.Open(input)
	if err != nil {
		return FilterStats{}, fmt.Errorf("open input table: %w", err)
	}
	defer in.Close()

	out, err := newAtomicWriter(output)
	if err != nil {
		return FilterStats{}, err
	}
	defer out.Discard()

	cw := csv.NewWriter(out)
	stats, err := FilterRows(in, cw, pred, s.logger)
	if err != nil {
		return stats, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, fmt.Errorf("write filtered table: %w", err)
	}
	if err := out.Commit(); err != nil {
		return stats, err
	}

	s.metrics.RowsRead.WithLabelValues(stage).Add(float64(stats.Total))
	s.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return stats, nil
}

// Group runs the aggregation fold from input to output.
func (s *Stages) Group(input, output string) (GroupStats, error) {
	start := time.Now()

	in, err := os.Open(input)
	if err != nil {
		return GroupStats{}, fmt.Errorf("open input table: %w", err)
	}
	defer in.Close()

	out, err := newAtomicWriter(output)
	if err != nil {
		return GroupStats{}, err
	}
	defer out.Discard()

	cw := csv.NewWriter(out)
	stats, err := GroupRows(in, cw, s.logger)
	if err != nil {
		return stats, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, fmt.Errorf("write grouped table: %w", err)
	}
	if err := out.Commit(); err != nil {
		return stats, err
	}

	s.metrics.RowsRead.WithLabelValues("group").Add(float64(stats.Total))
	s.metrics.RowsSkipped.WithLabelValues("group").Add(float64(stats.Skipped))
	s.metrics.GroupsEmitted.Add(float64(stats.Groups))
	s.metrics.StageDuration.WithLabelValues("group").Observe(time.Since(start).Seconds())
	return stats, nil
}

// RunSummary reports one full merge-filter-group run.
type RunSummary struct {
	Merge  MergeSummary
	Filter FilterStats
	Groups int

	MasterPath   string
	FilteredPath string
	GroupedPath  string
}

// Run chains merge, filter, and group in a single pass: matched rows stream
// straight from the join into the filter and the fold, while all three
// tables are still materialized. The grouped table commits last, after its
// inputs, so a crash never leaves a grouped table without its sources.
func (s *Stages) Run(date string) (RunSummary, error) {
	start := time.Now()

	sum := RunSummary{
		MasterPath:   s.MasterPath(date),
		FilteredPath: s.FilteredPath(date),
		GroupedPath:  s.GroupedPath(date),
	}

	index, istats, err := popindex.Build(s.cfg.PopulationFile, s.logger)
	if err != nil {
		return sum, err
	}
	s.metrics.IndexEntries.Set(float64(istats.Entries))

	files, err := s.forecastFiles(date)
	if err != nil {
		return sum, err
	}

	master, err := newAtomicWriter(sum.MasterPath)
	if err != nil {
		return sum, err
	}
	defer master.Discard()
	filtered, err := newAtomicWriter(sum.FilteredPath)
	if err != nil {
		return sum, err
	}
	defer filtered.Discard()
	grouped, err := newAtomicWriter(sum.GroupedPath)
	if err != nil {
		return sum, err
	}
	defer grouped.Discard()

	masterCSV := csv.NewWriter(master)
	filteredCSV := csv.NewWriter(filtered)
	groupedCSV := csv.NewWriter(grouped)

	if err := masterCSV.Write(domain.MatchedHeader); err != nil {
		return sum, fmt.Errorf("write header: %w", err)
	}
	if err := filteredCSV.Write(domain.MatchedHeader); err != nil {
		return sum, fmt.Errorf("write header: %w", err)
	}

	joiner := NewJoiner(index, s.logger)
	folder := NewFolder()
	sum.Merge = MergeSummary{IndexEntries: istats.Entries, IndexSkipped: istats.Skipped, Files: len(files)}

	emit := func(row domain.MatchedRow) error {
		if err := masterCSV.Write(row.Fields()); err != nil {
			return err
		}
		sum.Filter.Total++
		// Mirrors PopulationFilter: NaN fails the comparison and is removed.
		if !(row.Population > 0) {
			sum.Filter.Removed++
			return nil
		}
		sum.Filter.Kept++
		if err := filteredCSV.Write(row.Fields()); err != nil {
			return err
		}
		folder.Add(row)
		return nil
	}

	for _, path := range files {
		stats, err := s.joinFile(joiner, path, emit)
		sum.Merge.Seen += stats.Seen
		sum.Merge.Matched += stats.Matched
		sum.Merge.Skipped += stats.Skipped
		if err != nil {
			return sum, fmt.Errorf("join %s: %w", filepath.Base(path), err)
		}
	}

	if err := groupedCSV.Write(domain.GroupedHeader); err != nil {
		return sum, fmt.Errorf("write header: %w", err)
	}
	for _, g := range folder.Groups() {
		fields, err := g.Fields()
		if err != nil {
			return sum, err
		}
		if err := groupedCSV.Write(fields); err != nil {
			return sum, fmt.Errorf("write group: %w", err)
		}
	}
	sum.Groups = folder.Len()

	for _, cw := range []*csv.Writer{masterCSV, filteredCSV, groupedCSV} {
		cw.Flush()
		if err := cw.Error(); err != nil {
			return sum, fmt.Errorf("write output table: %w", err)
		}
	}
	if err := master.Commit(); err != nil {
		return sum, err
	}
	if err := filtered.Commit(); err != nil {
		return sum, err
	}
	if err := grouped.Commit(); err != nil {
		return sum, err
	}

	s.observeJoin("run", sum.Merge.Seen, sum.Merge.Matched, sum.Merge.Skipped)
	s.metrics.RowsKept.Add(float64(sum.Filter.Kept))
	s.metrics.RowsRemoved.Add(float64(sum.Filter.Removed))
	s.metrics.GroupsEmitted.Add(float64(sum.Groups))
	s.metrics.StageDuration.WithLabelValues("run").Observe(time.Since(start).Seconds())
	return sum, nil
}

func (s *Stages) observeJoin(stage string, seen, matched, skipped int) {
	s.metrics.RowsRead.WithLabelValues(stage).Add(float64(seen))
	s.metrics.RowsSkipped.WithLabelValues(stage).Add(float64(skipped))
	s.metrics.RowsMatched.Add(float64(matched))
	s.metrics.RowsUnmatched.Add(float64(seen - matched - skipped))
}

// LoadGroupedTable reads a grouped table back into memory for the load and
// publish boundaries.
func LoadGroupedTable(path string) ([]domain.LocationGroup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open grouped table: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("read grouped header: %w", err)
	}

	var groups []domain.LocationGroup
	line := 1
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read grouped table: %w", err)
		}
		line++
		g, err := domain.ParseGroupedRow(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		groups = append(groups, g)
	}
	return groups, nil
}
