package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	httpadapter "github.com/mkarhu/gridmerge/internal/adapter/http"
	kafkaadapter "github.com/mkarhu/gridmerge/internal/adapter/kafka"
	"github.com/mkarhu/gridmerge/internal/adapter/postgres"
	"github.com/mkarhu/gridmerge/internal/config"
	"github.com/mkarhu/gridmerge/internal/domain"
	"github.com/mkarhu/gridmerge/internal/observability"
	"github.com/mkarhu/gridmerge/internal/pipeline"
)

var (
	flagDate       string
	flagDataDir    string
	flagPopulation string
	flagOutputDir  string

	flagInput  string
	flagOutput string

	flagMinLat float64
	flagMaxLat float64
	flagMinLon float64
	flagMaxLon float64

	flagMetricsAddr string
	flagDSN         string
	flagBrokers     string
	flagTopic       string
	flagBatchSize   int
)

var rootCmd = &cobra.Command{
	Use:           "gridmerge",
	Short:         "Join gridded forecasts against a population table",
	Long:          "gridmerge joins per-cell weather forecasts with a static population grid,\nfilters out unpopulated cells, and folds the result into per-location series.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Join a date's forecast files against the population table",
	RunE:  runMerge,
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Keep only rows with population greater than zero",
	RunE:  runFilterCmd,
}

var clipCmd = &cobra.Command{
	Use:   "clip",
	Short: "Keep only rows inside a geographic bounding box",
	RunE:  runClip,
}

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Fold rows into one series per location",
	RunE:  runGroup,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run merge, filter, and group in one pass",
	RunE:  runAll,
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a grouped table into Postgres",
	RunE:  runLoad,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a grouped table to Kafka",
	RunE:  runPublish,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDate, "date", "", "run date as MM-DD-YYYY (default today)")
	pf.StringVar(&flagDataDir, "data-dir", "", "forecast data directory (default $DATA_DIR)")
	pf.StringVar(&flagPopulation, "population", "", "population table path (default $POPULATION_FILE)")
	pf.StringVar(&flagOutputDir, "output-dir", "", "output directory (default $OUTPUT_DIR)")

	for _, cmd := range []*cobra.Command{filterCmd, clipCmd, groupCmd} {
		cmd.Flags().StringVar(&flagInput, "input", "", "input table (default derived from the date)")
	}
	for _, cmd := range []*cobra.Command{mergeCmd, filterCmd, clipCmd, groupCmd} {
		cmd.Flags().StringVar(&flagOutput, "output", "", "output table (default derived from the input)")
	}

	clipCmd.Flags().Float64Var(&flagMinLat, "min-lat", domain.ContiguousUS.MinLat, "southern edge of the window")
	clipCmd.Flags().Float64Var(&flagMaxLat, "max-lat", domain.ContiguousUS.MaxLat, "northern edge of the window")
	clipCmd.Flags().Float64Var(&flagMinLon, "min-lon", domain.ContiguousUS.MinLon, "western edge of the window")
	clipCmd.Flags().Float64Var(&flagMaxLon, "max-lon", domain.ContiguousUS.MaxLon, "eastern edge of the window")

	runCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve /healthz and /metrics on this address during the run")

	loadCmd.Flags().StringVar(&flagInput, "input", "", "grouped table (default derived from the date)")
	loadCmd.Flags().StringVar(&flagDSN, "dsn", "", "Postgres connection string (default $DATABASE_URL)")
	loadCmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "rows per transaction (default $BATCH_SIZE)")

	publishCmd.Flags().StringVar(&flagInput, "input", "", "grouped table (default derived from the date)")
	publishCmd.Flags().StringVar(&flagBrokers, "brokers", "", "comma-separated Kafka brokers (default $KAFKA_BROKERS)")
	publishCmd.Flags().StringVar(&flagTopic, "topic", "", "Kafka topic (default $KAFKA_TOPIC)")

	rootCmd.AddCommand(mergeCmd, filterCmd, clipCmd, groupCmd, runCmd, loadCmd, publishCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the pieces every command needs. Flags override the
// environment-derived configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	stages  *pipeline.Stages
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
		cfg.PopulationFile = config.EnvOrDefault("POPULATION_FILE", cfg.DataDir+"/population_2020.csv")
		cfg.OutputDir = config.EnvOrDefault("OUTPUT_DIR", cfg.DataDir)
	}
	if flagPopulation != "" {
		cfg.PopulationFile = flagPopulation
	}
	if flagOutputDir != "" {
		cfg.OutputDir = flagOutputDir
	}
	if flagMetricsAddr != "" {
		cfg.MetricsAddr = flagMetricsAddr
	}
	if flagDSN != "" {
		cfg.DatabaseURL = flagDSN
	}
	if flagBrokers != "" {
		cfg.KafkaBrokers = config.ParseBrokers(flagBrokers)
	}
	if flagTopic != "" {
		cfg.KafkaTopic = flagTopic
	}
	if flagBatchSize > 0 {
		cfg.BatchSize = flagBatchSize
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	stages := pipeline.NewStages(cfg, logger, metrics, nil)

	return &app{cfg: cfg, logger: logger, metrics: metrics, stages: stages}, nil
}

func (a *app) date() string {
	if flagDate != "" {
		return flagDate
	}
	return a.stages.DefaultDate()
}

// The counts summaries go to stdout whether the stage succeeded or not, so
// a failed run still reports how far it got. The stage functions return
// partial counts alongside their error.

func printMergeSummary(output string, sum pipeline.MergeSummary) {
	fmt.Printf("merge: %d files, %d rows seen, %d matched, %d skipped -> %s\n",
		sum.Files, sum.Seen, sum.Matched, sum.Skipped, output)
}

func printFilterSummary(stage, output string, stats pipeline.FilterStats) {
	fmt.Printf("%s: %d rows, %d kept, %d removed -> %s\n",
		stage, stats.Total, stats.Kept, stats.Removed, output)
}

func printGroupSummary(output string, stats pipeline.GroupStats) {
	fmt.Printf("group: %d rows, %d groups, %d skipped -> %s\n",
		stats.Total, stats.Groups, stats.Skipped, output)
}

func runMerge(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	date := a.date()

	output := flagOutput
	if output == "" {
		output = a.stages.MasterPath(date)
	}

	sum, err := a.stages.Merge(date, output)
	printMergeSummary(output, sum)
	return err
}

func runFilterCmd(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	input := flagInput
	if input == "" {
		input = a.stages.MasterPath(a.date())
	}
	output := flagOutput
	if output == "" {
		output = pipeline.PrefixedPath(input, "filtered_")
	}

	stats, err := a.stages.Filter(input, output)
	printFilterSummary("filter", output, stats)
	return err
}

func runClip(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	input := flagInput
	if input == "" {
		input = a.stages.MasterPath(a.date())
	}
	output := flagOutput
	if output == "" {
		output = pipeline.PrefixedPath(input, "us_")
	}

	box := domain.BoundingBox{MinLat: flagMinLat, MaxLat: flagMaxLat, MinLon: flagMinLon, MaxLon: flagMaxLon}
	stats, err := a.stages.Clip(input, output, box)
	printFilterSummary("clip", output, stats)
	return err
}

func runGroup(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	date := a.date()

	input := flagInput
	if input == "" {
		input = a.stages.FilteredPath(date)
	}
	output := flagOutput
	if output == "" {
		output = a.stages.GroupedPath(date)
	}

	stats, err := a.stages.Group(input, output)
	printGroupSummary(output, stats)
	return err
}

func runAll(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	var srv *httpadapter.Server
	if a.cfg.MetricsAddr != "" {
		srv = httpadapter.NewServer(a.cfg.MetricsAddr, a.logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", "error", err)
			}
		}()
	}

	sum, err := a.stages.Run(a.date())
	printMergeSummary(sum.MasterPath, sum.Merge)
	printFilterSummary("filter", sum.FilteredPath, sum.Filter)
	fmt.Printf("run: %d groups -> %s\n", sum.Groups, sum.GroupedPath)

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(ctx); serr != nil {
			a.logger.Error("http server shutdown error", "error", serr)
		}
	}
	return err
}

func runLoad(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if a.cfg.DatabaseURL == "" {
		return errors.New("no Postgres connection string: set DATABASE_URL or --dsn")
	}

	input := flagInput
	if input == "" {
		input = a.stages.GroupedPath(a.date())
	}
	groups, err := pipeline.LoadGroupedTable(input)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, err := postgres.NewLoader(a.cfg.DatabaseURL, a.cfg.BatchSize, a.logger)
	if err != nil {
		return err
	}
	defer loader.Close()

	if err := loader.EnsureSchema(ctx); err != nil {
		return err
	}
	err = loader.LoadGroups(ctx, groups)
	fmt.Printf("load: %d groups from %s\n", len(groups), input)
	return err
}

func runPublish(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	input := flagInput
	if input == "" {
		input = a.stages.GroupedPath(a.date())
	}
	groups, err := pipeline.LoadGroupedTable(input)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher := kafkaadapter.NewPublisher(a.cfg, a.logger)
	defer publisher.Close()

	err = publisher.PublishGroups(ctx, groups)
	fmt.Printf("publish: %d groups from %s to %s\n", len(groups), input, a.cfg.KafkaTopic)
	return err
}
