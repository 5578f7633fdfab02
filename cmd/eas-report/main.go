package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/batch"
	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/config"
	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/eas"
	internalerrors "github.com/IliadMediaGroup/EAS-XML-Parser/internal/errors"
	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/logging"
	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/notification"
	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/storage"
	"github.com/IliadMediaGroup/EAS-XML-Parser/pkg/logger"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

// Version information - injected at build time via ldflags
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	cli := config.ParseCLI()

	if cli.ShowHelp {
		config.PrintUsage()
		return exitSuccess
	}

	if cli.ShowVersion {
		fmt.Printf("eas-report %s\n", version)
		if gitCommit != "unknown" {
			fmt.Printf("  commit: %s\n", gitCommit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
		return exitSuccess
	}

	cfg, err := config.LoadWithCLI(cli)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitFailure
	}

	if cli.ListStations {
		return listStations(cfg)
	}

	baseLog := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		LogDir:     cfg.LogDir,
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	}).WithFields(map[string]interface{}{
		"station": cfg.StationID,
		"version": version,
	})
	log := logging.NewSecure(baseLog)
	defer func() {
		if err := log.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()

	processor := batch.NewProcessor(
		batch.WithReader(eas.NewReader(cfg.MaxLogSizeMB)),
		batch.WithLogger(log),
	)

	switch {
	case cli.Discover:
		err = discoverSources(processor, cfg)
	case cli.History != "":
		err = printHistory(cfg, cli.History)
	default:
		err = runReport(processor, cfg, log)
	}
	if err != nil {
		log.Error().Err(err).Msg("Run failed")
		return exitFailure
	}
	return exitSuccess
}

func listStations(cfg *config.Config) int {
	if cfg.StationsConfig == nil {
		_, _ = fmt.Fprintf(os.Stderr, "No %s found\n", config.StationsFileName)
		return exitFailure
	}

	fmt.Printf("Stations from %s:\n", cfg.StationsConfigPath)
	for _, id := range cfg.StationsConfig.ListStations() {
		station := cfg.StationsConfig.Stations[id]
		marker := " "
		if id == cfg.StationsConfig.DefaultStation {
			marker = "*"
		}
		fmt.Printf(" %s %-12s %s\n", marker, id, station.DisplayName(id))
		if len(station.MonitorSources) > 0 {
			fmt.Printf("     sources: %v\n", station.MonitorSources)
		}
	}
	return exitSuccess
}

func discoverSources(processor *batch.Processor, cfg *config.Config) error {
	if cfg.SampleFile == "" {
		return fmt.Errorf("-discover needs a sample file (-sample or EAS_SAMPLE_FILE)")
	}

	sources, err := processor.DiscoverMonitorSources(cfg.SampleFile)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("No monitor sources found")
		return nil
	}
	for _, src := range sources {
		fmt.Println(src)
	}
	return nil
}

func printHistory(cfg *config.Config, month string) error {
	if _, err := time.Parse("2006-01", month); err != nil {
		return fmt.Errorf("invalid -history month %q (expected YYYY-MM)", month)
	}
	if !cfg.EnableDatabase {
		return fmt.Errorf("run history needs ENABLE_DATABASE=true")
	}

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	return writeHistory(os.Stdout, store, month, cfg.StationID)
}

// writeHistory prints the runs recorded for month, their file outcomes and
// a statistics footer for the station.
func writeHistory(w io.Writer, store *storage.Storage, month, station string) error {
	runs, err := store.GetRunsForMonth(month, station)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintf(w, "No runs recorded for %s\n", month)
	}

	for _, r := range runs {
		status := "saved"
		if r.SaveError != "" {
			status = "save failed"
		}
		_, _ = fmt.Fprintf(w, "%s (%s)  %s  files=%d skipped=%d weekly=%d monthly=%d warnings=%d  %s\n",
			r.Timestamp.Format("2006-01-02 15:04"), humanize.Time(r.Timestamp),
			status, r.FilesTotal, r.FilesSkipped, r.WeeklyEvents, r.MonthlyEvents,
			len(r.Warnings), r.OutputPath)

		files, err := store.GetRunFiles(r.RunID)
		if err != nil {
			return err
		}
		for _, f := range files {
			switch {
			case f.Error != "":
				_, _ = fmt.Fprintf(w, "    %s  skipped: %s\n", f.Path, f.Error)
			case len(f.Excluded) > 0:
				_, _ = fmt.Fprintf(w, "    %s  entries=%d events=%d excluded=%s\n",
					f.Path, f.Entries, f.Events, strings.Join(f.Excluded, ","))
			default:
				_, _ = fmt.Fprintf(w, "    %s  entries=%d events=%d\n", f.Path, f.Entries, f.Events)
			}
		}
	}

	stats, err := store.GetStatistics(station)
	if err != nil {
		return fmt.Errorf("failed to read statistics: %w", err)
	}
	dist, _ := stats["month_distribution"].(map[string]int)
	months := make([]string, 0, len(dist))
	for m := range dist {
		months = append(months, m)
	}
	sort.Strings(months)
	for i, m := range months {
		months[i] = fmt.Sprintf("%s=%d", m, dist[m])
	}
	_, _ = fmt.Fprintf(w, "Total runs: %v, failed saves: %v, by month: %s\n",
		stats["total_runs"], stats["failed_saves"], strings.Join(months, " "))
	return nil
}

func runReport(processor *batch.Processor, cfg *config.Config, log *logging.SecureLogger) error {
	startTime := time.Now()

	log.Info().
		Str("format", string(cfg.ReportFormat)).
		Str("output_dir", cfg.OutputDir).
		Msg("Starting EAS report")

	reader := eas.NewReader(cfg.MaxLogSizeMB)
	for _, path := range cfg.Files {
		if info, err := reader.GetSourceInfo(path); err == nil {
			log.Debug().
				Str("file", path).
				Str("size", info["size"].(string)).
				Float64("age_hours", info["age_hours"].(float64)).
				Msg("Input file")
		}
	}

	res, err := processor.Run(batch.RunConfig{
		Files:     cfg.Files,
		Sources:   cfg.MonitorSources,
		OutputDir: cfg.OutputDir,
		Format:    cfg.ReportFormat,
	}, cfg.SampleFile)
	if err != nil {
		return err
	}

	for _, w := range res.Warnings {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	if cfg.EnableDatabase {
		recordRun(cfg, res, log)
	}

	if cfg.HasTelegram() {
		notify(cfg, res, log)
	}

	log.Info().
		Float64("total_duration_s", time.Since(startTime).Seconds()).
		Str("output", res.OutputPath).
		Msg("All operations completed")

	if !res.Saved() {
		return fmt.Errorf("report for %s was not saved: %w", res.MonthKey, res.SaveErr)
	}
	fmt.Println(res.OutputPath)
	return nil
}

// recordRun stores the run in the history database. Failures are logged only.
func recordRun(cfg *config.Config, res *batch.Result, log *logging.SecureLogger) {
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize storage, run not recorded")
		return
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}()

	if err := store.SaveRun(storage.RunFromResult(res, cfg.StationID)); err != nil {
		log.Warn().Err(err).Msg("Failed to save run to database")
	} else {
		log.Info().Str("run_id", res.RunID).Msg("Run saved to database")
	}

	deleted, err := store.CleanupOldRuns(cfg.HistoryRetentionDays)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to cleanup old runs")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Old runs cleaned up")
	}
}

func notify(cfg *config.Config, res *batch.Result, log *logging.SecureLogger) {
	client, err := notification.NewTelegramClient(cfg.TelegramBotToken, cfg.TelegramChannelID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Telegram client")
		return
	}
	defer func() { _ = client.Close() }()

	if username, ok := client.GetBotInfo()["username"].(string); ok {
		log.Debug().
			Str("username", username).
			Str("token", internalerrors.MaskCredential(cfg.TelegramBotToken)).
			Msg("Telegram bot initialized")
	}

	if err := client.SendRunReport(res, cfg.StationName); err != nil {
		log.Warn().Err(err).Msg("Failed to send Telegram notice")
		return
	}
	log.Info().Msg("Telegram notice sent")
}
