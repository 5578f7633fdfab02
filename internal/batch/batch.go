// Package batch runs the EAS report pipeline over a set of log files:
// read, classify, aggregate into one month, build the report and persist it.
package batch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/artifact"
	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/eas"
	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/logging"
	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/report"
)

// Run input errors. They are returned before any file is read, except
// ErrNoMonthData which means nothing in the batch classified.
var (
	ErrNoFiles     = errors.New("no input files selected")
	ErrNoOutputDir = errors.New("no output directory selected")
	ErrNoSources   = errors.New("no monitor sources selected")
	ErrNoMonthData = errors.New("no valid data found to determine the month")
)

// RunConfig is everything one run needs.
type RunConfig struct {
	// Files are processed in order.
	Files []string
	// Sources are matched in order; the first match wins.
	Sources   []string
	OutputDir string
	// Format defaults to xlsx.
	Format artifact.FormatName
}

// Validate checks the required run inputs.
func (c RunConfig) Validate() error {
	if err := c.validateTargets(); err != nil {
		return err
	}
	if len(c.Sources) == 0 {
		return ErrNoSources
	}
	return nil
}

// validateTargets checks the inputs that do not depend on source resolution.
func (c RunConfig) validateTargets() error {
	if len(c.Files) == 0 {
		return ErrNoFiles
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return ErrNoOutputDir
	}
	return nil
}

// FileOutcome records what happened to one input file.
type FileOutcome struct {
	Path     string
	Entries  int
	Events   int
	Excluded []string // week buckets outside the report month
	Err      error    // set when the file was skipped
}

// Skipped reports whether the file could not be read.
func (f FileOutcome) Skipped() bool {
	return f.Err != nil
}

// Result summarizes a completed run.
type Result struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	MonthKey   string
	Sources    []string
	OutputPath string
	Format     artifact.FormatName
	Created    bool

	Files    []FileOutcome
	Warnings []string

	WeeklyEvents  int
	MonthlyEvents int

	// LoadFallback is set when an existing artifact could not be opened
	// and was replaced by a new one.
	LoadFallback error
	// SaveErr is set when the artifact could not be written. The run is
	// still reported complete.
	SaveErr error

	Report *report.Report
}

// Saved reports whether the artifact was written.
func (r *Result) Saved() bool {
	return r.SaveErr == nil && r.OutputPath != ""
}

// SkippedFiles returns the number of unreadable input files.
func (r *Result) SkippedFiles() int {
	n := 0
	for _, f := range r.Files {
		if f.Skipped() {
			n++
		}
	}
	return n
}

// Option configures a Processor.
type Option func(*Processor)

// WithReader replaces the XML reader.
func WithReader(r eas.EntryReader) Option {
	return func(p *Processor) { p.reader = r }
}

// WithExtractor replaces the source discovery heuristic.
func WithExtractor(e eas.SourceExtractor) Option {
	return func(p *Processor) { p.extractor = e }
}

// WithMatcher replaces the monitor attribution policy.
func WithMatcher(m eas.SourceMatcher) Option {
	return func(p *Processor) { p.matcher = m }
}

// WithFormats replaces the artifact format registry.
func WithFormats(r *artifact.Registry) Option {
	return func(p *Processor) { p.formats = r }
}

// WithLogger sets the progress and warning sink.
func WithLogger(l *logging.SecureLogger) Option {
	return func(p *Processor) { p.log = l }
}

// Processor runs batches. It holds no state between runs.
type Processor struct {
	reader    eas.EntryReader
	extractor eas.SourceExtractor
	matcher   eas.SourceMatcher
	formats   *artifact.Registry
	log       *logging.SecureLogger
	now       func() time.Time
}

// DefaultMaxSizeMB is the reader size limit when none is configured.
const DefaultMaxSizeMB = 10

// NewProcessor creates a processor with the default reader, heuristics and
// formats.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		reader:    eas.NewReader(DefaultMaxSizeMB),
		extractor: eas.NewTokenHeuristic(),
		formats:   artifact.DefaultRegistry(),
		log:       logging.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DiscoverMonitorSources returns the sorted candidate sources found in a
// sample log.
func (p *Processor) DiscoverMonitorSources(sample string) ([]string, error) {
	entries, err := p.reader.Read(sample)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample: %w", err)
	}

	sources := p.extractor.Extract(entries)
	p.log.Info().
		Str("file", sample).
		Int("entries", len(entries)).
		Int("sources", len(sources)).
		Msg("Monitor sources detected")
	return sources, nil
}

// ResolveSources returns selected when it is not empty, otherwise every
// source discovered in sample.
func (p *Processor) ResolveSources(selected []string, sample string) ([]string, error) {
	if len(selected) > 0 {
		return selected, nil
	}
	if sample == "" {
		return nil, ErrNoSources
	}

	sources, err := p.DiscoverMonitorSources(sample)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	p.log.Info().Strs("sources", sources).Msg("No sources selected, using all detected")
	return sources, nil
}

// Run checks files and output directory, resolves cfg.Sources against
// sample and processes the batch. The sample is never read when the run
// cannot start.
func (p *Processor) Run(cfg RunConfig, sample string) (*Result, error) {
	if err := cfg.validateTargets(); err != nil {
		return nil, err
	}
	sources, err := p.ResolveSources(cfg.Sources, sample)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve monitor sources: %w", err)
	}
	cfg.Sources = sources
	return p.ProcessBatch(cfg)
}

// ProcessBatch reads every file of cfg in order, merges them into one
// month and writes the month's artifact. Unreadable files and weeks from
// other months are skipped with a warning. A save failure is logged and
// returned in Result.SaveErr, not as an error.
func (p *Processor) ProcessBatch(cfg RunConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	formatName := cfg.Format
	if formatName == "" {
		formatName = artifact.FormatXLSX
	}
	format, ok := p.formats.Get(formatName)
	if !ok {
		return nil, fmt.Errorf("unsupported report format: %s", formatName)
	}

	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: p.now(),
		Sources:   cfg.Sources,
		Format:    formatName,
	}
	log := p.log.With("run_id", res.RunID)

	var opts []eas.ClassifierOption
	if p.matcher != nil {
		opts = append(opts, eas.WithMatcher(p.matcher))
	}
	classifier := eas.NewClassifier(cfg.Sources, opts...)

	log.Info().
		Int("files", len(cfg.Files)).
		Strs("sources", classifier.Sources()).
		Msg("Starting processing...")
	agg := eas.NewAggregate()

	for _, path := range cfg.Files {
		res.Files = append(res.Files, p.processFile(log, path, classifier, agg, res))
	}

	res.WeeklyEvents = agg.Weekly.Len()
	res.MonthlyEvents = agg.Monthly.Len()

	if agg.MonthKey() == "" {
		log.Error().Msg("No valid data found to determine the month")
		res.Duration = p.now().Sub(res.StartedAt)
		return res, ErrNoMonthData
	}

	rep := report.Build(agg)
	res.MonthKey = rep.MonthKey
	res.Report = rep

	p.persist(log, cfg.OutputDir, format, res)

	res.Duration = p.now().Sub(res.StartedAt)
	log.Info().
		Str("month", res.MonthKey).
		Int("weekly_events", res.WeeklyEvents).
		Int("monthly_events", res.MonthlyEvents).
		Int("warnings", len(res.Warnings)).
		Float64("duration_s", res.Duration.Seconds()).
		Msg("Processing complete")
	return res, nil
}

func (p *Processor) processFile(log *logging.SecureLogger, path string, c *eas.Classifier, agg *eas.Aggregate, res *Result) FileOutcome {
	out := FileOutcome{Path: path}
	log.Info().Str("file", path).Msg("Processing file")

	entries, err := p.reader.Read(path)
	if err != nil {
		out.Err = err
		res.Warnings = append(res.Warnings, fmt.Sprintf("failed to parse %s", path))
		log.Warn().Err(err).Str("file", path).Msg("Failed to parse file, skipping")
		return out
	}

	fr := eas.Fold(entries, c)
	out.Entries = fr.Entries
	out.Events = fr.Events

	out.Excluded = agg.Merge(fr)
	for _, week := range out.Excluded {
		month, _ := eas.MonthKey(week)
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%s contains data from a different month (%s), week %s skipped", path, month, week))
		log.Warn().
			Str("file", path).
			Str("week", week).
			Str("month", month).
			Str("report_month", agg.MonthKey()).
			Msg("Week outside report month, skipping")
	}

	log.Debug().
		Str("file", path).
		Int("entries", out.Entries).
		Int("events", out.Events).
		Msg("File classified")
	return out
}

func (p *Processor) persist(log *logging.SecureLogger, dir string, format artifact.Format, res *Result) {
	wr, err := artifact.Write(dir, format, res.Report)
	if wr != nil {
		res.OutputPath = wr.Path
		res.Created = wr.Created
		res.LoadFallback = wr.LoadFallback

		switch {
		case wr.LoadFallback != nil:
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not load %s, created a new report", wr.Path))
			log.Warn().Err(wr.LoadFallback).Str("path", wr.Path).Msg("Error loading existing report, creating new file")
		case wr.Created:
			log.Info().Str("path", wr.Path).Msg("Creating new file")
		default:
			log.Info().Str("path", wr.Path).Msg("Updating existing file")
		}
	}

	if err != nil {
		res.SaveErr = err
		log.Error().Err(err).Str("path", res.OutputPath).Msg("Error saving report")
		return
	}
	log.Info().Str("path", res.OutputPath).Msg("Data successfully saved")
}
