package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/artifact"
)

// CLIOptions holds command-line argument overrides
type CLIOptions struct {
	SampleFile     string   // -sample: sample log used for source discovery
	Sources        string   // -sources: comma-separated monitor sources
	OutputDir      string   // -output-dir: directory for EAS_<month> reports
	Format         string   // -format: xlsx or json
	Station        string   // -station: station ID from eas-stations.json
	StationsConfig string   // -stations-config: path to eas-stations.json
	ListStations   bool     // -list-stations: list available stations and exit
	Discover       bool     // -discover: print the sources found in -sample and exit
	History        string   // -history: print recorded runs for YYYY-MM and exit
	ShowHelp       bool     // -help: show usage
	ShowVersion    bool     // -version: show version
	Files          []string // positional arguments
}

func newFlagSet(opts *CLIOptions, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("eas-report", flag.ContinueOnError)
	fs.SetOutput(out)

	fs.StringVar(&opts.SampleFile, "sample", "", "Sample EAS log used to detect monitor sources")
	fs.StringVar(&opts.Sources, "sources", "", "Comma-separated monitor sources, in match order")
	fs.StringVar(&opts.OutputDir, "output-dir", "", "Directory for monthly reports (overrides EAS_OUTPUT_DIR)")
	fs.StringVar(&opts.Format, "format", "", "Report format: "+strings.Join(artifact.ValidFormats(), ", "))
	fs.StringVar(&opts.Station, "station", "", "Station ID from eas-stations.json")
	fs.StringVar(&opts.StationsConfig, "stations-config", "", "Path to eas-stations.json configuration file")
	fs.BoolVar(&opts.ListStations, "list-stations", false, "List stations from eas-stations.json and exit")
	fs.BoolVar(&opts.Discover, "discover", false, "Print the monitor sources found in -sample and exit")
	fs.StringVar(&opts.History, "history", "", "Print recorded runs for a month (YYYY-MM) and exit")
	fs.BoolVar(&opts.ShowHelp, "help", false, "Show usage information")
	fs.BoolVar(&opts.ShowVersion, "version", false, "Show version information")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(out, "EAS Report - monthly EAS compliance reports from ENDEC logs\n\n")
		_, _ = fmt.Fprintf(out, "Usage: eas-report [options] file.xml [file.xml ...]\n\n")
		_, _ = fmt.Fprintf(out, "Options:\n")
		fs.PrintDefaults()
		_, _ = fmt.Fprintf(out, "\nExamples:\n")
		_, _ = fmt.Fprintf(out, "  eas-report -sample week1.xml -discover\n")
		_, _ = fmt.Fprintf(out, "  eas-report -sources KRBE,KKBQ -output-dir ./reports week*.xml\n")
		_, _ = fmt.Fprintf(out, "  eas-report -station kxyz -format json logs/*.xml\n")
		_, _ = fmt.Fprintf(out, "  eas-report -history 2025-04\n")
		_, _ = fmt.Fprintf(out, "\nWith no -sources, every source detected in -sample is used.\n")
		_, _ = fmt.Fprintf(out, "Environment variables can be set in .env file or exported directly.\n")
		_, _ = fmt.Fprintf(out, "CLI arguments override environment variables.\n")
	}
	return fs
}

// ParseArgs parses args (without the program name) into CLIOptions
func ParseArgs(args []string) (*CLIOptions, error) {
	opts := &CLIOptions{}
	fs := newFlagSet(opts, os.Stderr)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.Files = fs.Args()
	return opts, nil
}

// ParseCLI parses os.Args and exits on malformed flags
func ParseCLI() *CLIOptions {
	opts, err := ParseArgs(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	return opts
}

// PrintUsage prints the command-line usage information
func PrintUsage() {
	newFlagSet(&CLIOptions{}, os.Stderr).Usage()
}

// Config holds all application configuration
type Config struct {
	// Report
	OutputDir      string
	MonitorSources []string // match order; empty means detect from SampleFile
	SampleFile     string
	ReportFormat   artifact.FormatName
	Files          []string

	// Multi-station configuration (loaded from eas-stations.json)
	StationID          string
	StationName        string
	StationsConfig     *StationsConfig // nil when no file was found
	StationsConfigPath string

	// Input
	MaxLogSizeMB int

	// Application
	LogLevel             string
	LogDir               string
	EnableDatabase       bool
	DatabasePath         string
	HistoryRetentionDays int

	// Telegram (optional)
	TelegramBotToken  string
	TelegramChannelID int64
}

// Load loads configuration from .env file and environment variables
// For CLI overrides, use LoadWithCLI instead
func Load() (*Config, error) {
	return LoadWithCLI(nil)
}

// LoadWithCLI loads configuration with CLI argument overrides
// Priority: CLI args > station config > .env file > OS environment variables > defaults
func LoadWithCLI(cli *CLIOptions) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// godotenv.Load() sets OS env vars from .env, which viper will then read
	_ = godotenv.Load()

	setDefaults(v)

	config := &Config{
		OutputDir:      v.GetString("EAS_OUTPUT_DIR"),
		MonitorSources: splitList(v.GetString("EAS_MONITOR_SOURCES")),
		SampleFile:     v.GetString("EAS_SAMPLE_FILE"),
		ReportFormat:   artifact.FormatName(strings.ToLower(v.GetString("EAS_REPORT_FORMAT"))),

		MaxLogSizeMB: v.GetInt("MAX_LOG_SIZE_MB"),

		LogLevel:             v.GetString("LOG_LEVEL"),
		LogDir:               v.GetString("LOG_DIR"),
		EnableDatabase:       v.GetBool("ENABLE_DATABASE"),
		DatabasePath:         v.GetString("DATABASE_PATH"),
		HistoryRetentionDays: v.GetInt("HISTORY_RETENTION_DAYS"),

		TelegramBotToken:  v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChannelID: v.GetInt64("TELEGRAM_CHANNEL_ID"),
	}

	if err := config.applyStationConfig(cli); err != nil {
		return nil, err
	}

	// Apply CLI overrides (highest priority)
	if cli != nil {
		config.applyCLI(cli)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) applyCLI(cli *CLIOptions) {
	if cli.SampleFile != "" {
		c.SampleFile = cli.SampleFile
	}
	if sources := splitList(cli.Sources); len(sources) > 0 {
		c.MonitorSources = sources
	}
	if cli.OutputDir != "" {
		c.OutputDir = cli.OutputDir
	}
	if cli.Format != "" {
		c.ReportFormat = artifact.FormatName(strings.ToLower(cli.Format))
	}
	c.Files = cli.Files
}

// applyStationConfig loads eas-stations.json and fills in the selected
// station's settings. A missing file is not an error unless a station was
// asked for.
func (c *Config) applyStationConfig(cli *CLIOptions) error {
	var configPath, stationID string
	if cli != nil {
		configPath = cli.StationsConfig
		stationID = cli.Station
	}

	stations, foundPath, err := LoadStationsConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load stations config: %w", err)
	}
	if stations == nil {
		if stationID != "" {
			return fmt.Errorf("station '%s' requested but no eas-stations.json was found. "+
				"Create one in ./eas-stations.json, ./configs/eas-stations.json, "+
				"or ~/.config/eas-report/eas-stations.json", stationID)
		}
		return nil
	}

	c.StationsConfig = stations
	c.StationsConfigPath = foundPath

	if stationID == "" {
		stationID = stations.DefaultStation
	}
	if stationID == "" {
		return nil
	}

	station, err := stations.GetStation(stationID)
	if err != nil {
		return fmt.Errorf("failed to get station '%s': %w", stationID, err)
	}

	c.StationID = stationID
	c.StationName = station.DisplayName(stationID)

	if len(station.MonitorSources) > 0 {
		c.MonitorSources = append([]string(nil), station.MonitorSources...)
	}
	if station.OutputDir != "" {
		c.OutputDir = station.OutputDir
	}
	if station.SampleFile != "" {
		c.SampleFile = station.SampleFile
	}
	if station.ReportFormat != "" {
		c.ReportFormat = artifact.FormatName(strings.ToLower(station.ReportFormat))
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("EAS_OUTPUT_DIR", "./reports")
	v.SetDefault("EAS_REPORT_FORMAT", string(artifact.FormatXLSX))
	v.SetDefault("MAX_LOG_SIZE_MB", 10)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DIR", "./logs")
	v.SetDefault("ENABLE_DATABASE", true)
	v.SetDefault("DATABASE_PATH", "./data/eas_runs.db")
	v.SetDefault("HISTORY_RETENTION_DAYS", 365)
}

var telegramTokenRegex = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("EAS_OUTPUT_DIR is required")
	}

	if _, err := artifact.ParseFormat(string(c.ReportFormat)); err != nil {
		return fmt.Errorf("EAS_REPORT_FORMAT: %w", err)
	}

	if c.MaxLogSizeMB < 1 || c.MaxLogSizeMB > 100 {
		return fmt.Errorf("MAX_LOG_SIZE_MB must be between 1 and 100")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	if c.EnableDatabase {
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when ENABLE_DATABASE=true")
		}
		if c.HistoryRetentionDays < 30 {
			return fmt.Errorf("HISTORY_RETENTION_DAYS must be at least 30")
		}
	}

	return c.validateTelegram()
}

// validateTelegram accepts either no Telegram settings or a complete pair
func (c *Config) validateTelegram() error {
	if c.TelegramBotToken == "" && c.TelegramChannelID == 0 {
		return nil
	}
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when TELEGRAM_CHANNEL_ID is set")
	}
	if c.TelegramChannelID == 0 {
		return fmt.Errorf("TELEGRAM_CHANNEL_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if !telegramTokenRegex.MatchString(c.TelegramBotToken) {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN has invalid format (expected: 'number:token')")
	}
	if c.TelegramChannelID > -100 {
		return fmt.Errorf("TELEGRAM_CHANNEL_ID must be a supergroup/channel ID (starts with -100)")
	}
	return nil
}

// HasTelegram returns true if run notices are configured
func (c *Config) HasTelegram() bool {
	return c.TelegramBotToken != "" && c.TelegramChannelID != 0
}

// splitList splits a comma-separated value, dropping blanks
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
