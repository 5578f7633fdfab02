package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/artifact"
)

// StationsFileName is the multi-station configuration file name
const StationsFileName = "eas-stations.json"

// Station represents configuration for a single broadcast station
type Station struct {
	Name           string   `json:"name"`            // Human-readable station name for notices
	MonitorSources []string `json:"monitor_sources"` // Sources in match order
	OutputDir      string   `json:"output_dir"`      // Directory for EAS_<month> reports
	SampleFile     string   `json:"sample_file"`     // Sample log for source discovery
	ReportFormat   string   `json:"report_format"`   // "xlsx" or "json" (default: EAS_REPORT_FORMAT)
}

// DisplayName returns the station name, falling back to its ID
func (s *Station) DisplayName(id string) string {
	if s.Name != "" {
		return s.Name
	}
	return id
}

// StationsConfig represents the multi-station configuration file
type StationsConfig struct {
	Version        string             `json:"version"`
	DefaultStation string             `json:"default_station"` // Used when -station is not given
	Stations       map[string]Station `json:"stations"`        // Keyed by station ID
}

// Validate checks the configuration for errors
func (c *StationsConfig) Validate() error {
	if len(c.Stations) == 0 {
		return fmt.Errorf("no stations defined in configuration")
	}

	if c.DefaultStation != "" {
		if _, exists := c.Stations[c.DefaultStation]; !exists {
			return fmt.Errorf("default_station '%s' does not exist in stations", c.DefaultStation)
		}
	}

	for _, id := range c.ListStations() {
		station := c.Stations[id]
		if len(station.MonitorSources) == 0 && station.SampleFile == "" {
			return fmt.Errorf("station '%s': monitor_sources or sample_file is required", id)
		}
		for _, src := range station.MonitorSources {
			if strings.TrimSpace(src) == "" {
				return fmt.Errorf("station '%s': monitor_sources contains an empty entry", id)
			}
		}
		if station.ReportFormat != "" {
			if _, err := artifact.ParseFormat(strings.ToLower(station.ReportFormat)); err != nil {
				return fmt.Errorf("station '%s': %w", id, err)
			}
		}
	}

	return nil
}

// GetStation returns a station by ID, falling back to default_station if id is empty
func (c *StationsConfig) GetStation(id string) (*Station, error) {
	if id == "" {
		if c.DefaultStation == "" {
			return nil, fmt.Errorf("no station ID specified and no default_station configured")
		}
		id = c.DefaultStation
	}

	station, exists := c.Stations[id]
	if !exists {
		return nil, fmt.Errorf("station '%s' not found (available: %v)", id, c.ListStations())
	}
	return &station, nil
}

// ListStations returns all station IDs in sorted order
func (c *StationsConfig) ListStations() []string {
	ids := make([]string, 0, len(c.Stations))
	for id := range c.Stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// stationSearchPaths lists where eas-stations.json is looked up, in priority order
func stationSearchPaths() []string {
	paths := []string{
		filepath.Join(".", StationsFileName),
		filepath.Join(".", "configs", StationsFileName),
	}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".config", "eas-report", StationsFileName))
	}
	return paths
}

// LoadStationsConfig loads and parses eas-stations.json.
// If configPath is empty, the standard locations are searched and
// nil, "", nil is returned when none exists.
func LoadStationsConfig(configPath string) (*StationsConfig, string, error) {
	searchPaths := stationSearchPaths()
	if configPath != "" {
		searchPaths = []string{configPath}
	}

	for _, path := range searchPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
		}

		var config StationsConfig
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, "", fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if err := config.Validate(); err != nil {
			return nil, "", fmt.Errorf("invalid config in %s: %w", path, err)
		}

		return &config, path, nil
	}

	if configPath != "" {
		return nil, "", fmt.Errorf("stations config not found: %s", configPath)
	}
	return nil, "", nil
}
