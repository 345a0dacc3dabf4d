// Package config loads the pipeline's tuning parameters (spec.md §6) from a
// JSON file, following the teacher's all-fields-pointers, partial-override
// convention so a config file that sets only one value leaves the rest at
// their documented defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/security"
)

// DefaultConfigPath is the conventional location for the tuning file, used by
// cmd/watchdog and cmd/analysis when no -config flag overrides it.
const DefaultConfigPath = "config/tuning.json"

// TuningConfig holds every recognized configuration option (§6). Pointer
// fields distinguish "not set" from "set to the zero value" so a partial JSON
// override is safe.
type TuningConfig struct {
	Cutoff            *float64 `json:"cutoff,omitempty"`
	AvgWindowSeconds  *float64 `json:"avg_window,omitempty"`
	StdWindowSeconds  *float64 `json:"std_window,omitempty"`
	FREventProximity  *float64 `json:"fr_event_proximity,omitempty"`
	MinCameras        *float64 `json:"min_cameras,omitempty"`
	MinObservers      *int     `json:"min_observers,omitempty"`
	RadiusKM          *float64 `json:"radius_km,omitempty"`
	FPS               *float64 `json:"fps,omitempty"`
	Path              *string  `json:"path,omitempty"`
	StationCatalogURL *string  `json:"station_catalog_url,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with every field nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file rooted under dir.
// allowedDir anchors the path-traversal check (internal/security); pass the
// directory the config file is expected to live under.
func LoadTuningConfig(path, allowedDir string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	if allowedDir != "" {
		if err := security.ValidatePathWithinDirectory(cleanPath, allowedDir); err != nil {
			return nil, fmt.Errorf("config path rejected: %w", err)
		}
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate rejects out-of-range values on whichever fields are set.
func (c *TuningConfig) Validate() error {
	if c.Cutoff != nil && *c.Cutoff <= 0 {
		return fmt.Errorf("cutoff must be positive, got %f", *c.Cutoff)
	}
	if c.AvgWindowSeconds != nil && *c.AvgWindowSeconds <= 0 {
		return fmt.Errorf("avg_window must be positive, got %f", *c.AvgWindowSeconds)
	}
	if c.StdWindowSeconds != nil && *c.StdWindowSeconds <= 0 {
		return fmt.Errorf("std_window must be positive, got %f", *c.StdWindowSeconds)
	}
	if c.FREventProximity != nil && *c.FREventProximity < 0 {
		return fmt.Errorf("fr_event_proximity must be non-negative, got %f", *c.FREventProximity)
	}
	if c.MinCameras != nil && (*c.MinCameras <= 0 || *c.MinCameras > 1) {
		return fmt.Errorf("min_cameras must be in (0, 1], got %f", *c.MinCameras)
	}
	if c.MinObservers != nil && *c.MinObservers < 1 {
		return fmt.Errorf("min_observers must be >= 1, got %d", *c.MinObservers)
	}
	if c.RadiusKM != nil && *c.RadiusKM <= 0 {
		return fmt.Errorf("radius_km must be positive, got %f", *c.RadiusKM)
	}
	if c.FPS != nil && *c.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %f", *c.FPS)
	}
	return nil
}

// GetCutoff returns the sigma multiplier for the detection trigger.
func (c *TuningConfig) GetCutoff() float64 {
	if c.Cutoff == nil {
		return 3
	}
	return *c.Cutoff
}

// GetAvgWindowSeconds returns the moving-mean window width in seconds.
func (c *TuningConfig) GetAvgWindowSeconds() float64 {
	if c.AvgWindowSeconds == nil {
		return 30
	}
	return *c.AvgWindowSeconds
}

// GetStdWindowSeconds returns the moving-std window width in seconds.
func (c *TuningConfig) GetStdWindowSeconds() float64 {
	if c.StdWindowSeconds == nil {
		return 30
	}
	return *c.StdWindowSeconds
}

// GetFREventProximity returns the max |Δt| in seconds to a sidecar event.
func (c *TuningConfig) GetFREventProximity() float64 {
	if c.FREventProximity == nil {
		return 10
	}
	return *c.FREventProximity
}

// GetMinCameras returns the fraction of a neighborhood that must be ingested
// before the scheduler considers it ready for dispatch.
func (c *TuningConfig) GetMinCameras() float64 {
	if c.MinCameras == nil {
		return 1.0 / 3.0
	}
	return *c.MinCameras
}

// GetMinObservers returns the distinct-station count required for a
// ConfirmedCluster.
func (c *TuningConfig) GetMinObservers() int {
	if c.MinObservers == nil {
		return 3
	}
	return *c.MinObservers
}

// GetRadiusKM returns the neighborhood radius in kilometers.
func (c *TuningConfig) GetRadiusKM() float64 {
	if c.RadiusKM == nil {
		return 1000
	}
	return *c.RadiusKM
}

// GetFPS returns the sampling rate in frames (half-frames) per second.
func (c *TuningConfig) GetFPS() float64 {
	if c.FPS == nil {
		return 25
	}
	return *c.FPS
}

// GetPath returns the upload root. There is no sane default: an unset Path
// is a configuration error the caller must check for explicitly.
func (c *TuningConfig) GetPath() string {
	if c.Path == nil {
		return ""
	}
	return *c.Path
}

// GetStationCatalogURL returns the station catalog endpoint. Like Path, there
// is no default; callers validate it is set before fetching.
func (c *TuningConfig) GetStationCatalogURL() string {
	if c.StationCatalogURL == nil {
		return ""
	}
	return *c.StationCatalogURL
}
