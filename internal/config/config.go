package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the instrument defaults file shipped with
// the repository.
const DefaultConfigPath = "config/holofab.defaults.json"

// Config is the root configuration of the holofab service. Calibration
// fields use the parameter names of the calibration model so that the same
// JSON keys appear in the config file, the settings store and the HTTP API.
// Nil fields fall back to the defaults returned by the Get* accessors.
type Config struct {
	// Instrument calibration
	Wavelength    *float64 `json:"wavelength,omitempty"`    // vacuum wavelength [um]
	NMedium       *float64 `json:"n_m,omitempty"`           // refractive index of medium
	Magnification *float64 `json:"magnification,omitempty"` // objective magnification
	FocalLength   *float64 `json:"focallength,omitempty"`   // [um]
	CameraPitch   *float64 `json:"camerapitch,omitempty"`   // [um/pixel]
	SLMPitch      *float64 `json:"slmpitch,omitempty"`      // [um/phixel]
	Scale         *float64 `json:"scale,omitempty"`
	Splay         *float64 `json:"splay,omitempty"`

	// SLM plane
	Xs   *float64 `json:"xs,omitempty"`
	Ys   *float64 `json:"ys,omitempty"`
	Phis *float64 `json:"phis,omitempty"` // SLM tilt [degrees]

	// Camera plane
	Xc     *float64 `json:"xc,omitempty"`
	Yc     *float64 `json:"yc,omitempty"`
	Zc     *float64 `json:"zc,omitempty"`
	Thetac *float64 `json:"thetac,omitempty"` // camera orientation [degrees]

	// Hologram shape
	SLMHeight *int `json:"slm_height,omitempty"`
	SLMWidth  *int `json:"slm_width,omitempty"`

	// Engine
	ApertureCompensation *bool `json:"aperture_compensation,omitempty"`

	// Service
	HTTPListen *string `json:"http_listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`
	ExportDir  *string `json:"export_dir,omitempty"`
	Debug      *bool   `json:"debug,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The path must carry a .json
// extension and the file must be under 1MB. Fields omitted from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
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

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that would make the calibration model
// singular or the hologram empty.
func (c *Config) Validate() error {
	positive := []struct {
		name string
		v    *float64
	}{
		{"wavelength", c.Wavelength},
		{"n_m", c.NMedium},
		{"magnification", c.Magnification},
		{"focallength", c.FocalLength},
		{"camerapitch", c.CameraPitch},
		{"slmpitch", c.SLMPitch},
		{"scale", c.Scale},
	}
	for _, p := range positive {
		if p.v != nil && *p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", p.name, *p.v)
		}
	}

	if c.SLMHeight != nil && *c.SLMHeight <= 0 {
		return fmt.Errorf("slm_height must be positive, got %d", *c.SLMHeight)
	}
	if c.SLMWidth != nil && *c.SLMWidth <= 0 {
		return fmt.Errorf("slm_width must be positive, got %d", *c.SLMWidth)
	}
	return nil
}

// CalibrationSettings returns the calibration values that are set in the
// file as a flat name→value mapping. Unset values are left to the
// calibration model's own defaults.
func (c *Config) CalibrationSettings() map[string]float64 {
	out := make(map[string]float64)
	add := func(name string, v *float64) {
		if v != nil {
			out[name] = *v
		}
	}
	add("wavelength", c.Wavelength)
	add("n_m", c.NMedium)
	add("magnification", c.Magnification)
	add("focallength", c.FocalLength)
	add("camerapitch", c.CameraPitch)
	add("slmpitch", c.SLMPitch)
	add("scale", c.Scale)
	add("splay", c.Splay)
	add("xs", c.Xs)
	add("ys", c.Ys)
	add("phis", c.Phis)
	add("xc", c.Xc)
	add("yc", c.Yc)
	add("zc", c.Zc)
	add("thetac", c.Thetac)
	return out
}

// GetSLMShape returns the hologram shape as (height, width).
func (c *Config) GetSLMShape() (int, int) {
	h, w := 512, 512
	if c.SLMHeight != nil {
		h = *c.SLMHeight
	}
	if c.SLMWidth != nil {
		w = *c.SLMWidth
	}
	return h, w
}

// GetApertureCompensation returns the aperture_compensation value or the default.
func (c *Config) GetApertureCompensation() bool {
	if c.ApertureCompensation == nil {
		return false
	}
	return *c.ApertureCompensation
}

// GetHTTPListen returns the http_listen value or the default.
func (c *Config) GetHTTPListen() string {
	if c.HTTPListen == nil || *c.HTTPListen == "" {
		return ":8080"
	}
	return *c.HTTPListen
}

// GetGRPCListen returns the grpc_listen value or the default.
func (c *Config) GetGRPCListen() string {
	if c.GRPCListen == nil || *c.GRPCListen == "" {
		return "localhost:50051"
	}
	return *c.GRPCListen
}

// GetDBPath returns the db_path value or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "holofab.db"
	}
	return *c.DBPath
}

// GetExportDir returns the export_dir value or the default.
func (c *Config) GetExportDir() string {
	if c.ExportDir == nil || *c.ExportDir == "" {
		return "data"
	}
	return *c.ExportDir
}

// GetDebug returns the debug value or the default.
func (c *Config) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}
