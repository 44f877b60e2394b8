package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Defaults applied by WithDefaults.
const (
	DefaultLabelName  = "Duplicates"
	DefaultQuery      = "in:all"
	DefaultSheetRange = "Sheet1!A1"
	MaxPageSize       = 500
)

// Config is the on-disk configuration. Only spreadsheet_id is required.
type Config struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	SheetRange    string `json:"sheet_range,omitempty"`
	LabelName     string `json:"label_name,omitempty"`
	Query         string `json:"query,omitempty"`
	PageSize      int    `json:"page_size,omitempty"`
	Testing       bool   `json:"testing,omitempty"`
}

// ConfigError reports a configuration that cannot drive a run.
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "config"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load reads the JSON config at path. A missing file is not an error: Load
// logs a diagnostic and returns nil so the caller can decide what to do.
func Load(path string, logger *slog.Logger) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path supplied by the operator
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if logger != nil {
				logger.Warn("configuration file not found", "path", path)
			}
			return nil, nil
		}
		return nil, &ConfigError{Path: path, Reason: "read", Err: err}
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Path: path, Reason: "decode", Err: err}
	}
	return &cfg, nil
}

// Validate checks for the keys a run cannot do without.
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigError{Reason: "configuration not loaded"}
	}
	if strings.TrimSpace(c.SpreadsheetID) == "" {
		return &ConfigError{Reason: "spreadsheet_id is required"}
	}
	return nil
}

// WithDefaults returns a copy with every optional key filled in.
func (c Config) WithDefaults() Config {
	if c.SheetRange == "" {
		c.SheetRange = DefaultSheetRange
	}
	if c.LabelName == "" {
		c.LabelName = DefaultLabelName
	}
	if c.Query == "" {
		c.Query = DefaultQuery
	}
	if c.PageSize <= 0 || c.PageSize > MaxPageSize {
		c.PageSize = MaxPageSize
	}
	return c
}

// LoadEnv populates the process environment from a .env file if one exists.
func LoadEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// GetEnv returns the value of key, or defaultValue when it is unset.
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// String renders the config for logs.
func (c Config) String() string {
	return fmt.Sprintf("spreadsheet=%s range=%s label=%s query=%q page_size=%d testing=%t",
		c.SpreadsheetID, c.SheetRange, c.LabelName, c.Query, c.PageSize, c.Testing)
}
