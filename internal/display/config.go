package display

import (
	"fmt"
	"io"
	"os"
)

// DisplayConfig controls how command output is rendered.
type DisplayConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme        string `mapstructure:"theme" yaml:"theme"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`
	UseIcons     bool   `mapstructure:"use_icons" yaml:"use_icons"`
	ShowProgress bool   `mapstructure:"show_progress" yaml:"show_progress"`
	Interactive  bool   `mapstructure:"interactive" yaml:"interactive"`
	Verbose      bool   `mapstructure:"verbose" yaml:"verbose"`
	Quiet        bool   `mapstructure:"quiet" yaml:"quiet"`
	MaxWidth     int    `mapstructure:"max_width" yaml:"max_width"`

	Writer io.Writer `mapstructure:"-" yaml:"-"`
}

// DefaultDisplayConfig returns the interactive terminal defaults.
func DefaultDisplayConfig() *DisplayConfig {
	return &DisplayConfig{
		ColorEnabled: true,
		Theme:        "dark",
		OutputFormat: string(FormatTable),
		UseIcons:     true,
		ShowProgress: true,
		Interactive:  true,
		MaxWidth:     120,
		Writer:       os.Stdout,
	}
}

// Validate checks the display settings.
func (dc *DisplayConfig) Validate() error {
	switch dc.Theme {
	case "", "dark", "light", "plain", "none":
	default:
		return fmt.Errorf("invalid theme %q, must be dark, light, or plain", dc.Theme)
	}
	switch OutputFormat(dc.OutputFormat) {
	case "", FormatTable, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("invalid output format %q, must be table, json, or yaml", dc.OutputFormat)
	}
	if dc.MaxWidth != 0 && (dc.MaxWidth < 40 || dc.MaxWidth > 300) {
		return fmt.Errorf("max width must be between 40 and 300, got %d", dc.MaxWidth)
	}
	if dc.Verbose && dc.Quiet {
		return fmt.Errorf("verbose and quiet modes are mutually exclusive")
	}
	return nil
}

// SetDefaults fills unset settings.
func (dc *DisplayConfig) SetDefaults() {
	if dc.Theme == "" {
		dc.Theme = "dark"
	}
	if dc.OutputFormat == "" {
		dc.OutputFormat = string(FormatTable)
	}
	if dc.MaxWidth == 0 {
		dc.MaxWidth = 120
	}
	if dc.Writer == nil {
		dc.Writer = os.Stdout
	}
}
