package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// ColorSystem applies theme colors to text, degrading to plain text when
// the terminal does not support color.
type ColorSystem interface {
	Colorize(text string, clr Color) string
	Sprintf(clr Color, format string, args ...interface{}) string
	IsColorSupported() bool
	Theme() ColorTheme
}

type colorSystem struct {
	theme     ColorTheme
	supported bool
	profile   termenv.Profile
	colorMap  map[Color]*color.Color
}

// NewColorSystem builds a color system for the given theme, detecting
// terminal capabilities once at construction.
func NewColorSystem(theme ColorTheme, enabled bool) ColorSystem {
	cs := &colorSystem{
		theme:     theme,
		supported: enabled && detectColorSupport(),
		profile:   termenv.ColorProfile(),
	}
	cs.colorMap = map[Color]*color.Color{
		ColorRed:          color.New(color.FgRed),
		ColorGreen:        color.New(color.FgGreen),
		ColorYellow:       color.New(color.FgYellow),
		ColorBlue:         color.New(color.FgBlue),
		ColorMagenta:      color.New(color.FgMagenta),
		ColorCyan:         color.New(color.FgCyan),
		ColorWhite:        color.New(color.FgWhite),
		ColorBrightRed:    color.New(color.FgHiRed),
		ColorBrightGreen:  color.New(color.FgHiGreen),
		ColorBrightYellow: color.New(color.FgHiYellow),
		ColorBrightBlue:   color.New(color.FgHiBlue),
		ColorBrightCyan:   color.New(color.FgHiCyan),
		ColorBrightWhite:  color.New(color.FgHiWhite),
	}
	return cs
}

func detectColorSupport() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func (cs *colorSystem) Colorize(text string, clr Color) string {
	if !cs.supported || clr == ColorReset {
		return text
	}
	if colored, ok := cs.colorMap[clr]; ok {
		return colored.Sprint(text)
	}
	return text
}

func (cs *colorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

func (cs *colorSystem) IsColorSupported() bool {
	return cs.supported
}

func (cs *colorSystem) Theme() ColorTheme {
	return cs.theme
}
