package display

// Color identifies a terminal color independent of the rendering backend.
type Color int

const (
	ColorReset Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
	ColorBrightCyan
	ColorBrightWhite
)

// ColorTheme maps message roles to colors.
type ColorTheme struct {
	Primary   Color
	Success   Color
	Warning   Color
	Error     Color
	Info      Color
	Muted     Color
	Highlight Color
}

// DarkColorTheme suits dark terminal backgrounds.
func DarkColorTheme() ColorTheme {
	return ColorTheme{
		Primary:   ColorBrightBlue,
		Success:   ColorBrightGreen,
		Warning:   ColorBrightYellow,
		Error:     ColorBrightRed,
		Info:      ColorCyan,
		Muted:     ColorWhite,
		Highlight: ColorBrightCyan,
	}
}

// LightColorTheme suits light terminal backgrounds.
func LightColorTheme() ColorTheme {
	return ColorTheme{
		Primary:   ColorBlue,
		Success:   ColorGreen,
		Warning:   ColorYellow,
		Error:     ColorRed,
		Info:      ColorCyan,
		Muted:     ColorMagenta,
		Highlight: ColorBlue,
	}
}

// PlainTheme renders everything uncolored.
func PlainTheme() ColorTheme {
	return ColorTheme{}
}

// ThemeByName resolves a configured theme name.
func ThemeByName(name string) ColorTheme {
	switch name {
	case "light":
		return LightColorTheme()
	case "plain", "none":
		return PlainTheme()
	default:
		return DarkColorTheme()
	}
}

// OutputFormat selects how list-style command output is rendered.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// SpinnerStyle defines a spinner's animation frames.
type SpinnerStyle struct {
	Frames []string
	Delay  int // milliseconds between frames
}

// SpinnerStyles holds the built-in spinner animations.
var SpinnerStyles = map[string]SpinnerStyle{
	"dots": {
		Frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		Delay:  80,
	},
	"line": {
		Frames: []string{"-", "\\", "|", "/"},
		Delay:  100,
	},
}
