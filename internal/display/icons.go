package display

import (
	"os"

	"github.com/mattn/go-isatty"
)

// Icon is a status marker with a Unicode glyph and an ASCII fallback.
type Icon struct {
	Unicode string
	ASCII   string
	Color   Color
}

// IconSystem renders icons, falling back to ASCII on terminals without
// Unicode support.
type IconSystem interface {
	Icon(name string) Icon
	Render(name string) string
	RenderColored(name string, colors ColorSystem) string
	IsUnicodeSupported() bool
}

type iconSystem struct {
	unicode bool
	icons   map[string]Icon
}

// NewIconSystem builds an icon system, detecting Unicode support once.
func NewIconSystem(enabled bool) IconSystem {
	return &iconSystem{
		unicode: enabled && detectUnicodeSupport(),
		icons: map[string]Icon{
			"success":   {Unicode: "✅", ASCII: "[OK]", Color: ColorGreen},
			"error":     {Unicode: "❌", ASCII: "[ERR]", Color: ColorRed},
			"warning":   {Unicode: "⚠️", ASCII: "[WARN]", Color: ColorYellow},
			"info":      {Unicode: "ℹ️", ASCII: "[INFO]", Color: ColorBlue},
			"backup":    {Unicode: "📦", ASCII: "[BKP]", Color: ColorCyan},
			"restore":   {Unicode: "♻️", ASCII: "[RST]", Color: ColorCyan},
			"migrate":   {Unicode: "🚚", ASCII: "[MIG]", Color: ColorBlue},
			"verify":    {Unicode: "🔍", ASCII: "[CHK]", Color: ColorMagenta},
			"database":  {Unicode: "🗄️", ASCII: "[DB]", Color: ColorBlue},
			"table":     {Unicode: "📋", ASCII: "[T]", Color: ColorBlue},
			"encrypted": {Unicode: "🔒", ASCII: "[ENC]", Color: ColorYellow},
			"schedule":  {Unicode: "⏰", ASCII: "[SCH]", Color: ColorCyan},
			"retention": {Unicode: "🧹", ASCII: "[EXP]", Color: ColorYellow},
		},
	}
}

func detectUnicodeSupport() bool {
	if os.Getenv("FORCE_UNICODE") != "" {
		return true
	}
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	if os.Getenv("LANG") == "C" || os.Getenv("LC_ALL") == "C" {
		return false
	}
	term := os.Getenv("TERM")
	if term == "dumb" || term == "vt100" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func (is *iconSystem) Icon(name string) Icon {
	if icon, ok := is.icons[name]; ok {
		return icon
	}
	return Icon{Unicode: "•", ASCII: "*", Color: ColorWhite}
}

func (is *iconSystem) Render(name string) string {
	icon := is.Icon(name)
	if is.unicode {
		return icon.Unicode
	}
	return icon.ASCII
}

func (is *iconSystem) RenderColored(name string, colors ColorSystem) string {
	icon := is.Icon(name)
	rendered := icon.ASCII
	if is.unicode {
		rendered = icon.Unicode
	}
	if colors == nil {
		return rendered
	}
	return colors.Colorize(rendered, icon.Color)
}

func (is *iconSystem) IsUnicodeSupported() bool {
	return is.unicode
}
