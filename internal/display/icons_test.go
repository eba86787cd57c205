package display

import "testing"

func TestIconSystem_ASCIIFallback(t *testing.T) {
	icons := NewIconSystem(false)

	if icons.IsUnicodeSupported() {
		t.Error("disabled icon system should not report unicode support")
	}

	tests := []struct {
		name string
		want string
	}{
		{"success", "[OK]"},
		{"error", "[ERR]"},
		{"warning", "[WARN]"},
		{"backup", "[BKP]"},
		{"restore", "[RST]"},
		{"retention", "[EXP]"},
	}
	for _, tt := range tests {
		if got := icons.Render(tt.name); got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestIconSystem_UnicodeWhenForced(t *testing.T) {
	t.Setenv("FORCE_UNICODE", "1")
	t.Setenv("NO_UNICODE", "")

	icons := NewIconSystem(true)
	if !icons.IsUnicodeSupported() {
		t.Fatal("FORCE_UNICODE should enable unicode icons")
	}
	if got := icons.Render("database"); got != "🗄️" {
		t.Errorf("Render(database) = %q, want the unicode glyph", got)
	}
}

func TestIconSystem_NoUnicodeWins(t *testing.T) {
	t.Setenv("FORCE_UNICODE", "")
	t.Setenv("NO_UNICODE", "1")

	icons := NewIconSystem(true)
	if icons.IsUnicodeSupported() {
		t.Error("NO_UNICODE should force the ASCII fallback")
	}
}

func TestIconSystem_UnknownIcon(t *testing.T) {
	icons := NewIconSystem(false)

	if got := icons.Render("teleport"); got != "*" {
		t.Errorf("unknown icon should fall back to the generic marker, got %q", got)
	}
	icon := icons.Icon("teleport")
	if icon.Unicode != "•" || icon.Color != ColorWhite {
		t.Errorf("unknown icon defaults wrong: %+v", icon)
	}
}

func TestIconSystem_RenderColoredWithoutColors(t *testing.T) {
	icons := NewIconSystem(false)

	if got := icons.RenderColored("error", nil); got != "[ERR]" {
		t.Errorf("RenderColored without colors = %q, want plain ASCII", got)
	}

	plain := NewColorSystem(PlainTheme(), false)
	if got := icons.RenderColored("error", plain); got != "[ERR]" {
		t.Errorf("RenderColored with disabled colors = %q, want plain ASCII", got)
	}
}
