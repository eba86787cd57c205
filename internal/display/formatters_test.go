package display

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMarshal_JSON(t *testing.T) {
	data, err := Marshal(FormatJSON, map[string]int{"examined": 10, "deleted": 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("JSON output should end with a newline")
	}

	var decoded map[string]int
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["examined"] != 10 {
		t.Errorf("round trip lost data: %v", decoded)
	}
}

func TestMarshal_YAML(t *testing.T) {
	data, err := Marshal(FormatYAML, map[string]string{"pipeline": "residents"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "pipeline: residents") {
		t.Errorf("unexpected YAML output: %q", data)
	}
}

func TestMarshal_RejectsTable(t *testing.T) {
	if _, err := Marshal(FormatTable, struct{}{}); err == nil {
		t.Fatal("table format should be rejected by Marshal")
	} else if !strings.Contains(err.Error(), "unsupported output format") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"json", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
		{"JSON", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseOutputFormat(%q) expected an error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseOutputFormat(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
