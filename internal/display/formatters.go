package display

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Marshal renders a value in the requested machine-readable format.
// FormatTable is not a marshalling format and is rejected here; callers
// render tables through the service instead.
func Marshal(format OutputFormat, value interface{}) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode as JSON: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		data, err := yaml.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode as YAML: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(name string) (OutputFormat, error) {
	switch OutputFormat(name) {
	case FormatTable, FormatJSON, FormatYAML:
		return OutputFormat(name), nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unsupported output format %q, use table, json, or yaml", name)
	}
}
