package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/qvm/internal/status"
)

// JSONFormatter formats machine listings as a JSON array.
type JSONFormatter struct{}

// FormatList formats a list of machines as JSON.
func (f *JSONFormatter) FormatList(machines []status.Info) (string, error) {
	if len(machines) == 0 {
		return "[]\n", nil
	}

	data, err := json.MarshalIndent(machines, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal machines to JSON: %w", err)
	}

	return string(data) + "\n", nil
}
