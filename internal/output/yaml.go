package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/qvm/internal/status"
)

// YAMLFormatter formats machine listings as YAML.
type YAMLFormatter struct{}

// FormatList formats a list of machines as a YAML stream (multiple
// documents separated by ---).
func (f *YAMLFormatter) FormatList(machines []status.Info) (string, error) {
	if len(machines) == 0 {
		return "", nil
	}

	var buf bytes.Buffer

	for i, m := range machines {
		data, err := yaml.Marshal(m)
		if err != nil {
			return "", fmt.Errorf("failed to marshal machine %s to YAML: %w", m.Name, err)
		}

		if i > 0 {
			buf.WriteString("---\n")
		}

		buf.Write(data)
	}

	return buf.String(), nil
}
