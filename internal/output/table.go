package output

import (
	"bytes"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"

	"github.com/jbweber/qvm/internal/status"
)

// TableFormatter formats machine listings as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatList formats a list of machines as a table.
func (f *TableFormatter) FormatList(machines []status.Info) (string, error) {
	if len(machines) == 0 {
		return "No machines found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tSTATE\tPID\tSMP\tMEMORY\tDISCS\tNICS\tAGE")
	}

	for _, m := range machines {
		pid := "-"
		if m.PID > 0 {
			pid = strconv.Itoa(m.PID)
		}

		smp, memory := "-", "-"
		if m.State != status.StateInvalid {
			smp = strconv.Itoa(m.SMP)
			memory = units.BytesSize(float64(m.MemMiB) * units.MiB)
		}

		age := "-"
		if !m.Created.IsZero() {
			age = formatAge(time.Since(m.Created))
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			m.Name, m.State, pid, smp, memory, len(m.Discs), len(m.MACs), age)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	years := days / 365
	if years > 0 {
		return fmt.Sprintf("%dy", years)
	}

	return fmt.Sprintf("%dd", days)
}
