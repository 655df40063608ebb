package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

// formatStats renders scheduler stats in the requested format.
func formatStats(s stats, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatStatsJSON(s)
	case formatTable:
		return formatStatsTable(s), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStatsTable(s stats) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Slots Total:\t%d\n", s.SlotsTotal)
	fmt.Fprintf(w, "Slots In Use:\t%d\n", s.SlotsInUse)
	fmt.Fprintf(w, "Live Handlers:\t%d\n", s.LiveHandlers)
	fmt.Fprintf(w, "Sessions Created:\t%d\n", s.SessionsCreated)
	fmt.Fprintf(w, "Capacity Rejected:\t%d\n", s.CapacityRejected)
	fmt.Fprintf(w, "Sessions Reaped:\t%d\n", s.SessionsReaped)

	// tabwriter only reports flush errors from its underlying Writer;
	// strings.Builder never fails to write.
	_ = w.Flush()

	return buf.String()
}

func formatStatsJSON(s stats) (string, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal stats: %w", err)
	}
	return string(b) + "\n", nil
}
