// Package report renders finished runs for people and for machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dgnsrekt/activeprobe/internal/telemetry"
)

const rule = "-----------------------------------------------------"

// WriteText prints one run in the classic probe results layout.
func WriteText(w io.Writer, rep telemetry.Report) error {
	var b strings.Builder

	b.WriteString("\nPROBE RESULTS\n")
	b.WriteString(rule + "\n")
	if rep.Meta.Name != "" {
		fmt.Fprintf(&b, "Test:             %s\n", rep.Meta.Name)
	}
	fmt.Fprintf(&b, "Run:              %s\n", rep.ID)
	fmt.Fprintf(&b, "Date:             %s\n", rep.StartedAt.Format("2006-01-02 15:04:05 -0700"))
	fmt.Fprintf(&b, "Technology:       %s\n", rep.Meta.Technology)
	if rep.Meta.VideoURL != "" {
		fmt.Fprintf(&b, "Video:            %s\n", rep.Meta.VideoURL)
	}
	b.WriteString("\n")

	m := rep.Metrics
	if m == nil {
		b.WriteString("Run did not finish; no metrics were computed.\n")
		if rep.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", rep.Error)
		}
		_, err := io.WriteString(w, b.String())
		return err
	}

	fmt.Fprintf(&b, "Player load time: %s ms\n", optional(m.PlayerLoadTime))
	fmt.Fprintf(&b, "Startup delay:    %s ms\n", optional(m.StartupDelay))
	fmt.Fprintf(&b, "Video duration:   %d seconds\n", m.VideoDuration)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Stalling duration (avg):   %s\n", num(m.AverageStallingDuration))
	fmt.Fprintf(&b, "Stalling duration (total): %s\n", num(m.TotalStallingDuration))
	fmt.Fprintf(&b, "Stalling events (%d):\n", m.StallingCount())
	for _, ep := range m.StallingEpisodes {
		fmt.Fprintf(&b, " - %s, %s\n", num(ep.Start), num(ep.Duration))
	}
	b.WriteString("\n")
	b.WriteString("Quality switches:\n")
	for _, q := range m.QualitySwitches {
		fmt.Fprintf(&b, " - %s, %v\n", num(q.Timestamp), q.Level)
	}
	if rep.Error != "" {
		fmt.Fprintf(&b, "\nWarning: %s\n", rep.Error)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes all reports as one indented JSON document.
func WriteJSON(w io.Writer, reps []telemetry.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Runs []telemetry.Report `json:"runs"`
	}{Runs: reps})
}

func optional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return num(*v)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
