package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/pairing"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/playback"
)

// printJSON writes an indented JSON representation of v to w
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter creates a tabwriter configured for CLI output
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// formatAge formats the time since t in a human-friendly way
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	if d < time.Minute {
		return "Just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

func colorPairing(s pairing.State) string {
	switch s {
	case pairing.StatePaired:
		return color.GreenString(string(s))
	case pairing.StateUnpaired:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func colorSection(s playback.State) string {
	switch s {
	case playback.StatePlaying:
		return color.GreenString(string(s))
	case playback.StatePaused:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
