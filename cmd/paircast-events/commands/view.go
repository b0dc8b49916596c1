// Package commands implements the paircast-events CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/paircast/paircast-go/pkg/eventlog"
)

// RunView writes every event matching filter to w.
func RunView(path string, filter eventlog.Filter, w io.Writer) error {
	reader, err := eventlog.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// formatEvent writes a human-readable representation of event.
func formatEvent(w io.Writer, event eventlog.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [%s] %-7s %s", ts, shortenID(event.SessionID), event.Source, event.Category)
	if event.Target != "" {
		fmt.Fprintf(w, " %s", event.Target)
	}
	if event.Brand != "" {
		fmt.Fprintf(w, " (%s)", event.Brand)
	}
	fmt.Fprintln(w)

	switch {
	case event.StateChange != nil:
		formatStateChange(w, event.StateChange)
	case event.Discovery != nil:
		formatDiscovery(w, event.Discovery)
	case event.Exchange != nil:
		formatExchange(w, event.Exchange)
	case event.Error != nil:
		fmt.Fprintf(w, "  Error: %s\n", event.Error.Message)
		if event.Error.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", event.Error.Context)
		}
	}

	fmt.Fprintln(w)
}

// shortenID returns the first 8 characters of a session ID.
func shortenID(id string) string {
	if id == "" {
		return "--------"
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatStateChange(w io.Writer, sc *eventlog.StateChangeEvent) {
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatDiscovery(w io.Writer, d *eventlog.DiscoveryEvent) {
	if d.Model != "" {
		fmt.Fprintf(w, "  Model: %s\n", d.Model)
	}
	if d.Name != "" {
		fmt.Fprintf(w, "  Name: %s\n", d.Name)
	}
	fmt.Fprintf(w, "  Confidence: %s\n", d.Confidence)
}

func formatExchange(w io.Writer, ex *eventlog.ExchangeEvent) {
	fmt.Fprintf(w, "  %s %s", ex.Method, ex.Path)
	if ex.Status != 0 {
		fmt.Fprintf(w, " -> %d", ex.Status)
	}
	fmt.Fprintf(w, " (%s)\n", formatDuration(ex.Duration))
	if ex.Err != "" {
		fmt.Fprintf(w, "  Error: %s\n", ex.Err)
	}
}

// formatDuration picks a readable unit.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dus", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	default:
		return d.Round(time.Millisecond).String()
	}
}

// ParseSourceFlag parses a source name.
func ParseSourceFlag(s string) (eventlog.Source, error) {
	switch strings.ToLower(s) {
	case "scan":
		return eventlog.SourceScan, nil
	case "pairing":
		return eventlog.SourcePairing, nil
	case "vendor":
		return eventlog.SourceVendor, nil
	default:
		return 0, fmt.Errorf("invalid source: %s (valid: scan, pairing, vendor)", s)
	}
}

// ParseCategoryFlag parses a category name.
func ParseCategoryFlag(s string) (eventlog.Category, error) {
	switch strings.ToLower(s) {
	case "state":
		return eventlog.CategoryState, nil
	case "discovery":
		return eventlog.CategoryDiscovery, nil
	case "exchange":
		return eventlog.CategoryExchange, nil
	case "error":
		return eventlog.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (valid: state, discovery, exchange, error)", s)
	}
}
