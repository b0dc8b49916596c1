package commands

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/paircast/paircast-go/pkg/eventlog"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents      int
	EventsBySource   map[eventlog.Source]int
	EventsByCategory map[eventlog.Category]int
	Sessions         map[string]*SessionStats
	Errors           int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for one scan or pairing session.
type SessionStats struct {
	Source     eventlog.Source
	Target     string
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	Exchanges  int
	Discovered int
	LastState  string
}

// RunStats analyzes the trace file and prints statistics to w.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

// Collect reads the trace file into Stats.
func Collect(path string) (*Stats, error) {
	reader, err := eventlog.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsBySource:   make(map[eventlog.Source]int),
		EventsByCategory: make(map[eventlog.Category]int),
		Sessions:         make(map[string]*SessionStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsBySource[event.Source]++
		stats.EventsByCategory[event.Category]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}
		if event.Error != nil || (event.Exchange != nil && event.Exchange.Err != "") {
			stats.Errors++
		}

		if event.SessionID == "" {
			continue
		}
		sess, ok := stats.Sessions[event.SessionID]
		if !ok {
			sess = &SessionStats{Source: event.Source, FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
			stats.Sessions[event.SessionID] = sess
		}
		sess.Events++
		if event.Timestamp.After(sess.LastSeen) {
			sess.LastSeen = event.Timestamp
		}
		// Vendor exchanges carry the pairing session ID; the session
		// source is the pairing orchestrator.
		if event.Source == eventlog.SourcePairing {
			sess.Source = eventlog.SourcePairing
		}
		if sess.Target == "" && event.Source != eventlog.SourceScan {
			sess.Target = event.Target
		}
		switch {
		case event.StateChange != nil:
			sess.LastState = event.StateChange.NewState
		case event.Exchange != nil:
			sess.Exchanges++
		case event.Discovery != nil:
			sess.Discovered++
		}
	}
	return stats, nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== paircast Event Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Source:")
	for _, src := range []eventlog.Source{eventlog.SourceScan, eventlog.SourcePairing, eventlog.SourceVendor} {
		if count := stats.EventsBySource[src]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", src.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []eventlog.Category{eventlog.CategoryState, eventlog.CategoryDiscovery, eventlog.CategoryExchange, eventlog.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		ids := make([]string, 0, len(stats.Sessions))
		for id := range stats.Sessions {
			ids = append(ids, id)
		}
		slices.SortFunc(ids, func(a, b string) int {
			return stats.Sessions[a].FirstSeen.Compare(stats.Sessions[b].FirstSeen)
		})

		fmt.Fprintln(w)
		for _, id := range ids {
			s := stats.Sessions[id]
			duration := s.LastSeen.Sub(s.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %s %d events, duration %s, last state %s\n",
				shortenID(id), s.Source, s.Events, duration, orDash(s.LastState))
			if s.Target != "" {
				fmt.Fprintf(w, "             Target: %s\n", s.Target)
			}
			if s.Exchanges > 0 {
				fmt.Fprintf(w, "             Exchanges: %d\n", s.Exchanges)
			}
			if s.Discovered > 0 {
				fmt.Fprintf(w, "             Discovered: %d\n", s.Discovered)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
