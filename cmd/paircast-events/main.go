// Command paircast-events views and analyzes paircast event trace files.
//
// Trace files are written by paircast when started with -events or with
// log.event_file set in the configuration.
//
// Usage:
//
//	paircast-events <command> [flags] <file.plog>
//
// Commands:
//
//	view     View events in human-readable format
//	export   Export events to JSONL or CSV
//	stats    Show per-session statistics
//
// Examples:
//
//	# View everything
//	paircast-events view events.plog
//
//	# Follow one pairing session, including its vendor requests
//	paircast-events view -session 9d41e7aa events.plog
//
//	# Export vendor exchanges for a spreadsheet
//	paircast-events export -format csv -category exchange events.plog
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/paircast/paircast-go/cmd/paircast-events/commands"
	"github.com/paircast/paircast-go/pkg/eventlog"
)

const usage = `paircast-events - paircast event trace viewer

Usage:
  paircast-events <command> [flags] <file.plog>

Commands:
  view     View events in human-readable format
  export   Export events to JSONL or CSV
  stats    Show per-session statistics

Use "paircast-events <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// filterFlags are the filter flags shared by view and export.
type filterFlags struct {
	session   *string
	source    *string
	category  *string
	target    *string
	timeStart *string
	timeEnd   *string
}

func addFilterFlags(fs *flag.FlagSet) filterFlags {
	return filterFlags{
		session:   fs.String("session", "", "Filter by session ID prefix"),
		source:    fs.String("source", "", "Filter by source (scan, pairing, vendor)"),
		category:  fs.String("category", "", "Filter by category (state, discovery, exchange, error)"),
		target:    fs.String("target", "", "Filter by display endpoint (host:port)"),
		timeStart: fs.String("time-start", "", "Filter events at or after this time (RFC3339)"),
		timeEnd:   fs.String("time-end", "", "Filter events before this time (RFC3339)"),
	}
}

func (f filterFlags) build() (eventlog.Filter, error) {
	filter := eventlog.Filter{SessionID: *f.session, Target: *f.target}
	if *f.source != "" {
		s, err := commands.ParseSourceFlag(*f.source)
		if err != nil {
			return filter, err
		}
		filter.Source = &s
	}
	if *f.category != "" {
		c, err := commands.ParseCategoryFlag(*f.category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	if *f.timeStart != "" {
		t, err := time.Parse(time.RFC3339, *f.timeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid -time-start: %w", err)
		}
		filter.TimeStart = &t
	}
	if *f.timeEnd != "" {
		t, err := time.Parse(time.RFC3339, *f.timeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid -time-end: %w", err)
		}
		filter.TimeEnd = &t
	}
	return filter, nil
}

func parseArgs(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `paircast-events view - View events in human-readable format

Usage:
  paircast-events view [flags] <file.plog>

Flags:
`)
		fs.PrintDefaults()
	}
	ff := addFilterFlags(fs)
	path := parseArgs(fs, args)

	filter, err := ff.build()
	if err != nil {
		fatal(err)
	}
	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fatal(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `paircast-events export - Export events to JSONL or CSV

Usage:
  paircast-events export [flags] <file.plog>

Flags:
`)
		fs.PrintDefaults()
	}
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	ff := addFilterFlags(fs)
	path := parseArgs(fs, args)

	filter, err := ff.build()
	if err != nil {
		fatal(err)
	}
	if err := commands.RunExport(path, filter, *format, *output); err != nil {
		fatal(err)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `paircast-events stats - Show per-session statistics

Usage:
  paircast-events stats <file.plog>

`)
	}
	path := parseArgs(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fatal(err)
	}
}
