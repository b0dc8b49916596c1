package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/paircast/paircast-go/pkg/eventlog"
)

// RunExport writes the events matching filter in format to output, or to
// stdout if output is empty.
func RunExport(path string, filter eventlog.Filter, format, output string) error {
	if format != "jsonl" && format != "csv" {
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
	reader, err := eventlog.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if format == "csv" {
		return exportCSV(reader, w)
	}
	return exportJSONL(reader, w)
}

func exportJSONL(reader *eventlog.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
}

func exportCSV(reader *eventlog.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "session_id", "source", "category", "target", "brand", "detail", "status", "duration_ms"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		var detail, status, duration string
		switch {
		case event.StateChange != nil:
			detail = event.StateChange.NewState
		case event.Discovery != nil:
			detail = event.Discovery.Model
			status = event.Discovery.Confidence
		case event.Exchange != nil:
			detail = event.Exchange.Method + " " + event.Exchange.Path
			if event.Exchange.Err != "" {
				status = event.Exchange.Err
			} else {
				status = strconv.Itoa(event.Exchange.Status)
			}
			duration = strconv.FormatFloat(float64(event.Exchange.Duration.Microseconds())/1000, 'f', 3, 64)
		case event.Error != nil:
			detail = event.Error.Message
		}

		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.SessionID,
			event.Source.String(),
			event.Category.String(),
			event.Target,
			event.Brand,
			detail,
			status,
			duration,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
