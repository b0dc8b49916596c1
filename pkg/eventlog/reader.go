package eventlog

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events. Zero fields match everything.
type Filter struct {
	// SessionID matches by prefix, so the short IDs printed by the viewer
	// can be pasted back.
	SessionID string
	Source    *Source
	Category  *Category
	Target    string

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Matches reports whether event passes every set criterion.
func (f *Filter) Matches(event Event) bool {
	switch {
	case !strings.HasPrefix(event.SessionID, f.SessionID):
		return false
	case f.Source != nil && *f.Source != event.Source:
		return false
	case f.Category != nil && *f.Category != event.Category:
		return false
	case f.Target != "" && f.Target != event.Target:
		return false
	}
	return f.inRange(event.Timestamp)
}

func (f *Filter) inRange(ts time.Time) bool {
	if f.TimeStart != nil && ts.Before(*f.TimeStart) {
		return false
	}
	return f.TimeEnd == nil || ts.Before(*f.TimeEnd)
}

// Reader iterates over the events of a trace file.
type Reader struct {
	rc     io.ReadCloser
	dec    *cbor.Decoder
	filter Filter
}

// NewReader opens a trace for reading all events.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a trace and yields only events matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{rc: f, dec: NewDecoder(f), filter: filter}, nil
}

// Next returns the next matching event. The end of the trace, including a
// final record cut short by a crash, is reported as io.EOF.
func (r *Reader) Next() (Event, error) {
	var event Event
	for {
		event = Event{}
		err := r.dec.Decode(&event)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return Event{}, io.EOF
		case err != nil:
			return Event{}, err
		case r.filter.Matches(event):
			return event, nil
		}
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.rc.Close()
}
