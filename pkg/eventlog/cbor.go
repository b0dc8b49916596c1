package eventlog

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Trace files are read back by tools built from other revisions, so the
// decoder accepts unknown fields and repeated keys. Timestamps keep their
// nanoseconds because exchange durations are short.
var (
	encMode = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	})
	decMode = mustDecMode(cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
		MaxMapPairs: 64,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	m, err := opts.EncMode()
	if err != nil {
		panic("eventlog: invalid encoder options: " + err.Error())
	}
	return m
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	m, err := opts.DecMode()
	if err != nil {
		panic("eventlog: invalid decoder options: " + err.Error())
	}
	return m
}

// EncodeEvent returns the CBOR form of event.
func EncodeEvent(event Event) ([]byte, error) {
	return encMode.Marshal(event)
}

// DecodeEvent parses a single event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	err := decMode.Unmarshal(data, &event)
	return event, err
}

// NewEncoder returns a stream encoder for appending events to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder over a trace.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
