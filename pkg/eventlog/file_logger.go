package eventlog

import (
	"os"
	"path/filepath"
	"sync"
)

// FileLogger appends CBOR-encoded events to a trace file. Each event is
// written with a single write call so concurrent processes appending to
// the same trace do not interleave records. Safe for concurrent use.
type FileLogger struct {
	mu   sync.Mutex
	file *os.File // nil once closed
}

// NewFileLogger opens path for appending, creating the file and its parent
// directory when missing. The trace names devices on the local network,
// so it is only readable by the owner.
func NewFileLogger(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: f}, nil
}

// Log appends event. Events that fail to encode or write are dropped.
func (l *FileLogger) Log(event Event) {
	data, err := EncodeEvent(event)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_, _ = l.file.Write(data)
	}
}

// Close closes the trace file. It is safe to call more than once; Log
// calls after Close are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

var _ Logger = (*FileLogger)(nil)
