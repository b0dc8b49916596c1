package persistence

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// FileVersion is the current version of the device file format.
const FileVersion = 1

// deviceFile is the on-disk document.
type deviceFile struct {
	// Version is the file format version.
	Version int `json:"version"`

	// SavedAt is when the file was last written.
	SavedAt time.Time `json:"saved_at"`

	// Devices are the paired devices, ordered by endpoint.
	Devices []Record `json:"devices"`
}

// FileStore keeps paired devices in a JSON file. Every change rewrites the
// whole file through a temporary file and a rename.
type FileStore struct {
	mu      sync.Mutex
	path    string
	devices map[netip.AddrPort]Record
	closed  bool

	// now is overridable for tests.
	now func() time.Time
}

// NewFileStore opens the store at path, loading any existing file.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		devices: make(map[netip.AddrPort]Record),
		now:     time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Save stores rec and writes the file.
func (s *FileStore) Save(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	prev, had := s.devices[rec.Key()]
	s.devices[rec.Key()] = rec.Clone()
	if err := s.writeLocked(); err != nil {
		if had {
			s.devices[rec.Key()] = prev
		} else {
			delete(s.devices, rec.Key())
		}
		return err
	}
	return nil
}

// Get returns the record for key.
func (s *FileStore) Get(key netip.AddrPort) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, ErrStoreClosed
	}

	rec, ok := s.devices[key]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return rec.Clone(), nil
}

// List returns all records ordered by endpoint.
func (s *FileStore) List() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.sortedLocked(), nil
}

// Delete removes the record for key.
func (s *FileStore) Delete(key netip.AddrPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	rec, ok := s.devices[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(s.devices, key)
	if err := s.writeLocked(); err != nil {
		s.devices[key] = rec
		return err
	}
	return nil
}

// Close marks the store closed. The file is already up to date.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var doc deviceFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if doc.Version > FileVersion {
		return fmt.Errorf("%s: unsupported file version %d", s.path, doc.Version)
	}
	for _, rec := range doc.Devices {
		s.devices[rec.Key()] = rec
	}
	return nil
}

func (s *FileStore) sortedLocked() []Record {
	out := make([]Record, 0, len(s.devices))
	for _, rec := range s.devices {
		out = append(out, rec.Clone())
	}
	slices.SortFunc(out, func(a, b Record) int {
		return a.Key().Compare(b.Key())
	})
	return out
}

func (s *FileStore) writeLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	doc := deviceFile{
		Version: FileVersion,
		SavedAt: s.now().UTC(),
		Devices: s.sortedLocked(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
