// Package sqlite implements persistence.Store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"time"

	_ "modernc.org/sqlite"

	"github.com/paircast/paircast-go/pkg/device"
	"github.com/paircast/paircast-go/pkg/persistence"
	"github.com/paircast/paircast-go/pkg/vault"
	"github.com/paircast/paircast-go/pkg/wire"
)

// Store keeps paired devices in the paired_devices table.
type Store struct {
	db *sql.DB
}

var _ persistence.Store = (*Store)(nil)

// details holds the record fields that are never queried on.
type details struct {
	Model        string              `cbor:"1,keyasint,omitempty"`
	Capabilities device.Capabilities `cbor:"2,keyasint,omitempty"`
	APIVersion   string              `cbor:"3,keyasint,omitempty"`
	TokenExpiry  int64               `cbor:"4,keyasint,omitempty"`
	DiscoveredAt int64               `cbor:"5,keyasint,omitempty"`
}

// Open opens or creates the database at path and migrates the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and writes serialized.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS paired_devices (
		address TEXT NOT NULL,
		port INTEGER NOT NULL,
		brand TEXT NOT NULL,
		display_name TEXT NOT NULL,
		credential BLOB NOT NULL,
		details BLOB NOT NULL,
		paired_at INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (address, port)
	);

	CREATE INDEX IF NOT EXISTS idx_paired_devices_brand ON paired_devices(brand);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save inserts rec or replaces the row with the same endpoint.
func (s *Store) Save(rec persistence.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	cred, err := rec.Credential.Encode()
	if err != nil {
		return err
	}
	extra, err := wire.Seal(wire.KindDeviceRecord, details{
		Model:        rec.Model,
		Capabilities: rec.Capabilities,
		APIVersion:   rec.APIVersion,
		TokenExpiry:  unixNano(rec.TokenExpiry),
		DiscoveredAt: unixNano(rec.DiscoveredAt),
	})
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(context.Background(), `
		INSERT INTO paired_devices (address, port, brand, display_name, credential, details, paired_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address, port) DO UPDATE SET
			brand = excluded.brand,
			display_name = excluded.display_name,
			credential = excluded.credential,
			details = excluded.details,
			paired_at = excluded.paired_at,
			updated_at = CURRENT_TIMESTAMP
	`, rec.Address.String(), int(rec.Port), rec.Brand.String(), rec.DisplayName, cred, extra, rec.PairedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", rec.Key(), err)
	}
	return nil
}

// Get returns the record for key.
func (s *Store) Get(key netip.AddrPort) (persistence.Record, error) {
	row := s.db.QueryRowContext(context.Background(), `
		SELECT address, port, brand, display_name, credential, details, paired_at
		FROM paired_devices
		WHERE address = ? AND port = ?
	`, key.Addr().String(), int(key.Port()))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Record{}, fmt.Errorf("%w: %s", persistence.ErrNotFound, key)
	}
	return rec, err
}

// List returns all records ordered by endpoint.
func (s *Store) List() ([]persistence.Record, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT address, port, brand, display_name, credential, details, paired_at
		FROM paired_devices
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var out []persistence.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}

	// Text ordering of addresses is not numeric ordering.
	slices.SortFunc(out, func(a, b persistence.Record) int {
		return a.Key().Compare(b.Key())
	})
	return out, nil
}

// Delete removes the record for key.
func (s *Store) Delete(key netip.AddrPort) error {
	res, err := s.db.ExecContext(context.Background(),
		`DELETE FROM paired_devices WHERE address = ? AND port = ?`,
		key.Addr().String(), int(key.Port()))
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrNotFound, key)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (persistence.Record, error) {
	var (
		address, brand, name string
		port                 int
		cred, extra          []byte
		pairedAt             int64
	)
	if err := row.Scan(&address, &port, &brand, &name, &cred, &extra, &pairedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Record{}, err
		}
		return persistence.Record{}, fmt.Errorf("failed to scan device: %w", err)
	}

	addr, err := netip.ParseAddr(address)
	if err != nil {
		return persistence.Record{}, fmt.Errorf("bad address column %q: %w", address, err)
	}
	b, err := device.ParseBrand(brand)
	if err != nil {
		return persistence.Record{}, err
	}
	sc, err := vault.DecodeSealed(cred)
	if err != nil {
		return persistence.Record{}, err
	}
	var d details
	if err := wire.Open(extra, wire.KindDeviceRecord, &d); err != nil {
		return persistence.Record{}, err
	}

	return persistence.Record{
		Address:      addr,
		Port:         uint16(port),
		Brand:        b,
		Model:        d.Model,
		DisplayName:  name,
		Credential:   sc,
		Capabilities: d.Capabilities,
		APIVersion:   d.APIVersion,
		TokenExpiry:  fromUnixNano(d.TokenExpiry),
		DiscoveredAt: fromUnixNano(d.DiscoveredAt),
		PairedAt:     fromUnixNano(pairedAt),
	}, nil
}

// unixNano stores the zero time as 0.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
