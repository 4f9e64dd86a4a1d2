// Package store keeps program images in a SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/guidorota/brix-sub000/pkg/image"
)

// ErrProgramNotFound indicates the requested program doesn't exist.
var ErrProgramNotFound = errors.New("program not found")

var log = commonlog.GetLogger("brix.store")

// Summary describes a stored program without decoding it.
type Summary struct {
	Name    string
	Version uint32
	Size    int
	Hash    [32]byte
}

// Store handles SQLite storage for program images.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the database at path. The special path ":memory:"
// gives a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A second connection to ":memory:" would see a different database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		name    TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		hash    BLOB NOT NULL,
		size    INTEGER NOT NULL,
		image   BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save stores a program, replacing any program with the same name.
func (s *Store) Save(p *image.Program) error {
	data, err := image.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding program %s: %w", p.Name, err)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO programs (name, version, hash, size, image) VALUES (?, ?, ?, ?, ?)",
		p.Name, p.Version, p.Hash[:], len(p.Code), data,
	)
	if err != nil {
		return fmt.Errorf("saving program %s: %w", p.Name, err)
	}
	log.Debugf("saved program %s v%d (%d bytes)", p.Name, p.Version, len(p.Code))
	return nil
}

// Load retrieves and validates a program.
func (s *Store) Load(name string) (*image.Program, error) {
	var data []byte
	err := s.db.QueryRow("SELECT image FROM programs WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, name)
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}
	return image.Unmarshal(data)
}

// List returns every stored program ordered by name.
func (s *Store) List() ([]Summary, error) {
	rows, err := s.db.Query("SELECT name, version, hash, size FROM programs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var hash []byte
		if err := rows.Scan(&sum.Name, &sum.Version, &hash, &sum.Size); err != nil {
			return nil, fmt.Errorf("scanning program: %w", err)
		}
		copy(sum.Hash[:], hash)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a program.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM programs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrProgramNotFound, name)
	}
	return nil
}
