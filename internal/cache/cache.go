package cache

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/mod/semver"

	_ "modernc.org/sqlite"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
)

// Store is the §6 prototype disk cache: a content-addressed table of
// compiled Prototypes keyed by a hash of their source text. Each row also
// records the format and driver versions that wrote it; Get hands an entry
// back only when both share the running build's major version and are no
// newer than it (see compatible).
//
// Grounded on the teacher's internal/build package pairing a bytecode
// serialization format (buildutil.BytecodeFile) with a persistence layer;
// generalized here from flat files to a database/sql-backed table so the
// store can be swapped to any of the drivers go.mod carries (sqlite by
// default, or mysql/postgres/mssql for a shared build-cache server) without
// touching call sites.
type Store struct {
	db *sql.DB
}

// driverVersion is embedded alongside FormatVersion in the compatibility
// check: two builds at the same wire FormatVersion can still disagree if
// the compiler itself changed in a way that doesn't affect serialization
// (e.g. a new opcode that changes what older bytecode *means*). Bumped by
// hand alongside deliberate compiler-semantics changes.
const driverVersion = "v1.0.0"

// Open connects to (and, if necessary, initializes) a prototype cache at
// the given database/sql driver name and data source. driverName must be
// one of the drivers imported by the host binary (cmd/axiom imports
// modernc.org/sqlite as the default; mattn/go-sqlite3, go-sql-driver/mysql,
// lib/pq, and go-mssqldb are available as alternates for a shared cache).
func Open(driverName, dataSourceName string) (*Store, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", driverName, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS prototypes (
			content_hash   TEXT PRIMARY KEY,
			format_version TEXT NOT NULL,
			driver_version TEXT NOT NULL,
			blob           BLOB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("cache: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key derives a cache key from a program's source text. Two files with
// identical contents hash identically regardless of path, matching the
// teacher's content-addressing intent for its own build cache.
func Key(source []byte) string {
	sum := blake2b.Sum256(source)
	return fmt.Sprintf("%x", sum)
}

// Get looks up a previously stored Prototype by content key. A miss (no
// row, incompatible format version, or incompatible driver version)
// returns (nil, false, nil) rather than an error: a cache miss is a normal
// outcome the caller falls back from, not a fault.
func (s *Store) Get(ctx context.Context, key string) (*bytecode.Prototype, bool, error) {
	var formatVersion, storedDriverVersion string
	var blob []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT format_version, driver_version, blob FROM prototypes WHERE content_hash = ?`, key)
	switch err := row.Scan(&formatVersion, &storedDriverVersion, &blob); {
	case err == sql.ErrNoRows:
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("cache: get %s: %w", key, err)
	}

	if !compatible(formatVersion, FormatVersion) || !compatible(storedDriverVersion, driverVersion) {
		return nil, false, nil
	}

	proto, err := Decode(blob)
	if err != nil {
		// A corrupt or truncated entry is treated as a miss: the caller
		// recompiles and Put overwrites it.
		return nil, false, nil
	}
	return proto, true, nil
}

// Put stores proto under key, overwriting any prior entry (a recompiled
// program always supersedes whatever was cached for the same source).
func (s *Store) Put(ctx context.Context, key string, proto *bytecode.Prototype) error {
	blob, err := Encode(proto)
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prototypes (content_hash, format_version, driver_version, blob)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			format_version = excluded.format_version,
			driver_version = excluded.driver_version,
			blob = excluded.blob
	`, key, FormatVersion, driverVersion, blob)
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", key, err)
	}
	return nil
}

// compatible reports whether a stored version can be trusted by a running
// build at `current`: same major version (semver.Major), stored minor/patch
// no newer than current (an older reader must not trust a newer writer's
// format additions it doesn't know how to skip).
func compatible(stored, current string) bool {
	if !semver.IsValid(stored) || !semver.IsValid(current) {
		return false
	}
	if semver.Major(stored) != semver.Major(current) {
		return false
	}
	return semver.Compare(stored, current) <= 0
}
