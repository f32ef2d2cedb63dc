// Package db opens the SQLite file that keeps the question history and
// applies its schema migrations.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// Mode selects how a SQLite pool is tuned.
type Mode string

// Pool modes.
const (
	ModeWrite Mode = "write"
	ModeRead  Mode = "read"
)

const (
	busyTimeoutMillis  = "5000"
	defaultReadMaxOpen = 4
	pingTimeout        = 5 * time.Second
)

// Store pairs a single-connection write pool with a read pool on the same
// file. Writes go through Write so SQLite never sees two writers.
type Store struct {
	Write *sql.DB
	Read  *sql.DB
}

// OpenSQLite opens one pool for path.
//
// ModeWrite holds a single connection and begins transactions with
// _txlock=immediate. ModeRead allows maxOpen connections (0 means 4).
// Both use WAL journaling with a 5s busy timeout.
func OpenSQLite(path string, mode Mode, maxOpen int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, ModeRead, ModeWrite)
	}

	pool, err := sql.Open("sqlite3", buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}

	if mode == ModeWrite {
		maxOpen = 1
	} else if maxOpen <= 0 {
		maxOpen = defaultReadMaxOpen
	}
	pool.SetMaxOpenConns(maxOpen)
	pool.SetMaxIdleConns(maxOpen)
	pool.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}
	return pool, nil
}

// Open opens the write and read pools for path and migrates the schema to
// the latest version.
func Open(path string, readMaxOpen int) (*Store, error) {
	write, err := OpenSQLite(path, ModeWrite, 0)
	if err != nil {
		return nil, err
	}
	if err := Migrate(write); err != nil {
		_ = write.Close()
		return nil, err
	}
	read, err := OpenSQLite(path, ModeRead, readMaxOpen)
	if err != nil {
		_ = write.Close()
		return nil, err
	}
	return &Store{Write: write, Read: read}, nil
}

// Close closes both pools.
func (s *Store) Close() error {
	return errors.Join(s.Read.Close(), s.Write.Close())
}

func buildDSN(path string, mode Mode) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", busyTimeoutMillis)
	params.Set("_synchronous", "NORMAL")
	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}
