package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLite struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLite creates a new store with the given filename as the db.
// If the file name is empty, a new in-memory db is opened.
func NewSQLite(filename string) SQLite {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		partition TEXT NOT NULL,
		key TEXT NOT NULL,
		stored_at INTEGER NOT NULL,
		bytes BLOB,
		UNIQUE (partition, key)
	)`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS partition_idx ON entries (partition)")
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		panic(err)
	}
	return SQLite{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func (s SQLite) Get(partition, key string) (Entry, bool, error) {
	entry := Entry{Partition: partition, Key: key}
	var storedAt int64
	err := s.db.QueryRow(
		"SELECT seq, stored_at, bytes FROM entries WHERE partition = ? AND key = ?",
		partition, key,
	).Scan(&entry.Seq, &storedAt, &entry.Bytes)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("store: get %s/%s: %w", partition, key, err)
	}
	entry.StoredAt = time.Unix(storedAt, 0)
	return entry, true, nil
}

func (s SQLite) Put(partition, key string, storedAt time.Time, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	// INSERT OR REPLACE deletes and re-inserts, giving the entry a new seq.
	// An overwritten entry therefore counts as newly inserted.
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO entries (partition, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
		partition, key, storedAt.Unix(), bytes)
	if err != nil {
		return fmt.Errorf("store: put %s/%s: %w", partition, key, err)
	}
	return nil
}

func (s SQLite) Keys(partition string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT key FROM entries WHERE partition = ? ORDER BY seq ASC", partition)
	if err != nil {
		return nil, fmt.Errorf("store: keys %s: %w", partition, err)
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s SQLite) Entries(partition string) ([]Entry, error) {
	rows, err := s.db.Query(
		"SELECT seq, key, stored_at, bytes FROM entries WHERE partition = ? ORDER BY seq ASC",
		partition)
	if err != nil {
		return nil, fmt.Errorf("store: entries %s: %w", partition, err)
	}
	defer rows.Close()
	entries := make([]Entry, 0)
	for rows.Next() {
		entry := Entry{Partition: partition}
		var storedAt int64
		if err := rows.Scan(&entry.Seq, &entry.Key, &storedAt, &entry.Bytes); err != nil {
			return entries, err
		}
		entry.StoredAt = time.Unix(storedAt, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s SQLite) Delete(partition, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM entries WHERE partition = ? AND key = ?", partition, key)
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", partition, key, err)
	}
	return nil
}

func (s SQLite) Count(partition string) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM entries WHERE partition = ?", partition).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count %s: %w", partition, err)
	}
	return count, nil
}

func (s SQLite) Partitions() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT partition FROM entries ORDER BY partition")
	if err != nil {
		return nil, fmt.Errorf("store: partitions: %w", err)
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLite) DropPartitionsExcept(keep []string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if len(keep) == 0 {
		_, err := s.db.Exec("DELETE FROM entries")
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
	args := make([]any, len(keep))
	for i, name := range keep {
		args[i] = name
	}
	_, err := s.db.Exec(
		"DELETE FROM entries WHERE partition NOT IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("store: drop partitions: %w", err)
	}
	return nil
}
