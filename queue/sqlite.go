package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLite struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLite creates a new queue store with the given filename as the db.
// If the file name is empty, a new in-memory db is opened.
func NewSQLite(filename string) SQLite {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		header BLOB,
		body BLOB,
		enqueued_at INTEGER NOT NULL
	)`)
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

func (s SQLite) Append(r Request) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	header, err := json.Marshal(r.Header)
	if err != nil {
		return fmt.Errorf("queue: encode header: %w", err)
	}
	_, err = s.db.Exec(
		"INSERT INTO queue (id, method, url, header, body, enqueued_at) VALUES (?, ?, ?, ?, ?, ?)",
		r.ID, r.Method, r.URL, header, r.Body, r.EnqueuedAt.Unix())
	if err != nil {
		return fmt.Errorf("queue: append %s: %w", r.ID, err)
	}
	return nil
}

func (s SQLite) All() ([]Request, error) {
	rows, err := s.db.Query(
		"SELECT id, method, url, header, body, enqueued_at FROM queue ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	defer rows.Close()
	queued := make([]Request, 0)
	for rows.Next() {
		var r Request
		var header []byte
		var enqueuedAt int64
		if err := rows.Scan(&r.ID, &r.Method, &r.URL, &header, &r.Body, &enqueuedAt); err != nil {
			return queued, err
		}
		if len(header) > 0 {
			if err := json.Unmarshal(header, &r.Header); err != nil {
				r.Header = http.Header{}
			}
		}
		r.EnqueuedAt = time.Unix(enqueuedAt, 0)
		queued = append(queued, r)
	}
	return queued, rows.Err()
}

func (s SQLite) Delete(id string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("queue: delete %s: %w", id, err)
	}
	return nil
}

func (s SQLite) Len() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM queue").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("queue: len: %w", err)
	}
	return count, nil
}
