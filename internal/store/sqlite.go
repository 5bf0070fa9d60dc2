package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLiteDocuments keeps each document as one row of the documents table.
// Every write bumps the store-wide revision.
type SQLiteDocuments struct {
	db *sql.DB
}

func NewSQLiteDocuments(db *sql.DB) *SQLiteDocuments {
	return &SQLiteDocuments{db: db}
}

func (s *SQLiteDocuments) Get(key string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRow(`SELECT body FROM documents WHERE key = ?`, key).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %q: %w", key, err)
	}
	return body, nil
}

func (s *SQLiteDocuments) Put(key string, doc []byte) error {
	return s.PutAll(map[string][]byte{key: doc})
}

func (s *SQLiteDocuments) PutAll(docs map[string][]byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer tx.Rollback()

	var revision int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(revision), 0) + 1 FROM documents`).Scan(&revision); err != nil {
		return fmt.Errorf("next revision: %w", err)
	}

	now := time.Now().UTC()
	for key, doc := range docs {
		_, err := tx.Exec(
			`INSERT INTO documents (key, body, revision, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET body = excluded.body, revision = excluded.revision, updated_at = excluded.updated_at`,
			key, doc, revision, now,
		)
		if err != nil {
			return fmt.Errorf("put document %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put: %w", err)
	}
	return nil
}

func (s *SQLiteDocuments) Snapshot(keys ...string) (Snapshot, error) {
	snap := Snapshot{Docs: make(map[string][]byte, len(keys))}

	tx, err := s.db.Begin()
	if err != nil {
		return snap, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRow(`SELECT COALESCE(MAX(revision), 0) FROM documents`).Scan(&snap.Revision); err != nil {
		return snap, fmt.Errorf("read revision: %w", err)
	}
	if len(keys) == 0 {
		return snap, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := tx.Query(`SELECT key, body FROM documents WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return snap, fmt.Errorf("read snapshot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var body []byte
		if err := rows.Scan(&key, &body); err != nil {
			return snap, fmt.Errorf("scan document: %w", err)
		}
		snap.Docs[key] = body
	}
	return snap, rows.Err()
}
