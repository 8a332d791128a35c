/*
Package store keeps the archive's document collections in Postgres.

Every document lives in a single table, tagged with the name of the collection it belongs to.
The documents themselves are opaque JSONB; interpreting them is up to the services that load
them. A collection is always read as a whole, and always replaced as a whole.

	archive_documents
	    collection  VARCHAR   name of the collection (eg "dockingRegister", "history")
	    seq         BIGSERIAL insertion order, which is the order documents are returned in
	    doc         JSONB     the document
*/
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/BurntSushi/migration"
	"github.com/dockyard-archive/dockyard/config"
	"github.com/lib/pq"
)

var errEmptyCollectionName = errors.New("Collection name may not be empty")

// Store is safe for concurrent use. The connection is only opened when it is first needed, so
// that a service can start (and report that it has no data) while the database is down.
type Store struct {
	cfg config.ConfigDatabase

	db     *sql.DB
	dbLock sync.Mutex
}

func New(cfg config.ConfigDatabase) *Store {
	return &Store{cfg: cfg}
}

func createMigrations() []migration.Migrator {
	var migrations []migration.Migrator

	text := []string{
		`CREATE TABLE archive_documents (
			collection VARCHAR NOT NULL,
			seq BIGSERIAL NOT NULL,
			doc JSONB NOT NULL,
			PRIMARY KEY (collection, seq)
		);`,
		`CREATE INDEX idx_archive_documents_id ON archive_documents (collection, (doc->>'id'));`,
	}

	for _, t := range text {
		stmt := t
		migrations = append(migrations, func(tx migration.LimitedTx) error {
			_, err := tx.Exec(stmt)
			return err
		})
	}
	return migrations
}

// getDB opens the database (running migrations) on first use. A failure is not cached, so the
// next caller tries again.
func (s *Store) getDB() (*sql.DB, error) {
	s.dbLock.Lock()
	defer s.dbLock.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := migration.Open(s.cfg.Driver, s.cfg.DSN(), createMigrations())
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	}
	if s.cfg.MaxOpenConns != 0 {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	}
	s.db = db
	return db, nil
}

func (s *Store) Close() error {
	s.dbLock.Lock()
	defer s.dbLock.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// LoadCollection returns every document of the collection, in insertion order.
func (s *Store) LoadCollection(ctx context.Context, collection string) ([]json.RawMessage, error) {
	if collection == "" {
		return nil, errEmptyCollectionName
	}
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT doc FROM archive_documents WHERE collection = $1 ORDER BY seq`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []json.RawMessage{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, json.RawMessage(doc))
	}
	return docs, rows.Err()
}

// ReplaceCollection atomically swaps the entire content of a collection for docs.
func (s *Store) ReplaceCollection(ctx context.Context, collection string, docs []json.RawMessage) error {
	if collection == "" {
		return errEmptyCollectionName
	}
	for i, doc := range docs {
		if !json.Valid(doc) {
			return fmt.Errorf("Document %v of %v is not valid JSON", i, collection)
		}
	}

	db, err := s.getDB()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM archive_documents WHERE collection = $1`, collection); err != nil {
		return err
	}

	st, err := tx.PrepareContext(ctx, pq.CopyIn("archive_documents", "collection", "doc"))
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if _, err := st.ExecContext(ctx, collection, string(doc)); err != nil {
			st.Close()
			return err
		}
	}
	if _, err := st.ExecContext(ctx); err != nil {
		st.Close()
		return err
	}
	if err := st.Close(); err != nil {
		return err
	}
	return tx.Commit()
}
