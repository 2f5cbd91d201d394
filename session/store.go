// Package session persists the workflow identifiers (auth token, customer id,
// price id) between runs. Store is the only way the rest of payflow touches
// persistent state.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"

	"payflow/config"
	"payflow/models"
)

// Store reads, writes and clears one persisted session. Writes are whole
// session replacements and the last writer wins.
type Store interface {
	Load(ctx context.Context) (models.Session, error)
	Save(ctx context.Context, s models.Session) error
	Clear(ctx context.Context) error
}

// Open builds the store selected by conf.Session.Backend. Stores holding a
// connection also implement io.Closer.
func Open(ctx context.Context, conf config.Config) (Store, error) {
	switch conf.Session.Backend {
	case "", "file":
		return NewFileStore(conf.Session.Path), nil
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		db, err := sql.Open("pgx", conf.Session.Postgres.ConnString())
		if err != nil {
			return nil, fmt.Errorf("unable to open database: %w", err)
		}
		store := NewPostgresStore(db, conf.Profile)
		err = store.Init(ctx)
		if err != nil {
			db.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown session backend %q", conf.Session.Backend)
}

// Close releases the store's resources if it holds any
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// MemoryStore keeps the session in process. It counts writes so callers can
// observe redundant saves.
type MemoryStore struct {
	mu      sync.Mutex
	session models.Session
	writes  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, nil
}

func (m *MemoryStore) Save(ctx context.Context, s models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
	m.writes++
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = models.Session{}
	m.writes++
	return nil
}

// Writes returns how many Save and Clear calls the store has seen
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
