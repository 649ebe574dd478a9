package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Storage keeps the session blob somewhere. It never looks inside it.
type Storage interface {
	LoadSession(ctx context.Context) ([]byte, error)
	StoreSession(ctx context.Context, data []byte) error
}

// Load reads a session from st. It returns ErrNotFound when st is empty.
func Load(ctx context.Context, st Storage) (*Session, error) {
	data, err := st.LoadSession(ctx)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// Save writes the session to st.
func (s *Session) Save(ctx context.Context, st Storage) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	return st.StoreSession(ctx, data)
}

// FileStorage keeps the blob in a file readable by the owner only.
type FileStorage struct {
	Path string
}

func (f *FileStorage) LoadSession(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// StoreSession replaces the file atomically.
func (f *FileStorage) StoreSession(_ context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
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
	return os.Rename(tmp.Name(), f.Path)
}

// MemoryStorage is a Storage for tests and throwaway sessions.
type MemoryStorage struct {
	mu   sync.Mutex
	data []byte
}

func (m *MemoryStorage) LoadSession(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNotFound
	}
	return append([]byte{}, m.data...), nil
}

func (m *MemoryStorage) StoreSession(_ context.Context, data []byte) error {
	m.mu.Lock()
	m.data = append([]byte{}, data...)
	m.mu.Unlock()
	return nil
}

// BadgerStorage keeps the blob under one key of a badger database, so a
// single database can hold several sessions.
type BadgerStorage struct {
	db  *badger.DB
	key []byte
	own bool
}

// OpenBadger opens (or creates) a database in dir.
func OpenBadger(dir, key string, logger *logrus.Logger) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	if logger != nil {
		opts.Logger = logger
	}
	opts.SyncWrites = true
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	return &BadgerStorage{db: db, key: []byte(key), own: true}, nil
}

// NewBadgerStorage uses an already open database.
func NewBadgerStorage(db *badger.DB, key string) *BadgerStorage {
	return &BadgerStorage{db: db, key: []byte(key)}
}

func (b *BadgerStorage) LoadSession(_ context.Context) (data []byte, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *BadgerStorage) StoreSession(_ context.Context, data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key, data)
	})
}

// Close closes the database if OpenBadger opened it.
func (b *BadgerStorage) Close() error {
	if !b.own {
		return nil
	}
	return b.db.Close()
}

const defaultBadgerKey = "mtcore/session"

// OpenStorage parses a storage location: "file:path", "badger:dir" or
// "memory:".
func OpenStorage(location string, logger *logrus.Logger) (Storage, error) {
	kind, arg, ok := strings.Cut(location, ":")
	if !ok {
		return nil, fmt.Errorf("session storage %q has no kind prefix", location)
	}
	switch kind {
	case "file":
		if arg == "" {
			return nil, fmt.Errorf("file session storage needs a path")
		}
		return &FileStorage{Path: arg}, nil
	case "badger":
		if arg == "" {
			return nil, fmt.Errorf("badger session storage needs a directory")
		}
		return OpenBadger(arg, defaultBadgerKey, logger)
	case "memory":
		return &MemoryStorage{}, nil
	}
	return nil, fmt.Errorf("unknown session storage %q", kind)
}
