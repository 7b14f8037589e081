// Package store persists session-scoped loop state in BadgerDB.
//
// Keys are namespaced per session (session/<id>/state, session/<id>/audio) and
// values are msgpack-encoded. Save is a compare-and-swap on LoopState.Version.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rbright/glimpse/internal/fsm"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrVersionConflict = errors.New("session version conflict")
	ErrInvalidSession  = errors.New("invalid session id")
)

const sessionPrefix = "session/"

// Options configures Open.
type Options struct {
	// Dir holds the database files. Required unless InMemory.
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

type Store struct {
	db *badger.DB
}

func Open(opts Options) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("store dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger: opts.Logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the stored state for id, or ErrNotFound.
func (s *Store) Load(_ context.Context, id string) (fsm.LoopState, error) {
	key, err := stateKey(id)
	if err != nil {
		return fsm.LoopState{}, err
	}

	var state fsm.LoopState
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &state)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fsm.LoopState{}, ErrNotFound
	}
	if err != nil {
		return fsm.LoopState{}, fmt.Errorf("load session %q: %w", id, err)
	}
	return state, nil
}

// Save writes state if the stored version still equals expected. A missing
// record has version 0.
func (s *Store) Save(_ context.Context, state fsm.LoopState, expected uint64) error {
	key, err := stateKey(state.SessionID)
	if err != nil {
		return err
	}
	value, err := msgpack.Marshal(&state)
	if err != nil {
		return fmt.Errorf("encode session %q: %w", state.SessionID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		current, err := storedVersion(txn, key)
		if err != nil {
			return err
		}
		if current != expected {
			return fmt.Errorf("%w: stored %d, expected %d", ErrVersionConflict, current, expected)
		}
		return txn.Set(key, value)
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: concurrent update of %q", ErrVersionConflict, state.SessionID)
	}
	if err != nil && !errors.Is(err, ErrVersionConflict) {
		return fmt.Errorf("save session %q: %w", state.SessionID, err)
	}
	return err
}

func storedVersion(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var state fsm.LoopState
	if err := item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &state)
	}); err != nil {
		return 0, err
	}
	return state.Version, nil
}

// Delete removes every key in the session namespace.
func (s *Store) Delete(_ context.Context, id string) error {
	prefix, err := namespace(id)
	if err != nil {
		return err
	}

	var keys [][]byte
	err = s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan session %q: %w", id, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("delete session %q: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete session %q: %w", id, err)
	}
	return nil
}

// PutAudio stores the latest spoken clip for id.
func (s *Store) PutAudio(_ context.Context, id string, wav []byte) error {
	key, err := audioKey(id)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, wav)
	})
}

// Audio returns the latest spoken clip for id, or ErrNotFound.
func (s *Store) Audio(_ context.Context, id string) ([]byte, error) {
	key, err := audioKey(id)
	if err != nil {
		return nil, err
	}
	var wav []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		wav, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return wav, err
}

// Sessions lists stored session ids.
func (s *Store) Sessions(_ context.Context) ([]string, error) {
	prefix := []byte(sessionPrefix)
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), sessionPrefix)
			id, suffix, ok := strings.Cut(rest, "/")
			if ok && suffix == "state" {
				ids = append(ids, id)
			}
		}
		return nil
	})
	return ids, err
}

// ValidateID rejects ids that would escape their namespace.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "/\x00") || len(id) > 128 {
		return fmt.Errorf("%w %q", ErrInvalidSession, id)
	}
	return nil
}

func namespace(id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	return []byte(sessionPrefix + id + "/"), nil
}

func stateKey(id string) ([]byte, error) {
	prefix, err := namespace(id)
	if err != nil {
		return nil, err
	}
	return append(prefix, "state"...), nil
}

func audioKey(id string) ([]byte, error) {
	prefix, err := namespace(id)
	if err != nil {
		return nil, err
	}
	return append(prefix, "audio"...), nil
}

// badgerLogger forwards warnings and errors to slog and drops the rest.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	if l.logger != nil {
		l.logger.Error("badger", "message", strings.TrimSpace(fmt.Sprintf(f, v...)))
	}
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	if l.logger != nil {
		l.logger.Warn("badger", "message", strings.TrimSpace(fmt.Sprintf(f, v...)))
	}
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
