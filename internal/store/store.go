package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/lessucettes/ircguard/internal/config"
)

// Store persists ordered lists of opaque string records per namespace.
type Store interface {
	// LoadRecords returns the records of a namespace in saved order. A
	// namespace that was never written yields no records and no error.
	LoadRecords(ctx context.Context, namespace string) ([]string, error)
	// SaveRecords atomically replaces the records of a namespace. A positive
	// ttl expires every record written by this call.
	SaveRecords(ctx context.Context, namespace string, records []string, ttl time.Duration) error
	Close() error
}

// BadgerStore is the BadgerDB implementation of Store.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// badgerLogger adapts slog.Logger to be used as a logger for BadgerDB.
type badgerLogger struct {
	*slog.Logger
}

func (l *badgerLogger) Warningf(f string, v ...any) { l.Warn(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Errorf(f string, v ...any)   { l.Error(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Infof(f string, v ...any)    {}
func (l *badgerLogger) Debugf(f string, v ...any)   {}

// NewBadgerStore opens (or creates) the database at cfg.Path.
func NewBadgerStore(cfg *config.DBConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.ValueThreshold = 1024
	opts.Logger = &badgerLogger{slog.Default()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Keys are the namespace, a NUL separator and a zero padded position, so a
// prefix scan returns records in order.
func prefixOf(namespace string) []byte {
	return []byte(namespace + "\x00")
}

func keyOf(namespace string, i int) []byte {
	return fmt.Appendf(prefixOf(namespace), "%08d", i)
}

func (s *BadgerStore) LoadRecords(ctx context.Context, namespace string) ([]string, error) {
	var records []string
	prefix := prefixOf(namespace)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			records = append(records, string(val))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %q: %w", namespace, err)
	}
	return records, nil
}

func (s *BadgerStore) SaveRecords(ctx context.Context, namespace string, records []string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := prefixOf(namespace)
	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for i, rec := range records {
			entry := badger.NewEntry(keyOf(namespace, i), []byte(rec))
			if ttl > 0 {
				entry = entry.WithTTL(ttl)
			}
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save %q: %w", namespace, err)
	}
	slog.Debug("Saved records", "namespace", namespace, "count", len(records))
	return nil
}
