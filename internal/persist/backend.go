// Package persist stores the serialized aggregate and recovers from an
// unreadable index by setting it aside and starting fresh.
package persist

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/starford/mioring/internal/storage"
)

// ErrNoIndex reports that nothing has been persisted yet.
var ErrNoIndex = errors.New("persist: no index")

// Backend holds exactly one index document.
type Backend interface {
	Load() ([]byte, error)
	Save(data []byte) error
	// Quarantine moves the current document aside and names where it went.
	Quarantine(now time.Time) (string, error)
	Close() error
}

func backupSuffix(now time.Time) string {
	return "." + strconv.FormatInt(now.UnixMilli(), 10) + ".bak"
}

// FileBackend keeps the document in a single file, replaced atomically.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend { return &FileBackend{path: path} }

func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Load() ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoIndex
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read %s: %w", b.path, err)
	}
	return data, nil
}

func (b *FileBackend) Save(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir: %w", err)
	}
	return storage.WriteAtomic(b.path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func (b *FileBackend) Quarantine(now time.Time) (string, error) {
	dst := b.path + backupSuffix(now)
	if err := os.Rename(b.path, dst); err != nil {
		return "", fmt.Errorf("persist: back up index: %w", err)
	}
	return dst, nil
}

func (b *FileBackend) Close() error { return nil }

const indexKey = "index"

// BadgerBackend keeps the document under one key of an embedded badger store.
type BadgerBackend struct {
	db *badger.DB
}

// BadgerConfig selects where the store lives. An empty Path runs in memory.
type BadgerConfig struct {
	Path       string
	SyncWrites bool
	Logger     *slog.Logger
}

func OpenBadger(cfg BadgerConfig) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("persist: badger dir: %w", err)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("persist: open badger: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

func (b *BadgerBackend) Load() ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexKey))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoIndex
	}
	if err != nil {
		return nil, fmt.Errorf("persist: badger get: %w", err)
	}
	return data, nil
}

func (b *BadgerBackend) Save(data []byte) error {
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(indexKey), data)
	}); err != nil {
		return fmt.Errorf("persist: badger set: %w", err)
	}
	return nil
}

// Quarantine copies the document to a timestamped key and removes the original
// in one transaction.
func (b *BadgerBackend) Quarantine(now time.Time) (string, error) {
	dst := indexKey + backupSuffix(now)
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexKey))
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(dst), data); err != nil {
			return err
		}
		return txn.Delete([]byte(indexKey))
	})
	if err != nil {
		return "", fmt.Errorf("persist: badger back up index: %w", err)
	}
	return dst, nil
}

// Backups lists quarantined keys.
func (b *BadgerBackend) Backups() ([]string, error) {
	var out []string
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(indexKey + ".")})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return out, err
}

func (b *BadgerBackend) Close() error { return b.db.Close() }

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
