package persist

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/mioring/internal/ring"
	"github.com/starford/mioring/internal/seal"
)

// Store loads and flushes the aggregate through a codec and a backend.
type Store struct {
	backend Backend
	codec   seal.Codec
	logger  *slog.Logger
	now     func() time.Time
}

func NewStore(backend Backend, codec seal.Codec, logger *slog.Logger) *Store {
	if codec == nil {
		codec = seal.Plain{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, codec: codec, logger: logger, now: time.Now}
}

// Load returns the persisted aggregate. A missing index yields fresh state;
// an unreadable one is backed up first. Backend read failures and sealed
// documents the codec cannot open are returned without touching the index.
func (s *Store) Load(opts ...ring.Option) (*ring.Mio, error) {
	stored, err := s.backend.Load()
	if errors.Is(err, ErrNoIndex) {
		s.logger.Info("no index found, starting fresh")
		return ring.New(opts...), nil
	}
	if err != nil {
		return nil, err
	}

	m, err := s.decode(stored, opts)
	if err == nil {
		return m, nil
	}
	if errors.Is(err, seal.ErrKey) {
		return nil, fmt.Errorf("persist: index left in place: %w", err)
	}
	dst, qerr := s.backend.Quarantine(s.now())
	if qerr != nil {
		return nil, fmt.Errorf("persist: index unreadable (%v) and backup failed: %w", err, qerr)
	}
	s.logger.Warn("index unreadable, backed up and starting fresh",
		slog.String("backup", dst),
		slog.String("error", err.Error()),
	)
	return ring.New(opts...), nil
}

func (s *Store) decode(stored []byte, opts []ring.Option) (*ring.Mio, error) {
	plain, err := s.codec.Open(stored)
	if err != nil {
		return nil, err
	}
	return ring.Decode(plain, opts...)
}

// Flush writes the whole aggregate.
func (s *Store) Flush(m *ring.Mio) error {
	plain, err := m.Encode()
	if err != nil {
		return err
	}
	sealed, err := s.codec.Seal(plain)
	if err != nil {
		return err
	}
	if err := s.backend.Save(sealed); err != nil {
		return err
	}
	return nil
}

// Close releases the backend and, when it owns one, the codec's key.
func (s *Store) Close() error {
	if c, ok := s.codec.(*seal.Sealed); ok {
		c.Close()
	}
	return s.backend.Close()
}
