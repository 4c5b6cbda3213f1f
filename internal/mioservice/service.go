// Package mioservice is the single writer over the ring: every surface (REST,
// MCP, CLI, inbox) goes through a Service, which serializes commands, flushes
// the index after each mutation and fans changes out to the catalog and SSE.
package mioservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/mioring/internal/apperr"
	"github.com/starford/mioring/internal/capture"
	"github.com/starford/mioring/internal/catalog"
	"github.com/starford/mioring/internal/metrics"
	"github.com/starford/mioring/internal/operable"
	"github.com/starford/mioring/internal/persist"
	"github.com/starford/mioring/internal/ring"
	"github.com/starford/mioring/internal/sse"
)

// Notifier receives ring changes after they are flushed.
type Notifier interface {
	PublishChange(change sse.Change, data any)
}

// Service coordinates the aggregate, its persisted index and the read models.
type Service struct {
	mu       sync.Mutex
	mio      *ring.Mio
	store    *persist.Store
	registry *operable.Registry
	catalog  catalog.Catalog
	notifier Notifier
	logger   *slog.Logger
}

type Option func(*Service)

func WithCatalog(c catalog.Catalog) Option { return func(s *Service) { s.catalog = c } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// New wraps m. The store persists every mutation; registry answers which
// operations are offered.
func New(m *ring.Mio, store *persist.Store, registry *operable.Registry, opts ...Option) *Service {
	s := &Service{mio: m, store: store, registry: registry}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.observe()
	return s
}

// Sync rebuilds the catalog from the current state.
func (s *Service) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalog == nil {
		return nil
	}
	return catalog.Sync(s.catalog, s.mio, s.logger)
}

// commit persists the aggregate, refreshes the catalog and metrics, and
// publishes change. Must be called with mu held.
func (s *Service) commit(change sse.Change, data any) error {
	if err := s.store.Flush(s.mio); err != nil {
		s.logger.Error("flush index", slog.String("error", err.Error()))
		return fmt.Errorf("mioservice: flush: %w", err)
	}
	if s.catalog != nil {
		if err := catalog.Sync(s.catalog, s.mio, s.logger); err != nil {
			s.logger.Warn("catalog sync", slog.String("error", err.Error()))
		}
	}
	s.observe()
	if s.notifier != nil {
		s.notifier.PublishChange(change, data)
	}
	return nil
}

func (s *Service) observe() {
	metrics.SetRing(catalog.RingLive, len(s.mio.Ring.Entities), len(s.mio.Ring.Specters), len(s.mio.Ring.Operations))
	metrics.SetRing(catalog.RingArchived, len(s.mio.Archived.Entities), len(s.mio.Archived.Specters), len(s.mio.Archived.Operations))
	metrics.AllocatorCeiling.Set(float64(s.mio.Alloc.Ord))
}

// Register admits whatever src captures. Ids admitted before a failure are
// kept and returned with the error.
func (s *Service) Register(ctx context.Context, src ring.Persistable) ([]ring.MioID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := ring.Interpret(ctx, s.mio, ring.Register{Source: src})
	if len(ids) > 0 {
		if cerr := s.commit(sse.Registered, ids); cerr != nil {
			return ids, cerr
		}
	}
	return ids, err
}

// RegisterText stores text as a txt entity, or as url when it is a single link
// and ext is empty.
func (s *Service) RegisterText(ctx context.Context, text string, ext ring.EntityExt) (ring.MioID, error) {
	if text == "" {
		return ring.MioID{}, fmt.Errorf("%w: empty text", apperr.ErrInvalid)
	}
	if ext == "" {
		ext = capture.TextExt(text)
	}
	if ext.Kind() != ring.KindText {
		return ring.MioID{}, fmt.Errorf("%w: %q is not a text extension", apperr.ErrInvalid, ext)
	}
	return s.RegisterBlob(ctx, []byte(text), ext)
}

// RegisterBlob stores uploaded bytes as one entity.
func (s *Service) RegisterBlob(ctx context.Context, data []byte, ext ring.EntityExt) (ring.MioID, error) {
	ids, err := s.Register(ctx, capture.Blob{Data: data, Ext: ext})
	if err != nil {
		return ring.MioID{}, err
	}
	return ids[0], nil
}

// RegisterFiles admits files on disk; with move set the originals are removed.
func (s *Service) RegisterFiles(ctx context.Context, paths []string, move bool) ([]ring.MioID, error) {
	return s.Register(ctx, capture.Files{Paths: paths, Move: move})
}

func (s *Service) RegisterClipboard(ctx context.Context) ([]ring.MioID, error) {
	return s.Register(ctx, capture.Clipboard{})
}

// Initiate records a pending operation and returns the incremental ring.
func (s *Service) Initiate(ctx context.Context, kind ring.OperationKind, attr json.RawMessage, base []ring.MioID) (*ring.Ring, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta, err := ring.Interpret(ctx, s.mio, ring.Initiate{Kind: kind, Attr: attr, Base: base})
	if err != nil {
		return nil, err
	}
	if err := s.commit(sse.Delta, delta); err != nil {
		return nil, err
	}
	return delta, nil
}

// Force actualizes ids in order. Work completed before a failure is kept.
func (s *Service) Force(ctx context.Context, ids []ring.MioID) ([]ring.Actualized, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := ring.Interpret(ctx, s.mio, ring.Force{IDs: ids})
	if len(out) > 0 {
		if cerr := s.commit(sse.Actualized, out); cerr != nil {
			return out, cerr
		}
	}
	return out, err
}

// View returns a chronology window and its closure. A nil gen means all.
func (s *Service) View(ctx context.Context, gen ring.ViewGen) (*ring.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ring.Interpret(ctx, s.mio, ring.View{Gen: gen})
}

// Archive moves a subtree to the archived ring.
func (s *Service) Archive(ctx context.Context, t ring.Target) (*ring.Archived, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := ring.Interpret(ctx, s.mio, ring.Archive{Target: t})
	if err != nil {
		return nil, err
	}
	if err := s.commit(sse.Archived, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a subtree and its content permanently.
func (s *Service) Delete(ctx context.Context, t ring.Target) (*ring.Archived, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := ring.Interpret(ctx, s.mio, ring.Delete{Target: t})
	if err != nil {
		return nil, err
	}
	if err := s.commit(sse.Deleted, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Purge discards the archived ring.
func (s *Service) Purge(ctx context.Context) (*ring.Purged, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := ring.Interpret(ctx, s.mio, ring.Purge{})
	if err != nil {
		return nil, err
	}
	if err := s.commit(sse.Purged, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Elevate(ctx context.Context, id ring.MioID) (*ring.Ring, error) {
	return s.mutate(ctx, ring.Elevate{ID: id})
}

func (s *Service) Pin(ctx context.Context, id ring.MioID) (*ring.Ring, error) {
	return s.mutate(ctx, ring.Pin{ID: id})
}

func (s *Service) Unpin(ctx context.Context, id ring.MioID) (*ring.Ring, error) {
	return s.mutate(ctx, ring.Unpin{ID: id})
}

func (s *Service) mutate(ctx context.Context, cmd ring.Interpretable[*ring.Ring]) (*ring.Ring, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta, err := ring.Interpret(ctx, s.mio, cmd)
	if err != nil {
		return nil, err
	}
	if err := s.commit(sse.Delta, delta); err != nil {
		return nil, err
	}
	return delta, nil
}

// Content is an actualized specter's file.
type Content struct {
	ID   ring.MioID      `json:"id"`
	Path string          `json:"path"`
	Ext  ring.EntityExt  `json:"ext"`
	Kind ring.EntityKind `json:"kind"`
}

// Content forces id and returns where its bytes live.
func (s *Service) Content(ctx context.Context, id ring.MioID) (*Content, error) {
	done, err := s.Force(ctx, []ring.MioID{id})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	node, err := s.mio.Lookup(id)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &Content{ID: id, Path: done[0].Path, Ext: node.Extension(), Kind: node.Kind()}, nil
}

// Read returns the bytes of an actualized specter without forcing it.
func (s *Service) Read(id ring.MioID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, err := s.mio.Lookup(id)
	if err != nil {
		return nil, err
	}
	if !node.Exists(s.mio.Dirs()) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotActualized, id)
	}
	return node.Read(s.mio.Dirs())
}

// Offered lists the operations the enabled backends accept for kind.
func (s *Service) Offered(kind ring.EntityKind) ([]ring.OperationKind, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: kind %q", apperr.ErrInvalid, kind)
	}
	return s.registry.Offered(kind), nil
}

// OfferedFor lists the operations offered for the kind of a live specter.
func (s *Service) OfferedFor(id ring.MioID) ([]ring.OperationKind, error) {
	s.mu.Lock()
	node, err := s.mio.Lookup(id)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.registry.Offered(node.Kind()), nil
}

// Describe lists every enabled backend with its attribute schema.
func (s *Service) Describe() []operable.Descriptor {
	return s.registry.Describe()
}

// List pages through the catalog.
func (s *Service) List(_ context.Context, f catalog.Filter, limit, offset int) ([]catalog.SpecterRow, int, error) {
	if s.catalog == nil {
		return nil, 0, fmt.Errorf("%w: catalog", apperr.ErrCapabilityDisabled)
	}
	return s.catalog.ListSpecters(f, limit, offset)
}

// Search queries the catalog's text index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]catalog.SearchResult, error) {
	if s.catalog == nil {
		return nil, fmt.Errorf("%w: catalog", apperr.ErrCapabilityDisabled)
	}
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", apperr.ErrInvalid)
	}
	return s.catalog.Search(query, limit)
}

// Flush writes the index without any pending change.
func (s *Service) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Flush(s.mio)
}

// Close flushes and releases the store. The catalog is owned by the caller.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Flush(s.mio); err != nil {
		s.logger.Error("final flush", slog.String("error", err.Error()))
	}
	return s.store.Close()
}
