package ring

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/starford/mioring/internal/apperr"
	"github.com/starford/mioring/internal/metrics"
	"github.com/starford/mioring/internal/storage"
)

// Provenance records how a concrete entity came to exist.
type Provenance string

const (
	Registered Provenance = "registered"
	Induced    Provenance = "induced"
	Pinned     Provenance = "pinned"
)

// Concrete is the body of a materialized specter. Unpinned holds the
// provenance a pinned entity returns to.
type Concrete struct {
	Pool       Pool       `json:"pool"`
	Provenance Provenance `json:"provenance"`
	Unpinned   Provenance `json:"unpinned,omitempty"`
}

// Lazy is the body of a specter produced on demand by Operation.
type Lazy struct {
	Operation OpID `json:"operation"`
}

// Body is the closed set of specter variants.
type Body interface {
	Concrete | Lazy
}

// Specter is a content node. Deps holds the operations consuming it.
type Specter[B Body] struct {
	ID   MioID     `json:"id"`
	Ext  EntityExt `json:"ext"`
	Deps []OpID    `json:"deps"`
	Body B         `json:"body"`
}

type (
	Entity  = Specter[Concrete]
	Phantom = Specter[Lazy]
)

// Locatable is the file surface of a specter: <root>/<stem>.<ext>.
type Locatable interface {
	Locate(d Dirs) (string, error)
	Exists(d Dirs) bool
	Read(d Dirs) ([]byte, error)
	ReadAsTemp(d Dirs) (path string, cleanup func(), err error)
	Write(d Dirs, content []byte) error
	Replace(d Dirs, src string) error
	Remove(d Dirs) error
}

// Ringable is the graph surface shared by specters.
type Ringable interface {
	Identifier() MioID
	Consumers() []OpID
}

// Actualizable ensures content exists on disk.
type Actualizable interface {
	Run(ctx context.Context, m *Mio) error
}

// Specterish is the capability object returned by ring lookups.
type Specterish interface {
	Locatable
	Ringable
	Actualizable
	Kind() EntityKind
	Extension() EntityExt
	IsConcrete() bool
}

var (
	_ Specterish = (*Entity)(nil)
	_ Specterish = (*Phantom)(nil)
)

func (s *Specter[B]) Identifier() MioID    { return s.ID }
func (s *Specter[B]) Consumers() []OpID    { return slices.Clone(s.Deps) }
func (s *Specter[B]) Kind() EntityKind     { return s.Ext.Kind() }
func (s *Specter[B]) Extension() EntityExt { return s.Ext }

func (s *Specter[B]) IsConcrete() bool {
	_, ok := any(s.Body).(Concrete)
	return ok
}

// Name is the file name under the specter's root.
func (s *Specter[B]) Name() string { return s.ID.Stem() + "." + string(s.Ext) }

func (s *Specter[B]) root(d Dirs) (storage.Provider, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	if s.IsConcrete() {
		return d.Data, nil
	}
	return d.Cache, nil
}

func (s *Specter[B]) Locate(d Dirs) (string, error) {
	root, err := s.root(d)
	if err != nil {
		return "", err
	}
	return root.Abs(s.Name())
}

func (s *Specter[B]) Exists(d Dirs) bool {
	root, err := s.root(d)
	if err != nil {
		return false
	}
	return root.Exists(s.Name())
}

func (s *Specter[B]) Read(d Dirs) ([]byte, error) {
	root, err := s.root(d)
	if err != nil {
		return nil, err
	}
	return root.Read(s.Name())
}

// ReadAsTemp copies the content into a private temp file the caller may mutate.
func (s *Specter[B]) ReadAsTemp(d Dirs) (string, func(), error) {
	src, err := s.Locate(d)
	if err != nil {
		return "", nil, err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", nil, fmt.Errorf("ring: open %s: %w", s.Name(), err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp("", "mioring-*."+string(s.Ext))
	if err != nil {
		return "", nil, fmt.Errorf("ring: create temp: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("ring: copy to temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("ring: close temp: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

func (s *Specter[B]) Write(d Dirs, content []byte) error {
	root, err := s.root(d)
	if err != nil {
		return err
	}
	return root.Write(s.Name(), content)
}

// Replace atomically copies the external file src into place.
func (s *Specter[B]) Replace(d Dirs, src string) error {
	root, err := s.root(d)
	if err != nil {
		return err
	}
	return root.Import(s.Name(), src)
}

func (s *Specter[B]) Remove(d Dirs) error {
	root, err := s.root(d)
	if err != nil {
		return err
	}
	return root.Delete(s.Name())
}

// Run actualizes the specter. A concrete body is already on disk; a lazy body
// is computed only when its cache file is absent.
func (s *Specter[B]) Run(ctx context.Context, m *Mio) error {
	lazy, ok := any(s.Body).(Lazy)
	if !ok {
		return nil
	}
	if s.Exists(m.dirs) {
		metrics.MemoHits.Inc()
		return nil
	}
	op, ok := m.Ring.Operations[lazy.Operation]
	if !ok {
		err := fmt.Errorf("%w: specter %s produced by unknown operation %s", apperr.ErrCorrupt, s.ID, lazy.Operation)
		m.logger.Error("dangling producer", slog.String("specter", s.ID.Stem()), slog.String("operation", lazy.Operation.Stem()))
		return err
	}
	return op.Run(ctx, m)
}

func (s *Specter[B]) pushDep(id OpID) {
	if !slices.Contains(s.Deps, id) {
		s.Deps = append(s.Deps, id)
	}
}

func (s *Specter[B]) dropDep(id OpID) {
	s.Deps = slices.DeleteFunc(s.Deps, func(d OpID) bool { return d == id })
}

func (s *Specter[B]) clone() *Specter[B] {
	c := *s
	c.Deps = slices.Clone(s.Deps)
	if conc, ok := any(c.Body).(Concrete); ok {
		conc.Pool = conc.Pool.clone()
		c.Body = any(conc).(B)
	}
	return &c
}
