package ring

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/starford/mioring/internal/apperr"
)

// DefaultPoolSize is how many ordinals a registered entity reserves for its descendants.
const DefaultPoolSize = 2

// Mio is the aggregate root: allocator, chronology, live and archived rings.
// It is not safe for concurrent use.
type Mio struct {
	Alloc      Alloc          `json:"alloc"`
	Null       MioID          `json:"null"`
	Chronology []Ephemerality `json:"chronology"`
	Ring       *Ring          `json:"ring"`
	Archived   *Ring          `json:"archived"`

	dirs       Dirs
	dispatcher Dispatcher
	logger     *slog.Logger
	poolSize   int
}

// Option configures runtime collaborators of a Mio.
type Option func(*Mio)

func WithDirs(d Dirs) Option { return func(m *Mio) { m.dirs = d } }

func WithDispatcher(d Dispatcher) Option { return func(m *Mio) { m.dispatcher = d } }

func WithLogger(l *slog.Logger) Option { return func(m *Mio) { m.logger = l } }

func WithPoolSize(n int) Option { return func(m *Mio) { m.poolSize = n } }

// New creates fresh state. The null id takes the first ordinal.
func New(opts ...Option) *Mio {
	m := &Mio{
		Ring:     NewRing(),
		Archived: NewRing(),
	}
	m.apply(opts)
	m.Null = MioID{m.Alloc.Allocate()}
	return m
}

// Decode restores an aggregate from its serialized document and checks that
// every edge resolves.
func Decode(data []byte, opts ...Option) (*Mio, error) {
	m := &Mio{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: decode index: %v", apperr.ErrCorrupt, err)
	}
	if m.Ring == nil {
		m.Ring = NewRing()
	}
	if m.Archived == nil {
		m.Archived = NewRing()
	}
	m.Ring.ensure()
	m.Archived.ensure()
	m.apply(opts)
	if err := m.Check(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mio) apply(opts []Option) {
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.poolSize <= 0 {
		m.poolSize = DefaultPoolSize
	}
}

// Encode serializes the persistent part of the aggregate.
func (m *Mio) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("ring: encode index: %w", err)
	}
	return data, nil
}

func (m *Mio) Dirs() Dirs { return m.dirs }

func (m *Mio) Logger() *slog.Logger { return m.logger }

// Lookup resolves a caller-supplied id in the live ring.
func (m *Mio) Lookup(id MioID) (Specterish, error) {
	return m.Ring.Specterish(id)
}

// resolve looks up an id the graph itself refers to; absence means corruption.
func (m *Mio) resolve(id MioID) (Specterish, error) {
	node, err := m.Ring.Specterish(id)
	if err != nil {
		m.logger.Error("dangling reference", slog.String("id", id.Stem()))
		return nil, fmt.Errorf("%w: dangling reference %s", apperr.ErrCorrupt, id)
	}
	return node, nil
}

// allocateNear prefers the private pool of base when it is a concrete entity.
func (m *Mio) allocateNear(base MioID) RingID {
	if e, ok := m.Ring.Entities[base]; ok {
		if id, ok := e.Body.Pool.Allocate(); ok {
			return id
		}
	}
	return m.Alloc.Allocate()
}

// Check verifies the structural invariants of both rings.
func (m *Mio) Check() error {
	for id := range m.Ring.Entities {
		if _, dup := m.Ring.Specters[id]; dup {
			return fmt.Errorf("%w: %s is both entity and specter", apperr.ErrCorrupt, id)
		}
	}
	for id := range m.Ring.Operations {
		if _, dup := m.Archived.Operations[id]; dup {
			return fmt.Errorf("%w: operation %s in both rings", apperr.ErrCorrupt, id)
		}
	}
	for id, op := range m.Ring.Operations {
		for _, b := range op.Base {
			if !m.Ring.Contains(b) {
				return fmt.Errorf("%w: operation %s reads missing %s", apperr.ErrCorrupt, id, b)
			}
		}
		if !m.Ring.Contains(op.Specter) {
			return fmt.Errorf("%w: operation %s yields missing %s", apperr.ErrCorrupt, id, op.Specter)
		}
	}
	for id, e := range m.Ring.Entities {
		if err := m.checkDeps(id, e.Deps); err != nil {
			return err
		}
	}
	for id, s := range m.Ring.Specters {
		if err := m.checkDeps(id, s.Deps); err != nil {
			return err
		}
		if _, ok := m.Ring.Operations[s.Body.Operation]; !ok {
			return fmt.Errorf("%w: specter %s has no live producer", apperr.ErrCorrupt, id)
		}
	}
	for _, eph := range m.Chronology {
		if !m.Ring.Contains(eph.Base) {
			return fmt.Errorf("%w: chronology refers to missing %s", apperr.ErrCorrupt, eph.Base)
		}
	}
	return nil
}

func (m *Mio) checkDeps(id MioID, deps []OpID) error {
	for _, d := range deps {
		if _, ok := m.Ring.Operations[d]; !ok {
			return fmt.Errorf("%w: %s consumed by missing operation %s", apperr.ErrCorrupt, id, d)
		}
	}
	return nil
}
