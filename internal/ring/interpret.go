package ring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/starford/mioring/internal/apperr"
	"github.com/starford/mioring/internal/metrics"
)

// Interpretable is a command or query evaluated against the aggregate.
type Interpretable[T any] interface {
	Interpret(ctx context.Context, m *Mio) (T, error)
}

// Interpret evaluates cmd against m and records its outcome.
func Interpret[T any](ctx context.Context, m *Mio, cmd Interpretable[T]) (T, error) {
	name := reflect.TypeOf(cmd).Name()
	start := time.Now()
	out, err := cmd.Interpret(ctx, m)
	metrics.ObserveCommand(name, time.Since(start), err)
	return out, err
}

// Initiate records a pending transformation over Base. Nothing is computed.
type Initiate struct {
	Kind OperationKind
	Attr json.RawMessage
	Base []MioID
}

// Interpret returns the incremental ring: the bases as they were, the new
// phantom and the new operation.
func (c Initiate) Interpret(_ context.Context, m *Mio) (*Ring, error) {
	if len(c.Base) == 0 {
		return nil, fmt.Errorf("%w: initiate needs at least one base", apperr.ErrInvalid)
	}
	delta := NewRing()
	kinds := make([]EntityKind, 0, len(c.Base))
	for _, id := range c.Base {
		node, err := m.Lookup(id)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, node.Kind())
		delta.copyFrom(m.Ring, id)
	}
	result, err := c.Kind.Analyze(kinds)
	if err != nil {
		return nil, err
	}
	if m.dispatcher != nil {
		if err := m.dispatcher.Validate(c.Kind, kinds, c.Attr); err != nil {
			return nil, err
		}
	}

	opID := OpID{m.allocateNear(c.Base[0])}
	spID := MioID{m.allocateNear(c.Base[0])}
	phantom := &Phantom{
		ID:   spID,
		Ext:  ExtHint(result),
		Body: Lazy{Operation: opID},
	}
	op := &Operation{
		ID:      opID,
		Kind:    c.Kind,
		Attr:    slices.Clone(c.Attr),
		Base:    slices.Clone(c.Base),
		Specter: spID,
	}
	for _, id := range c.Base {
		if e, ok := m.Ring.Entities[id]; ok {
			e.pushDep(opID)
		} else {
			m.Ring.Specters[id].pushDep(opID)
		}
	}
	m.Ring.Specters[spID] = phantom
	m.Ring.Operations[opID] = op

	delta.Specters[spID] = phantom.clone()
	delta.Operations[opID] = op.clone()
	return delta, nil
}

// Actualized names where a forced specter's content lives.
type Actualized struct {
	ID   MioID  `json:"id"`
	Path string `json:"path"`
}

// Force actualizes each id in order. Completed work is kept on failure.
type Force struct {
	IDs []MioID
}

func (c Force) Interpret(ctx context.Context, m *Mio) ([]Actualized, error) {
	out := make([]Actualized, 0, len(c.IDs))
	for _, id := range c.IDs {
		node, err := m.Lookup(id)
		if err != nil {
			return out, err
		}
		if err := node.Run(ctx, m); err != nil {
			return out, err
		}
		path, err := node.Locate(m.dirs)
		if err != nil {
			return out, err
		}
		out = append(out, Actualized{ID: id, Path: path})
	}
	return out, nil
}

// ViewGen selects a slice of the chronology.
type ViewGen interface {
	window(n int) (lo, hi int, ok bool)
}

// ViewAll selects the whole chronology.
type ViewAll struct{}

func (ViewAll) window(n int) (int, int, bool) { return 0, n - 1, n > 0 }

// ViewAnchor selects Former entries before and Latter entries after Anchor.
type ViewAnchor struct {
	Former int
	Anchor int
	Latter int
}

func (v ViewAnchor) window(n int) (int, int, bool) {
	if n == 0 || v.Anchor < 0 || v.Anchor >= n {
		return 0, 0, false
	}
	lo := max(0, v.Anchor-max(0, v.Former))
	hi := min(n-1, v.Anchor+max(0, v.Latter))
	return lo, hi, true
}

// Snapshot is a read-only view: a chronology slice and its closure.
type Snapshot struct {
	Chronology []Ephemerality `json:"chronology"`
	Ring       *Ring          `json:"ring"`
}

type View struct {
	Gen ViewGen
}

func (c View) Interpret(_ context.Context, m *Mio) (*Snapshot, error) {
	gen := c.Gen
	if gen == nil {
		gen = ViewAll{}
	}
	snap := &Snapshot{Chronology: []Ephemerality{}, Ring: NewRing()}
	lo, hi, ok := gen.window(len(m.Chronology))
	if !ok {
		return snap, nil
	}
	snap.Chronology = slices.Clone(m.Chronology[lo : hi+1])
	ids := make([]MioID, 0, len(snap.Chronology))
	for _, e := range snap.Chronology {
		ids = append(ids, e.Base)
	}
	r, err := Closure(m, ids)
	if err != nil {
		return nil, err
	}
	snap.Ring = r
	return snap, nil
}

// Elevate promotes an actualized phantom to an induced entity, moving its
// content from the cache into the data directory.
type Elevate struct {
	ID MioID
}

func (c Elevate) Interpret(_ context.Context, m *Mio) (*Ring, error) {
	p, ok := m.Ring.Specters[c.ID]
	if !ok {
		if _, isEntity := m.Ring.Entities[c.ID]; isEntity {
			return nil, fmt.Errorf("%w: %s is already concrete", apperr.ErrInvalid, c.ID)
		}
		return nil, fmt.Errorf("%w: specter %s", apperr.ErrNotFound, c.ID)
	}
	if !p.Exists(m.dirs) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotActualized, c.ID)
	}
	e := &Entity{
		ID:   p.ID,
		Ext:  p.Ext,
		Deps: slices.Clone(p.Deps),
		Body: Concrete{Provenance: Induced},
	}
	src, err := p.Locate(m.dirs)
	if err != nil {
		return nil, err
	}
	if err := e.Replace(m.dirs, src); err != nil {
		return nil, fmt.Errorf("ring: elevate %s: %w", c.ID, err)
	}
	delete(m.Ring.Specters, c.ID)
	m.Ring.Entities[c.ID] = e
	if err := p.Remove(m.dirs); err != nil {
		m.logger.Warn("elevate: stale cache file left behind", slog.String("id", c.ID.Stem()), slog.String("error", err.Error()))
	}

	delta := NewRing()
	delta.Entities[c.ID] = e.clone()
	return delta, nil
}

// Pin protects an entity from archival.
type Pin struct {
	ID MioID
}

func (c Pin) Interpret(_ context.Context, m *Mio) (*Ring, error) {
	e, err := concrete(m, c.ID)
	if err != nil {
		return nil, err
	}
	if e.Body.Provenance != Pinned {
		e.Body.Unpinned = e.Body.Provenance
	}
	return setProvenance(e, Pinned), nil
}

// Unpin releases a pinned entity back to the provenance it had before.
type Unpin struct {
	ID MioID
}

func (c Unpin) Interpret(_ context.Context, m *Mio) (*Ring, error) {
	e, err := concrete(m, c.ID)
	if err != nil {
		return nil, err
	}
	if e.Body.Provenance != Pinned {
		return nil, fmt.Errorf("%w: %s is not pinned", apperr.ErrInvalid, c.ID)
	}
	prior := e.Body.Unpinned
	if prior == "" {
		prior = Registered
	}
	e.Body.Unpinned = ""
	return setProvenance(e, prior), nil
}

func concrete(m *Mio, id MioID) (*Entity, error) {
	e, ok := m.Ring.Entities[id]
	if !ok {
		if _, lazy := m.Ring.Specters[id]; lazy {
			return nil, fmt.Errorf("%w: %s is not concrete", apperr.ErrInvalid, id)
		}
		return nil, fmt.Errorf("%w: entity %s", apperr.ErrNotFound, id)
	}
	return e, nil
}

func setProvenance(e *Entity, p Provenance) *Ring {
	e.Body.Provenance = p
	delta := NewRing()
	delta.Entities[e.ID] = e.clone()
	return delta
}
