package ring

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/mioring/internal/apperr"
)

// Target names the root of a cascade: a specter or an operation.
type Target struct {
	specter   *MioID
	operation *OpID
}

func SpecterTarget(id MioID) Target { return Target{specter: &id} }

func OperationTarget(id OpID) Target { return Target{operation: &id} }

func (t Target) String() string {
	switch {
	case t.specter != nil:
		return "specter " + t.specter.Stem()
	case t.operation != nil:
		return "operation " + t.operation.Stem()
	}
	return "empty target"
}

// Archived lists the nodes a cascade moved out of the live ring.
type Archived struct {
	MioIDs []MioID `json:"mio_ids"`
	OpIDs  []OpID  `json:"op_ids"`
}

// cascade is the read-only plan of a subtree removal, computed before any
// mutation so that a rejected cascade leaves the graph untouched.
type cascade struct {
	specters []MioID
	ops      []OpID
	seenS    map[MioID]struct{}
	seenO    map[OpID]struct{}
	r        *Ring
}

func plan(r *Ring, t Target) (*cascade, error) {
	c := &cascade{
		seenS: make(map[MioID]struct{}),
		seenO: make(map[OpID]struct{}),
		r:     r,
	}
	switch {
	case t.specter != nil:
		if !r.Contains(*t.specter) {
			return nil, fmt.Errorf("%w: specter %s", apperr.ErrNotFound, *t.specter)
		}
		if err := c.visitSpecter(*t.specter); err != nil {
			return nil, err
		}
	case t.operation != nil:
		if _, ok := r.Operations[*t.operation]; !ok {
			return nil, fmt.Errorf("%w: operation %s", apperr.ErrNotFound, *t.operation)
		}
		if err := c.visitOp(*t.operation); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: empty cascade target", apperr.ErrInvalid)
	}
	return c, nil
}

// visitSpecter takes the specter, its producer and every consumer.
func (c *cascade) visitSpecter(id MioID) error {
	if _, ok := c.seenS[id]; ok {
		return nil
	}
	node, err := c.r.Specterish(id)
	if err != nil {
		return fmt.Errorf("%w: cascade reached missing %s", apperr.ErrCorrupt, id)
	}
	if e, ok := c.r.Entities[id]; ok && e.Body.Provenance == Pinned {
		return fmt.Errorf("%w: entity %s", apperr.ErrPinned, id)
	}
	c.seenS[id] = struct{}{}
	c.specters = append(c.specters, id)

	if producer, ok := c.r.producer(id); ok {
		if err := c.visitOp(producer); err != nil {
			return err
		}
	}
	for _, opID := range node.Consumers() {
		if err := c.visitOp(opID); err != nil {
			return err
		}
	}
	return nil
}

func (c *cascade) visitOp(id OpID) error {
	if _, ok := c.seenO[id]; ok {
		return nil
	}
	op, ok := c.r.Operations[id]
	if !ok {
		return fmt.Errorf("%w: cascade reached missing operation %s", apperr.ErrCorrupt, id)
	}
	c.seenO[id] = struct{}{}
	c.ops = append(c.ops, id)
	return c.visitSpecter(op.Specter)
}

// ordinals lists every ordinal the cascade returns to the allocator,
// including unused private pools, and fails if any of them is not issued.
func (c *cascade) ordinals(m *Mio) ([]uint64, error) {
	var ords []uint64
	for _, id := range c.specters {
		ords = append(ords, id.Ord)
		if e, ok := m.Ring.Entities[id]; ok {
			ords = append(ords, e.Body.Pool.Ords()...)
		}
	}
	for _, id := range c.ops {
		ords = append(ords, id.Ord)
	}
	seen := make(map[uint64]struct{}, len(ords))
	for _, ord := range ords {
		if _, dup := seen[ord]; dup || !m.Alloc.Tracked(ord) {
			return nil, fmt.Errorf("%w: ordinal %d (next %d)", apperr.ErrUntracked, ord, m.Alloc.Ord)
		}
		seen[ord] = struct{}{}
	}
	return ords, nil
}

// detach removes the planned nodes from the live ring and returns them as a
// ring of their own. Chronology entries and dangling consumer edges are
// dropped. Nothing is touched unless every ordinal can be released.
func (c *cascade) detach(m *Mio) (*Ring, error) {
	ords, err := c.ordinals(m)
	if err != nil {
		return nil, err
	}

	out := NewRing()
	for _, id := range c.specters {
		if e, ok := m.Ring.Entities[id]; ok {
			e.Body.Pool = Pool{}
			out.Entities[id] = e
		} else {
			out.Specters[id] = m.Ring.Specters[id]
		}
	}
	for _, id := range c.ops {
		out.Operations[id] = m.Ring.Operations[id]
	}
	for _, ord := range ords {
		m.Alloc.Hill.insert(ord)
	}
	m.Ring.delete(c.specters, c.ops)

	m.Chronology = slices.DeleteFunc(m.Chronology, func(e Ephemerality) bool {
		_, gone := c.seenS[e.Base]
		return gone
	})
	for _, op := range out.Operations {
		for _, b := range op.Base {
			if e, ok := m.Ring.Entities[b]; ok {
				e.dropDep(op.ID)
			} else if s, ok := m.Ring.Specters[b]; ok {
				s.dropDep(op.ID)
			}
		}
	}
	return out, nil
}

func (c *cascade) summary() *Archived {
	return &Archived{MioIDs: slices.Clone(c.specters), OpIDs: slices.Clone(c.ops)}
}

// Archive moves a subtree into the archived ring, where it waits for Purge.
type Archive struct {
	Target Target
}

func (c Archive) Interpret(_ context.Context, m *Mio) (*Archived, error) {
	p, err := plan(m.Ring, c.Target)
	if err != nil {
		return nil, err
	}
	moved, err := p.detach(m)
	if err != nil {
		m.logger.Error("archive: allocator out of sync", slog.String("target", c.Target.String()), slog.String("error", err.Error()))
		return nil, fmt.Errorf("ring: archive %s: %w", c.Target, err)
	}
	m.Archived.Merge(moved)
	m.logger.Info("archived",
		slog.String("target", c.Target.String()),
		slog.Int("specters", len(p.specters)),
		slog.Int("operations", len(p.ops)),
	)
	return p.summary(), nil
}

// Delete removes a subtree permanently, content files included.
type Delete struct {
	Target Target
}

func (c Delete) Interpret(_ context.Context, m *Mio) (*Archived, error) {
	p, err := plan(m.Ring, c.Target)
	if err != nil {
		return nil, err
	}
	removed, err := p.detach(m)
	if err != nil {
		return nil, fmt.Errorf("ring: delete %s: %w", c.Target, err)
	}
	removeFiles(m, removed)
	return p.summary(), nil
}

// Purged lists what Purge discarded.
type Purged struct {
	MioIDs    []MioID `json:"mio_ids"`
	OpIDs     []OpID  `json:"op_ids"`
	Compacted int     `json:"compacted"`
}

// Purge discards everything in the archived ring. Ordinals were already
// returned at archive time; purge only compacts the allocator ceiling.
type Purge struct{}

func (Purge) Interpret(_ context.Context, m *Mio) (*Purged, error) {
	out := &Purged{MioIDs: []MioID{}, OpIDs: []OpID{}}
	removeFiles(m, m.Archived)
	for id := range m.Archived.Entities {
		out.MioIDs = append(out.MioIDs, id)
	}
	for id := range m.Archived.Specters {
		out.MioIDs = append(out.MioIDs, id)
	}
	for id := range m.Archived.Operations {
		out.OpIDs = append(out.OpIDs, id)
	}
	m.Archived = NewRing()
	out.Compacted = m.Alloc.GarbageCollection()
	return out, nil
}

func removeFiles(m *Mio, r *Ring) {
	remove := func(node Locatable, id MioID) {
		if err := node.Remove(m.dirs); err != nil {
			m.logger.Warn("remove content", slog.String("id", id.Stem()), slog.String("error", err.Error()))
		}
	}
	for id, e := range r.Entities {
		remove(e, id)
	}
	for id, s := range r.Specters {
		remove(s, id)
	}
}
