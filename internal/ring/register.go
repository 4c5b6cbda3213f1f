package ring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/mioring/internal/apperr"
)

// Captured is one item produced by a capture backend. Cleanup, when set, is
// called once registration is over; admitted reports whether the item became
// an entity.
type Captured struct {
	Path    string
	Ext     EntityExt
	Cleanup func(admitted bool)
}

// Persistable is a capture backend.
type Persistable interface {
	Persist(ctx context.Context) ([]Captured, error)
}

// Register turns captured files into registered entities, one chronology
// entry each.
type Register struct {
	Source Persistable
}

func (c Register) Interpret(ctx context.Context, m *Mio) ([]MioID, error) {
	items, err := c.Source.Persist(ctx)
	ids := make([]MioID, 0, len(items))
	defer func() {
		for i, it := range items {
			if it.Cleanup != nil {
				it.Cleanup(i < len(ids))
			}
		}
	}()
	if err != nil {
		return nil, fmt.Errorf("ring: capture: %w", err)
	}

	for _, it := range items {
		id, err := m.admit(it)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Mio) admit(it Captured) (MioID, error) {
	if !it.Ext.Valid() {
		return MioID{}, fmt.Errorf("%w: register %s: unknown extension %q", apperr.ErrInvalid, it.Path, it.Ext)
	}
	id := MioID{m.Alloc.Allocate()}
	e := &Entity{
		ID:   id,
		Ext:  it.Ext,
		Body: Concrete{Pool: m.Alloc.AllocatePool(m.poolSize), Provenance: Registered},
	}
	if err := e.Replace(m.dirs, it.Path); err != nil {
		rollback := []error{m.Alloc.Deallocate(id.RingID)}
		for _, ord := range e.Body.Pool.drain() {
			rollback = append(rollback, m.Alloc.release(ord))
		}
		if rerr := errors.Join(rollback...); rerr != nil {
			m.logger.Error("register: rollback", slog.String("error", rerr.Error()))
		}
		return MioID{}, fmt.Errorf("ring: register %s: %w", it.Path, err)
	}
	m.Ring.Entities[id] = e
	m.Chronology = append(m.Chronology, Ephemerality{Time: time.Now().UTC(), Base: id})
	m.logger.Info("registered", slog.String("id", id.Stem()), slog.String("ext", string(it.Ext)))
	return id, nil
}
