package ring

import (
	"fmt"
	"time"

	"github.com/starford/mioring/internal/apperr"
)

// Ephemerality records when a top-level entity was registered.
type Ephemerality struct {
	Time time.Time `json:"time"`
	Base MioID     `json:"base"`
}

// Ring is the three-map graph container. The live working set and the
// archived holding set are both Rings.
type Ring struct {
	Entities   map[MioID]*Entity   `json:"entities"`
	Specters   map[MioID]*Phantom  `json:"specters"`
	Operations map[OpID]*Operation `json:"operations"`
}

func NewRing() *Ring {
	return &Ring{
		Entities:   make(map[MioID]*Entity),
		Specters:   make(map[MioID]*Phantom),
		Operations: make(map[OpID]*Operation),
	}
}

func (r *Ring) ensure() {
	if r.Entities == nil {
		r.Entities = make(map[MioID]*Entity)
	}
	if r.Specters == nil {
		r.Specters = make(map[MioID]*Phantom)
	}
	if r.Operations == nil {
		r.Operations = make(map[OpID]*Operation)
	}
}

// Len counts every node in the ring.
func (r *Ring) Len() int { return len(r.Entities) + len(r.Specters) + len(r.Operations) }

func (r *Ring) IsEmpty() bool { return r.Len() == 0 }

// Contains reports whether id is an entity or phantom of this ring.
func (r *Ring) Contains(id MioID) bool {
	_, e := r.Entities[id]
	_, s := r.Specters[id]
	return e || s
}

// Specterish resolves id to whichever node owns it.
func (r *Ring) Specterish(id MioID) (Specterish, error) {
	if e, ok := r.Entities[id]; ok {
		return e, nil
	}
	if s, ok := r.Specters[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: specter %s", apperr.ErrNotFound, id)
}

// copyFrom copies the node id from src into r, if src holds it.
func (r *Ring) copyFrom(src *Ring, id MioID) bool {
	if e, ok := src.Entities[id]; ok {
		r.Entities[id] = e.clone()
		return true
	}
	if s, ok := src.Specters[id]; ok {
		r.Specters[id] = s.clone()
		return true
	}
	return false
}

// Merge copies every node of other into r, overwriting duplicates.
func (r *Ring) Merge(other *Ring) {
	for id, e := range other.Entities {
		r.Entities[id] = e.clone()
	}
	for id, s := range other.Specters {
		r.Specters[id] = s.clone()
	}
	for id, op := range other.Operations {
		r.Operations[id] = op.clone()
	}
}

func (r *Ring) Clone() *Ring {
	c := NewRing()
	c.Merge(r)
	return c
}

// delete drops ids unconditionally; callers validate the cascade first.
func (r *Ring) delete(ids []MioID, ops []OpID) {
	for _, id := range ids {
		delete(r.Entities, id)
		delete(r.Specters, id)
	}
	for _, id := range ops {
		delete(r.Operations, id)
	}
}

// producer finds the operation whose result is id.
func (r *Ring) producer(id MioID) (OpID, bool) {
	if s, ok := r.Specters[id]; ok {
		if _, live := r.Operations[s.Body.Operation]; live {
			return s.Body.Operation, true
		}
	}
	for opID, op := range r.Operations {
		if op.Specter == id {
			return opID, true
		}
	}
	return OpID{}, false
}
