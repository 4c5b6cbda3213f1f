package ring

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/starford/mioring/internal/apperr"
)

// Pool is an ordered set of free ordinals. The smallest ordinal is handed out first.
type Pool struct {
	ords []uint64 // sorted, unique
}

// NewPool builds a pool from arbitrary ordinals.
func NewPool(ords ...uint64) Pool {
	var p Pool
	for _, o := range ords {
		p.insert(o)
	}
	return p
}

func (p *Pool) Len() int { return len(p.ords) }

// Ords returns a copy of the pooled ordinals in ascending order.
func (p *Pool) Ords() []uint64 { return slices.Clone(p.ords) }

func (p *Pool) Contains(ord uint64) bool {
	_, found := slices.BinarySearch(p.ords, ord)
	return found
}

func (p *Pool) insert(ord uint64) bool {
	i, found := slices.BinarySearch(p.ords, ord)
	if found {
		return false
	}
	p.ords = slices.Insert(p.ords, i, ord)
	return true
}

func (p *Pool) remove(ord uint64) bool {
	i, found := slices.BinarySearch(p.ords, ord)
	if !found {
		return false
	}
	p.ords = slices.Delete(p.ords, i, i+1)
	return true
}

func (p *Pool) pop() (uint64, bool) {
	if len(p.ords) == 0 {
		return 0, false
	}
	ord := p.ords[0]
	p.ords = p.ords[1:]
	return ord, true
}

// Allocate takes the smallest pooled ordinal and stamps it with the current epoch.
func (p *Pool) Allocate() (RingID, bool) {
	ord, ok := p.pop()
	if !ok {
		return RingID{}, false
	}
	return newRingID(ord), true
}

func (p *Pool) drain() []uint64 {
	out := p.ords
	p.ords = nil
	return out
}

func (p Pool) clone() Pool { return Pool{ords: slices.Clone(p.ords)} }

func (p Pool) MarshalJSON() ([]byte, error) {
	if p.ords == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.ords)
}

func (p *Pool) UnmarshalJSON(b []byte) error {
	var ords []uint64
	if err := json.Unmarshal(b, &ords); err != nil {
		return err
	}
	*p = NewPool(ords...)
	return nil
}

// Alloc hands out ordinals. Ord is the next never-issued ordinal; Hill holds
// returned ordinals below Ord awaiting reuse.
type Alloc struct {
	Ord  uint64 `json:"ord"`
	Hill Pool   `json:"hill"`
}

func (a *Alloc) allocateOrd() uint64 {
	if ord, ok := a.Hill.pop(); ok {
		return ord
	}
	ord := a.Ord
	a.Ord++
	return ord
}

// Allocate returns a fresh id, preferring recycled ordinals.
func (a *Alloc) Allocate() RingID {
	return newRingID(a.allocateOrd())
}

// AllocatePool reserves n ordinals as a private pool.
func (a *Alloc) AllocatePool(n int) Pool {
	var p Pool
	for range n {
		p.insert(a.allocateOrd())
	}
	return p
}

// Tracked reports whether ord is currently issued, i.e. may be deallocated.
func (a *Alloc) Tracked(ord uint64) bool {
	return ord < a.Ord && !a.Hill.Contains(ord)
}

// Deallocate returns an id's ordinal to the hill.
func (a *Alloc) Deallocate(id RingID) error {
	return a.release(id.Ord)
}

func (a *Alloc) release(ord uint64) error {
	if !a.Tracked(ord) {
		return fmt.Errorf("%w: ordinal %d (next %d)", apperr.ErrUntracked, ord, a.Ord)
	}
	a.Hill.insert(ord)
	return nil
}

// GarbageCollection shrinks Ord while its predecessor sits in the hill and
// returns how many ordinals were compacted.
func (a *Alloc) GarbageCollection() int {
	n := 0
	for a.Ord > 0 && a.Hill.remove(a.Ord-1) {
		a.Ord--
		n++
	}
	return n
}
