package ring

import (
	"fmt"

	"github.com/starford/mioring/internal/apperr"
)

// Closure computes the minimal self-consistent sub-ring around ids: every
// consumer of an included specter is included, along with that operation's
// bases and result.
func Closure(m *Mio, ids []MioID) (*Ring, error) {
	out := NewRing()
	required := make(map[MioID]struct{}, len(ids))
	for _, id := range ids {
		required[id] = struct{}{}
	}
	done := make(map[MioID]struct{}, len(ids))

	for len(required) > len(done) {
		var interest []OpID
		for id := range required {
			if _, ok := done[id]; ok {
				continue
			}
			node, err := m.resolve(id)
			if err != nil {
				return nil, err
			}
			out.copyFrom(m.Ring, id)
			done[id] = struct{}{}
			interest = append(interest, node.Consumers()...)
		}
		for _, opID := range interest {
			if _, seen := out.Operations[opID]; seen {
				continue
			}
			op, ok := m.Ring.Operations[opID]
			if !ok {
				return nil, fmt.Errorf("%w: consumer %s is not live", apperr.ErrCorrupt, opID)
			}
			out.Operations[opID] = op.clone()
			for _, b := range op.Base {
				required[b] = struct{}{}
			}
			required[op.Specter] = struct{}{}
		}
	}
	return out, nil
}
