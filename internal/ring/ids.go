// Package ring implements the dependency-graph engine: identity allocation,
// the entity/phantom/operation rings, lazy actualization and the command set
// that mutates or reads them.
package ring

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/starford/mioring/internal/apperr"
)

// RingID is the shared identity of every node. Ord is recyclable; Epoch is the
// wall-clock nanosecond at allocation, so a reused ordinal never yields an
// identical id.
type RingID struct {
	Epoch uint64
	Ord   uint64
}

func newRingID(ord uint64) RingID {
	return RingID{Epoch: uint64(time.Now().UnixNano()), Ord: ord}
}

// Stem is the on-disk file stem: lowercase hex epoch, a dash, decimal ordinal.
func (id RingID) Stem() string {
	return strconv.FormatUint(id.Epoch, 16) + "-" + strconv.FormatUint(id.Ord, 10)
}

func (id RingID) String() string { return id.Stem() }

// Time returns the allocation instant.
func (id RingID) Time() time.Time { return time.Unix(0, int64(id.Epoch)).UTC() }

func (id RingID) MarshalText() ([]byte, error) { return []byte(id.Stem()), nil }

func (id *RingID) UnmarshalText(b []byte) error {
	parsed, err := ParseStem(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseStem is the inverse of Stem.
func ParseStem(s string) (RingID, error) {
	hexEpoch, dec, ok := strings.Cut(s, "-")
	if !ok || hexEpoch == "" || dec == "" {
		return RingID{}, fmt.Errorf("%w: malformed id %q", apperr.ErrInvalid, s)
	}
	epoch, err := strconv.ParseUint(hexEpoch, 16, 64)
	if err != nil {
		return RingID{}, fmt.Errorf("%w: id epoch %q: %v", apperr.ErrInvalid, s, err)
	}
	ord, err := strconv.ParseUint(dec, 10, 64)
	if err != nil {
		return RingID{}, fmt.Errorf("%w: id ordinal %q: %v", apperr.ErrInvalid, s, err)
	}
	return RingID{Epoch: epoch, Ord: ord}, nil
}

// MioID names an entity or phantom.
type MioID struct{ RingID }

// OpID names an operation.
type OpID struct{ RingID }

// ParseMioID parses a specter id from its stem.
func ParseMioID(s string) (MioID, error) {
	id, err := ParseStem(s)
	return MioID{id}, err
}

// ParseOpID parses an operation id from its stem.
func ParseOpID(s string) (OpID, error) {
	id, err := ParseStem(s)
	return OpID{id}, err
}
