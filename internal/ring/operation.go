package ring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/starford/mioring/internal/apperr"
	"github.com/starford/mioring/internal/metrics"
)

// Operation links ordered base specters to the single specter it produces.
// Attr is the backend's parameter payload, validated when dispatched.
type Operation struct {
	ID      OpID            `json:"id"`
	Kind    OperationKind   `json:"kind"`
	Attr    json.RawMessage `json:"attr,omitempty"`
	Base    []MioID         `json:"base"`
	Specter MioID           `json:"specter"`
}

// Operable is a prepared transformation backend.
type Operable interface {
	Kind() OperationKind
	// Execute reads the materialized base files in order and returns the result bytes.
	Execute(ctx context.Context, sources []string) ([]byte, error)
}

// Dispatcher routes an operation to its backend.
type Dispatcher interface {
	// Validate checks attr before an operation is recorded. A missing backend
	// is not an error here; it surfaces when the operation is forced.
	Validate(kind OperationKind, inputs []EntityKind, attr json.RawMessage) error
	Prepare(op Operation, inputs []EntityKind) (Operable, error)
}

// Run materializes the operation's result: bases first, then the backend.
func (op *Operation) Run(ctx context.Context, m *Mio) error {
	bases := make([]Specterish, 0, len(op.Base))
	kinds := make([]EntityKind, 0, len(op.Base))
	for _, id := range op.Base {
		node, err := m.resolve(id)
		if err != nil {
			return fmt.Errorf("ring: operation %s: %w", op.ID, err)
		}
		bases = append(bases, node)
		kinds = append(kinds, node.Kind())
	}
	if _, err := op.Kind.Analyze(kinds); err != nil {
		return fmt.Errorf("ring: operation %s: %w", op.ID, err)
	}

	for _, node := range bases {
		if err := node.Run(ctx, m); err != nil {
			return err
		}
	}

	target, err := m.resolve(op.Specter)
	if err != nil {
		return fmt.Errorf("ring: operation %s result: %w", op.ID, err)
	}
	if target.IsConcrete() {
		return nil
	}

	if m.dispatcher == nil {
		return fmt.Errorf("%w: no operation backends configured", apperr.ErrCapabilityDisabled)
	}
	impl, err := m.dispatcher.Prepare(*op, kinds)
	if err != nil {
		return fmt.Errorf("ring: prepare %s: %w", op.Kind, err)
	}

	sources := make([]string, 0, len(bases))
	for _, node := range bases {
		path, err := node.Locate(m.dirs)
		if err != nil {
			return err
		}
		sources = append(sources, path)
	}

	start := time.Now()
	out, err := impl.Execute(ctx, sources)
	metrics.ObserveActualization(op.Kind.String(), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("ring: execute %s: %w", op.Kind, err)
	}
	if err := target.Write(m.dirs, out); err != nil {
		return fmt.Errorf("ring: write result %s: %w", op.Specter, err)
	}
	m.logger.Debug("actualized",
		slog.String("operation", op.ID.Stem()),
		slog.String("kind", op.Kind.String()),
		slog.String("specter", op.Specter.Stem()),
	)
	return nil
}

func (op *Operation) clone() *Operation {
	c := *op
	c.Base = slices.Clone(op.Base)
	c.Attr = slices.Clone(op.Attr)
	return &c
}
