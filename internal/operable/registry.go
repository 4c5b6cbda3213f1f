// Package operable hosts the transformation backends and the registry that
// dispatches ring operations to them.
package operable

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/starford/mioring/internal/apperr"
	"github.com/starford/mioring/internal/ring"
)

// Backend binds one (operation kind, input kind) pair to an implementation.
type Backend struct {
	Kind  ring.OperationKind
	Input ring.EntityKind
	// Schema is a JSON Schema for the attribute payload. Empty accepts anything.
	Schema  string
	Prepare func(attr json.RawMessage) (ring.Operable, error)
}

// Descriptor summarizes a registered backend for clients.
type Descriptor struct {
	Kind       string          `json:"kind"`
	Input      ring.EntityKind `json:"input"`
	Output     ring.EntityKind `json:"output"`
	Capability ring.Capability `json:"capability,omitempty"`
	Schema     json.RawMessage `json:"schema,omitempty"`
}

type key struct {
	kind  ring.OperationKind
	input ring.EntityKind
}

type binding struct {
	backend Backend
	schema  *jsonschema.Schema
}

var _ ring.Dispatcher = (*Registry)(nil)

// Registry implements ring.Dispatcher.
type Registry struct {
	mu       sync.RWMutex
	backends map[key]binding
}

// Option enables an optional capability.
type Option func(*Registry) error

// NewRegistry registers the always-available backends plus whatever opts enable.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{backends: make(map[key]binding)}
	if err := r.Register(passthroughBackend()); err != nil {
		return nil, err
	}
	for _, o := range opts {
		if err := o(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a backend. The pair must be legal in the compatibility table.
func (r *Registry) Register(b Backend) error {
	if _, err := b.Kind.Analyze([]ring.EntityKind{b.Input}); err != nil {
		return fmt.Errorf("operable: register %s: %w", b.Kind, err)
	}
	bind := binding{backend: b}
	if b.Schema != "" {
		compiled, err := compileSchema(b.Kind.String()+"-"+string(b.Input), b.Schema)
		if err != nil {
			return err
		}
		bind.schema = compiled
	}
	r.mu.Lock()
	r.backends[key{b.Kind, b.Input}] = bind
	r.mu.Unlock()
	return nil
}

func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://mioring.local/operations/%s.schema.json", strings.ReplaceAll(name, ":", "-"))
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("operable: schema load %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("operable: schema compile %s: %w", name, err)
	}
	return compiled, nil
}

func (r *Registry) lookup(kind ring.OperationKind, inputs []ring.EntityKind) (binding, error) {
	capability, err := kind.Requires(inputs)
	if err != nil {
		return binding{}, err
	}
	r.mu.RLock()
	b, ok := r.backends[key{kind, inputs[0]}]
	r.mu.RUnlock()
	if !ok {
		return binding{}, fmt.Errorf("%w: %s needs %q", apperr.ErrCapabilityDisabled, kind, capability)
	}
	return b, nil
}

// Validate checks attr against the backend's schema. Missing backends pass.
func (r *Registry) Validate(kind ring.OperationKind, inputs []ring.EntityKind, attr json.RawMessage) error {
	b, err := r.lookup(kind, inputs)
	if err != nil {
		if errors.Is(err, apperr.ErrCapabilityDisabled) {
			return nil
		}
		return err
	}
	if err := b.validate(attr); err != nil {
		return err
	}
	_, err = b.backend.Prepare(attr)
	return err
}

// Prepare validates the operation's attributes and builds its backend.
func (r *Registry) Prepare(op ring.Operation, inputs []ring.EntityKind) (ring.Operable, error) {
	b, err := r.lookup(op.Kind, inputs)
	if err != nil {
		return nil, err
	}
	if err := b.validate(op.Attr); err != nil {
		return nil, err
	}
	return b.backend.Prepare(op.Attr)
}

func (b binding) validate(attr json.RawMessage) error {
	if b.schema == nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal(orEmpty(attr), &doc); err != nil {
		return fmt.Errorf("%w: %s attributes: %v", apperr.ErrInvalid, b.backend.Kind, err)
	}
	if err := b.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s attributes: %v", apperr.ErrInvalid, b.backend.Kind, err)
	}
	return nil
}

// Offered filters the kinds legal on k down to those with a backend.
func (r *Registry) Offered(k ring.EntityKind) []ring.OperationKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ring.OperationKind
	for _, kind := range k.Synthesize() {
		if _, ok := r.backends[key{kind, k}]; ok {
			out = append(out, kind)
		}
	}
	return out
}

// Describe lists every registered backend in a stable order.
func (r *Registry) Describe() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.backends))
	for k, b := range r.backends {
		output, _ := k.kind.Analyze([]ring.EntityKind{k.input})
		capability, _ := k.kind.Requires([]ring.EntityKind{k.input})
		d := Descriptor{Kind: k.kind.String(), Input: k.input, Output: output, Capability: capability}
		if b.backend.Schema != "" {
			d.Schema = json.RawMessage(b.backend.Schema)
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Descriptor) int {
		if c := strings.Compare(string(a.Input), string(b.Input)); c != 0 {
			return c
		}
		return strings.Compare(a.Kind, b.Kind)
	})
	return out
}

// decodeAttr unmarshals attr into T and runs its semantic validation.
func decodeAttr[T any, PT interface {
	*T
	validation.Validatable
}](attr json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(orEmpty(attr), &v); err != nil {
		return v, fmt.Errorf("%w: attributes: %v", apperr.ErrInvalid, err)
	}
	if err := PT(&v).Validate(); err != nil {
		return v, fmt.Errorf("%w: attributes: %v", apperr.ErrInvalid, err)
	}
	return v, nil
}

func orEmpty(attr json.RawMessage) []byte {
	if len(attr) == 0 {
		return []byte("{}")
	}
	return attr
}
