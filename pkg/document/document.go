// Package document defines the in-memory record type that flows through the
// run-coordination core: a unique id, an optional run-id, a bag of typed
// multi-valued fields, an append-only error list, and one level of children.
package document

import (
	"sync"

	"github.com/lucilliform/lucilliform/pkg/errors"
)

// UpdateMode controls how update() combines new values with an existing field.
type UpdateMode int

const (
	// Overwrite replaces the field with the first value, then appends the rest.
	Overwrite UpdateMode = iota
	// Append appends all values to whatever the field already holds.
	Append
	// Skip leaves an existing field untouched; if absent, behaves like Append.
	Skip
)

// reserved field names controlled only by the framework.
const (
	FieldID      = "id"
	FieldRunID   = "run_id"
	FieldChildren = "children"
	FieldErrors  = "errors"
)

func isReserved(name string) bool {
	switch name {
	case FieldID, FieldRunID, FieldChildren, FieldErrors:
		return true
	default:
		return false
	}
}

// Document is the unit of work passed between Publisher, Worker, and Indexer.
// It is not safe for concurrent mutation; ownership transfers as the document
// moves through the pipeline, never shared between two owners at once.
type Document struct {
	id       string
	runID    string
	runIDSet bool
	fields   map[string][]Value
	errs     []string
	children []*Document
	released bool
	mu       sync.Mutex
}

// New acquires a Document from the pool and assigns it id. id must be
// non-empty. The returned Document must eventually reach Release, directly
// or via the Indexer's batch teardown, or its backing storage is never
// recycled.
func New(id string) (*Document, error) {
	if id == "" {
		return nil, errors.New(errors.ContractViolation, "document id must not be empty")
	}
	d := docPool.Get()
	d.released = false
	d.id = id
	return d, nil
}

// NewWithRunID creates a Document with id and run_id set in one step.
func NewWithRunID(id, runID string) (*Document, error) {
	doc, err := New(id)
	if err != nil {
		return nil, err
	}
	if err := doc.SetRunID(runID); err != nil {
		return nil, err
	}
	return doc, nil
}

// ID returns the document's immutable identity.
func (d *Document) ID() string { return d.id }

// RunID returns the run-id, or "" if unset.
func (d *Document) RunID() string { return d.runID }

// SetRunID initializes run_id exactly once. A second call is a contract
// violation regardless of whether the new value matches the old one.
func (d *Document) SetRunID(runID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runIDSet {
		return errors.New(errors.ContractViolation, "run_id already initialized for document "+d.id)
	}
	d.runID = runID
	d.runIDSet = true
	return nil
}

// Has reports whether name carries any values, including explicit nulls.
func (d *Document) Has(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.fields[name]
	return ok
}

// HasNonNull reports whether name carries at least one value.
func (d *Document) HasNonNull(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	vals, ok := d.fields[name]
	return ok && len(vals) > 0
}

// Get returns the raw value slice for name, or nil if absent. The returned
// slice must not be mutated by the caller.
func (d *Document) Get(name string) []Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fields[name]
}

// GetFirst returns the first value for name and whether it was present.
func (d *Document) GetFirst(name string) (Value, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	vals, ok := d.fields[name]
	if !ok || len(vals) == 0 {
		return Value{}, false
	}
	return vals[0], true
}

// Set overwrites name with a single scalar value. Fails on a reserved name.
func (d *Document) Set(name string, v Value) error {
	if isReserved(name) {
		return errors.New(errors.ContractViolation, "cannot set reserved field "+name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fields[name] = []Value{v}
	return nil
}

// SetOrAdd sets name if absent, otherwise appends v and upgrades the field to
// multi-valued. Repeated calls are associative: the field ends up holding the
// sequence of values in insertion order.
func (d *Document) SetOrAdd(name string, v Value) error {
	if isReserved(name) {
		return errors.New(errors.ContractViolation, "cannot set reserved field "+name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fields[name] = append(d.fields[name], v)
	return nil
}

// Update combines values into name according to mode. OVERWRITE replaces the
// field with values[0] then appends the remainder; APPEND appends all
// values; SKIP leaves an existing field untouched and otherwise behaves like
// APPEND.
func (d *Document) Update(name string, mode UpdateMode, values ...Value) error {
	if isReserved(name) {
		return errors.New(errors.ContractViolation, "cannot update reserved field "+name)
	}
	if len(values) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, present := d.fields[name]

	switch mode {
	case Skip:
		if present && len(existing) > 0 {
			return nil
		}
		d.fields[name] = append(existing, values...)
	case Overwrite:
		d.fields[name] = append([]Value{values[0]}, values[1:]...)
	case Append:
		d.fields[name] = append(existing, values...)
	}
	return nil
}

// Rename moves the field old to new, combining with any existing new-field
// values per mode. old is removed. A no-op if old is absent.
func (d *Document) Rename(oldName, newName string, mode UpdateMode) error {
	if isReserved(oldName) || isReserved(newName) {
		return errors.New(errors.ContractViolation, "cannot rename reserved field")
	}
	d.mu.Lock()
	values, ok := d.fields[oldName]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	if err := d.Update(newName, mode, values...); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.fields, oldName)
	d.mu.Unlock()
	return nil
}

// RemoveDuplicateValues collapses duplicate values in field, preserving
// first-occurrence order. If target is non-empty the deduplicated result is
// written there instead of back into field. Idempotent.
func (d *Document) RemoveDuplicateValues(field string, target string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	values, ok := d.fields[field]
	if !ok {
		return nil
	}

	deduped := make([]Value, 0, len(values))
	for _, v := range values {
		dup := false
		for _, seen := range deduped {
			if seen.Equal(v) {
				dup = true
				break
			}
		}
		if !dup {
			deduped = append(deduped, v)
		}
	}

	dest := field
	if target != "" {
		if isReserved(target) {
			return errors.New(errors.ContractViolation, "cannot write reserved field "+target)
		}
		dest = target
	}
	d.fields[dest] = deduped
	return nil
}

// AddError appends a message to the document's append-only error list.
func (d *Document) AddError(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, message)
}

// Errors returns the document's accumulated error messages.
func (d *Document) Errors() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.errs))
	copy(out, d.errs)
	return out
}

// AddChild appends a child document. Grandchildren are not supported: child
// must itself have no children.
func (d *Document) AddChild(child *Document) error {
	if child == nil {
		return errors.New(errors.ContractViolation, "cannot add nil child")
	}
	if len(child.Children()) > 0 {
		return errors.New(errors.ContractViolation, "children must be one level deep: "+child.id+" already has children")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.children = append(d.children, child)
	return nil
}

// Children returns the document's direct children.
func (d *Document) Children() []*Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Document, len(d.children))
	copy(out, d.children)
	return out
}

// FieldNames returns the set of user-facing field names currently present.
func (d *Document) FieldNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.fields))
	for n := range d.fields {
		names = append(names, n)
	}
	return names
}

// Clone returns a deep copy of d, including children, with the same id and
// run-id state.
func (d *Document) Clone() *Document {
	d.mu.Lock()
	defer d.mu.Unlock()

	fields := make(map[string][]Value, len(d.fields))
	for name, values := range d.fields {
		cp := make([]Value, len(values))
		copy(cp, values)
		fields[name] = cp
	}

	children := make([]*Document, len(d.children))
	for i, c := range d.children {
		children[i] = c.Clone()
	}

	clone := docPool.Get()
	clone.released = false
	clone.id = d.id
	clone.runID = d.runID
	clone.runIDSet = d.runIDSet
	clone.fields = fields
	clone.errs = append([]string(nil), d.errs...)
	clone.children = children
	return clone
}
