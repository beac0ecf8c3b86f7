// Package shadow implements the shadow overlay stack: ordered
// attribute/method interception layered on top of a registry.Object,
// resolved highest-priority-first.
package shadow

import (
	"fmt"
	"sort"
	"sync"

	"github.com/emberwood/driver/internal/registry"
)

// AttributeGetter is implemented by a shadow that wants to intercept a
// property read or method call named by Has/Get. Shadows that don't define
// an attribute simply omit it from Has, falling through to the next shadow
// or the target itself.
type AttributeGetter interface {
	Has(name string) bool
	Get(name string) (any, error)
}

// Lifecycle hooks a shadow may optionally implement.
type OnAttacher interface {
	OnAttach(target *registry.Object)
}

type OnDetacher interface {
	OnDetach(target *registry.Object)
}

// Shadow is one overlay entry.
type Shadow struct {
	ID       string
	Type     string
	Priority int
	Active   bool
	Impl     AttributeGetter

	target *registry.Object
}

// Registry tracks the per-target shadow stacks for every shadowed object in
// the world. Like registry.Registry, it's an explicitly constructed
// service, not a package singleton.
type Registry struct {
	mu     sync.Mutex
	stacks map[*registry.Object][]*Shadow
}

// New returns an empty shadow Registry.
func New() *Registry {
	return &Registry{stacks: make(map[*registry.Object][]*Shadow)}
}

// AddShadow attaches s to target. It fails if target already has a shadow
// with the same ID. The stack is kept sorted by priority descending, with
// equal-priority shadows retaining insertion order (a stable sort on each
// insertion achieves this).
func (r *Registry) AddShadow(target *registry.Object, s *Shadow) error {
	r.mu.Lock()
	stack := r.stacks[target]
	for _, existing := range stack {
		if existing.ID == s.ID {
			r.mu.Unlock()
			return fmt.Errorf("shadow: id %q already attached to this target", s.ID)
		}
	}
	s.target = target
	stack = append(stack, s)
	sort.SliceStable(stack, func(i, j int) bool { return stack[i].Priority > stack[j].Priority })
	r.stacks[target] = stack
	r.mu.Unlock()

	if hook, ok := s.Impl.(OnAttacher); ok {
		hook.OnAttach(target)
	}
	return nil
}

// RemoveShadow detaches the shadow identified by id from target, invoking
// its OnDetach hook if it has one. Removing an unknown id is a no-op.
func (r *Registry) RemoveShadow(target *registry.Object, id string) {
	r.mu.Lock()
	stack := r.stacks[target]
	var removed *Shadow
	out := stack[:0]
	for _, s := range stack {
		if s.ID == id {
			removed = s
			continue
		}
		out = append(out, s)
	}
	r.stacks[target] = out
	r.mu.Unlock()

	if removed != nil {
		if hook, ok := removed.Impl.(OnDetacher); ok {
			hook.OnDetach(target)
		}
	}
}

// ClearShadows detaches every shadow on target, invoking OnDetach hooks in
// stack order (highest priority first).
func (r *Registry) ClearShadows(target *registry.Object) {
	r.mu.Lock()
	stack := r.stacks[target]
	delete(r.stacks, target)
	r.mu.Unlock()

	for _, s := range stack {
		if hook, ok := s.Impl.(OnDetacher); ok {
			hook.OnDetach(target)
		}
	}
}

// Sweep is called when target is destroyed: it clears target's own shadow
// stack. Shadow→target is a non-owning pointer, so this is the only cleanup
// needed to avoid leaking the stack entry.
func (r *Registry) Sweep(target *registry.Object) {
	r.ClearShadows(target)
}

// FindShadow returns the highest-priority active shadow of shadowType
// attached to target, if any.
func (r *Registry) FindShadow(target *registry.Object, shadowType string) (*Shadow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stacks[target] {
		if s.Active && s.Type == shadowType {
			return s, true
		}
	}
	return nil, false
}

// Resolve walks target's shadow stack from highest to lowest priority,
// skipping inactive shadows, and returns the value from the first shadow
// that defines name. found is false if no shadow defines it, in which case
// the caller should fall through to the target itself.
func (r *Registry) Resolve(target *registry.Object, name string) (value any, found bool, err error) {
	r.mu.Lock()
	stack := append([]*Shadow(nil), r.stacks[target]...)
	r.mu.Unlock()

	for _, s := range stack {
		if !s.Active {
			continue
		}
		if s.Impl != nil && s.Impl.Has(name) {
			v, getErr := s.Impl.Get(name)
			return v, true, getErr
		}
	}
	return nil, false, nil
}

// GetShadows returns target's shadow stack, highest priority first. The
// returned slice is a copy; mutating it does not affect the registry.
func (r *Registry) GetShadows(target *registry.Object) []*Shadow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Shadow(nil), r.stacks[target]...)
}

// HasShadows reports whether target has any shadow attached.
func (r *Registry) HasShadows(target *registry.Object) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stacks[target]) > 0
}

// ShadowStats summarizes the shadow registry's overall load.
type ShadowStats struct {
	TargetsShadowed int
	TotalShadows    int
}

// GetShadowStats reports how many distinct objects carry shadows and how
// many shadow entries exist across all of them.
func (r *Registry) GetShadowStats() ShadowStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := ShadowStats{TargetsShadowed: len(r.stacks)}
	for _, stack := range r.stacks {
		stats.TotalShadows += len(stack)
	}
	return stats
}

// GetOriginalObject always returns the untouched target, bypassing any
// shadow — used when a shadow implementation itself needs to read beneath
// its own interception.
func GetOriginalObject(target *registry.Object) *registry.Object {
	return target
}

// WrappedObject is a proxy view returned to user code instead of the raw
// target, so content scripts resolve attributes through the shadow stack
// rather than reaching past it.
type WrappedObject struct {
	registry *Registry
	target   *registry.Object
}

// WrapShadowedObject returns a proxy view of target suitable for handing to
// user script code.
func WrapShadowedObject(r *Registry, target *registry.Object) *WrappedObject {
	return &WrappedObject{registry: r, target: target}
}

// WrapShadowedObjects wraps every element of targets.
func WrapShadowedObjects(r *Registry, targets []*registry.Object) []*WrappedObject {
	out := make([]*WrappedObject, len(targets))
	for i, t := range targets {
		out[i] = WrapShadowedObject(r, t)
	}
	return out
}

// Target returns the wrapped object's underlying registry.Object.
func (w *WrappedObject) Target() *registry.Object { return w.target }

// Get resolves name through the shadow stack, falling through to the
// target's own property bag if no shadow defines it.
func (w *WrappedObject) Get(name string) (any, error) {
	if v, found, err := w.registry.Resolve(w.target, name); found {
		return v, err
	}
	v, _ := w.target.GetProperty(name)
	return v, nil
}
