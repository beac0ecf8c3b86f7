// Package registry is the object/blueprint registry and clone lifecycle:
// it is the single source of truth for every live object in the world,
// keyed by blueprint path or clone id.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ActionHandler is a verb handler installed in an object's action table.
// It returns whether it handled the command.
type ActionHandler func(caller *Object, verb string, args string) (bool, error)

// Action pairs a handler with its dispatch priority.
type Action struct {
	Priority int
	Handler  ActionHandler
}

// Constructor builds a fresh Object instance for a blueprint or one of its
// clones. It is re-run, not copied, so a hot update can change its behavior
// for every future clone while leaving existing clones' state untouched.
type Constructor func(obj *Object)

// Object is the fundamental world entity.
type Object struct {
	mu sync.Mutex

	blueprintPath string
	objectID      string
	isBlueprint   bool
	destructed    bool

	ShortDesc string
	LongDesc  string
	Ids       []string

	inventory   []*Object
	environment *Object

	Actions    map[string]Action
	Properties map[string]any
}

// NewObject constructs a bare Object, for use as the initial blueprint
// instance passed to RegisterBlueprint. Most callers only ever see objects
// produced by Clone; this is the one entry point for building the
// blueprint's own instance.
func NewObject(blueprintPath, objectID string, isBlueprint bool) *Object {
	return newObject(blueprintPath, objectID, isBlueprint)
}

func newObject(blueprintPath, objectID string, isBlueprint bool) *Object {
	return &Object{
		blueprintPath: blueprintPath,
		objectID:      objectID,
		isBlueprint:   isBlueprint,
		Ids:           nil,
		Actions:       make(map[string]Action),
		Properties:    make(map[string]any),
	}
}

// BlueprintPath returns the logical path this object (or its blueprint) was
// loaded from.
func (o *Object) BlueprintPath() string { return o.blueprintPath }

// ObjectID returns the blueprint path itself for blueprints, or "path#N" for
// clones.
func (o *Object) ObjectID() string { return o.objectID }

// IsBlueprint reports whether this object is the canonical blueprint
// instance rather than a clone.
func (o *Object) IsBlueprint() bool { return o.isBlueprint }

// Destructed reports whether Destroy has already been called on this object.
func (o *Object) Destructed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.destructed
}

// Environment returns the object currently containing this one, or nil.
func (o *Object) Environment() *Object {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.environment
}

// Inventory returns a snapshot of the objects directly contained by this
// one, in insertion order.
func (o *Object) Inventory() []*Object {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Object, len(o.inventory))
	copy(out, o.inventory)
	return out
}

// GetProperty reads a value from the property bag.
func (o *Object) GetProperty(key string) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.Properties[key]
	return v, ok
}

// SetProperty writes a value into the property bag.
func (o *Object) SetProperty(key string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Properties[key] = value
}

func (o *Object) appendChild(child *Object) {
	o.mu.Lock()
	o.inventory = append(o.inventory, child)
	o.mu.Unlock()
}

func (o *Object) removeChild(child *Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, c := range o.inventory {
		if c == child {
			o.inventory = append(o.inventory[:i], o.inventory[i+1:]...)
			return
		}
	}
}

func (o *Object) setEnvironment(env *Object) {
	o.mu.Lock()
	o.environment = env
	o.mu.Unlock()
}

// blueprintRecord holds everything the registry tracks for a loaded path.
type blueprintRecord struct {
	path        string
	constructor Constructor
	instance    *Object
	cloneIDs    map[string]*Object
	nextCloneID int64
	sourceMTime time.Time
	imports     []string
}

// Registry is the process-wide object registry. It is an explicitly
// constructed service, not a package singleton, so tests and multiple
// world instances never share state.
type Registry struct {
	mu         sync.Mutex
	blueprints map[string]*blueprintRecord
	objectsByID map[string]*Object
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		blueprints:  make(map[string]*blueprintRecord),
		objectsByID: make(map[string]*Object),
	}
}

// RegisterBlueprint installs constructor as path's blueprint builder and
// instance as its blueprint object. Re-registering a path replaces the
// prior record; callers that need hot-update-in-place semantics should use
// ReplaceConstructor instead, which preserves live clones.
func (r *Registry) RegisterBlueprint(path string, constructor Constructor, instance *Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance.blueprintPath = path
	instance.objectID = path
	instance.isBlueprint = true

	r.blueprints[path] = &blueprintRecord{
		path:        path,
		constructor: constructor,
		instance:    instance,
		cloneIDs:    make(map[string]*Object),
	}
	r.objectsByID[path] = instance
	return nil
}

// ReplaceConstructor swaps path's constructor and blueprint instance in
// place, without touching any existing clone — used by the hot-reload
// explicit-update path so a clone's property bag, inventory,
// and environment survive the update.
func (r *Registry) ReplaceConstructor(path string, constructor Constructor, instance *Object) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.blueprints[path]
	if !ok {
		return 0, fmt.Errorf("registry: no blueprint registered at %s", path)
	}
	instance.blueprintPath = path
	instance.objectID = path
	instance.isBlueprint = true

	rec.constructor = constructor
	rec.instance = instance
	r.objectsByID[path] = instance
	return len(rec.cloneIDs), nil
}

// Find resolves pathOrID to a live object. A bare blueprint path returns the
// blueprint instance; "path#N" returns that clone.
func (r *Registry) Find(pathOrID string) (*Object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objectsByID[pathOrID]
	if !ok || obj.Destructed() {
		return nil, false
	}
	return obj, true
}

// FindBlueprint resolves path to its blueprint instance only, never a clone.
func (r *Registry) FindBlueprint(path string) (*Object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.blueprints[path]
	if !ok {
		return nil, false
	}
	return rec.instance, true
}

// Clone creates and registers a fresh clone of the blueprint at path.
func (r *Registry) Clone(path string) (*Object, error) {
	r.mu.Lock()
	rec, ok := r.blueprints[path]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: no blueprint registered at %s", path)
	}
	rec.nextCloneID++
	id := fmt.Sprintf("%s#%d", path, rec.nextCloneID)
	r.mu.Unlock()

	obj := newObject(path, id, false)
	rec.constructor(obj)

	r.mu.Lock()
	rec.cloneIDs[id] = obj
	r.objectsByID[id] = obj
	r.mu.Unlock()

	return obj, nil
}

// Destroy removes obj from the world: it cascades to destroy every object
// still contained in obj's inventory (so the containment biconditional
// never dangles on a destructed parent), detaches obj from its own
// environment, and marks it destructed. Destroy is idempotent.
func (r *Registry) Destroy(obj *Object) error {
	if obj == nil {
		return nil
	}
	obj.mu.Lock()
	if obj.destructed {
		obj.mu.Unlock()
		return nil
	}
	children := make([]*Object, len(obj.inventory))
	copy(children, obj.inventory)
	obj.mu.Unlock()

	for _, c := range children {
		if err := r.Destroy(c); err != nil {
			return err
		}
	}

	if env := obj.Environment(); env != nil {
		env.removeChild(obj)
		obj.setEnvironment(nil)
	}

	obj.mu.Lock()
	obj.destructed = true
	obj.mu.Unlock()

	r.mu.Lock()
	delete(r.objectsByID, obj.objectID)
	if rec, ok := r.blueprints[obj.blueprintPath]; ok && !obj.isBlueprint {
		delete(rec.cloneIDs, obj.objectID)
	}
	r.mu.Unlock()

	return nil
}

// UnregisterBlueprint destroys every live clone of path, then removes the
// blueprint record itself.
func (r *Registry) UnregisterBlueprint(path string) error {
	r.mu.Lock()
	rec, ok := r.blueprints[path]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	clones := make([]*Object, 0, len(rec.cloneIDs))
	for _, c := range rec.cloneIDs {
		clones = append(clones, c)
	}
	r.mu.Unlock()

	sort.Slice(clones, func(i, j int) bool { return clones[i].objectID < clones[j].objectID })
	for _, c := range clones {
		if err := r.Destroy(c); err != nil {
			return err
		}
	}

	r.mu.Lock()
	delete(r.blueprints, path)
	delete(r.objectsByID, path)
	r.mu.Unlock()
	return nil
}

// Move relocates obj into newEnv (nil detaches obj from the world without
// destroying it). It maintains the environment/inventory biconditional
// atomically: either both sides observe the new placement or, on failure,
// both still observe the old one.
func (r *Registry) Move(obj *Object, newEnv *Object) error {
	if obj == nil {
		return fmt.Errorf("registry: cannot move a nil object")
	}
	if obj.Destructed() {
		return fmt.Errorf("registry: cannot move a destructed object")
	}
	if newEnv != nil && wouldCycle(obj, newEnv) {
		return fmt.Errorf("registry: move would create a containment cycle")
	}

	oldEnv := obj.Environment()
	if oldEnv == newEnv {
		return nil
	}

	if oldEnv != nil {
		oldEnv.removeChild(obj)
	}
	if newEnv != nil {
		newEnv.appendChild(obj)
	}
	obj.setEnvironment(newEnv)
	return nil
}

// wouldCycle reports whether placing obj inside newEnv would make obj its
// own ancestor, which the containment forest invariant forbids.
func wouldCycle(obj, newEnv *Object) bool {
	for cur := newEnv; cur != nil; cur = cur.Environment() {
		if cur == obj {
			return true
		}
	}
	return false
}

// SetSourceMTime and Imports record hot-reload dependency metadata on a
// blueprint's record; the hotreload package reads them through these
// accessors rather than reaching into an unexported struct.

func (r *Registry) SetSourceMTime(path string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.blueprints[path]; ok {
		rec.sourceMTime = t
	}
}

func (r *Registry) SourceMTime(path string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.blueprints[path]
	if !ok {
		return time.Time{}, false
	}
	return rec.sourceMTime, true
}

func (r *Registry) SetImports(path string, imports []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.blueprints[path]; ok {
		rec.imports = append([]string(nil), imports...)
	}
}

func (r *Registry) Imports(path string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.blueprints[path]
	if !ok {
		return nil
	}
	return append([]string(nil), rec.imports...)
}

// CloneCount returns the number of live clones of the blueprint at path.
func (r *Registry) CloneCount(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.blueprints[path]
	if !ok {
		return 0
	}
	return len(rec.cloneIDs)
}

// HasBlueprint reports whether path has a registered blueprint.
func (r *Registry) HasBlueprint(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.blueprints[path]
	return ok
}
