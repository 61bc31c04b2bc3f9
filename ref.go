package zerkalo

import (
	"errors"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/zerkalo-sync/zerkalo/utils"
)

// Ref is a process-local identifier of a graph node. Refs are assigned
// by the decoder that owns the graph; this engine only resolves them.
type Ref uint32

const BadRef = Ref(0xffffffff)

var ErrRefNotFound = errors.New("zerkalo: ref not found")

// Node is one unit of synchronized state: a record (Obj) or a Collection.
type Node interface {
	RefID() Ref
}

// Collection is the contract every keyed/indexed container node satisfies.
// Scan enumerates entries in order; Unset is the never-populated sentinel
// for the element type; HoldsRefs tells whether entries are themselves
// node references (and so removal cascades a release).
type Collection interface {
	Node
	Scan(fn func(key, value any) bool)
	Unset() any
	HoldsRefs() bool
}

// Obj is a record node: declared fields, each holding a scalar or a Ref.
// The decoder mutates it; the engine only reads.
type Obj struct {
	ref    Ref
	names  []string
	values map[string]any
}

func NewObj(ref Ref, fields ...string) *Obj {
	return &Obj{
		ref:    ref,
		names:  fields,
		values: make(map[string]any, len(fields)),
	}
}

func (o *Obj) RefID() Ref { return o.ref }

func (o *Obj) Fields() []string { return o.names }

func (o *Obj) Get(field string) any { return o.values[field] }

func (o *Obj) Set(field string, value any) {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	if _, known := o.values[field]; !known {
		found := false
		for _, n := range o.names {
			if n == field {
				found = true
				break
			}
		}
		if !found {
			o.names = append(o.names, field)
		}
	}
	o.values[field] = value
}

// List is an int-indexed collection node.
type List struct {
	ref   Ref
	items []any
	unset any
	refd  bool
}

func NewList(ref Ref, unset any, holdsRefs bool) *List {
	return &List{ref: ref, unset: unset, refd: holdsRefs}
}

func (l *List) RefID() Ref      { return l.ref }
func (l *List) Unset() any      { return l.unset }
func (l *List) HoldsRefs() bool { return l.refd }
func (l *List) Len() int        { return len(l.items) }

func (l *List) Scan(fn func(key, value any) bool) {
	for i, v := range l.items {
		if !fn(i, v) {
			return
		}
	}
}

func (l *List) Append(v any) { l.items = append(l.items, v) }

func (l *List) SetAt(i int, v any) {
	for len(l.items) <= i {
		l.items = append(l.items, l.unset)
	}
	l.items[i] = v
}

func (l *List) At(i int) any {
	if i < 0 || i >= len(l.items) {
		return l.unset
	}
	return l.items[i]
}

// Dict is a string-keyed collection node with stable iteration order.
type Dict struct {
	ref   Ref
	keys  []string
	items map[string]any
	unset any
	refd  bool
}

func NewDict(ref Ref, unset any, holdsRefs bool) *Dict {
	return &Dict{ref: ref, items: make(map[string]any), unset: unset, refd: holdsRefs}
}

func (d *Dict) RefID() Ref      { return d.ref }
func (d *Dict) Unset() any      { return d.unset }
func (d *Dict) HoldsRefs() bool { return d.refd }
func (d *Dict) Len() int        { return len(d.keys) }

func (d *Dict) Scan(fn func(key, value any) bool) {
	for _, k := range d.keys {
		if !fn(k, d.items[k]) {
			return
		}
	}
}

func (d *Dict) Put(key string, v any) {
	if _, ok := d.items[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.items[key] = v
}

func (d *Dict) At(key string) any {
	v, ok := d.items[key]
	if !ok {
		return d.unset
	}
	return v
}

func (d *Dict) Delete(key string) {
	if _, ok := d.items[key]; !ok {
		return
	}
	delete(d.items, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// SetOf is a collection node keyed by synthetic indexes that never
// get reused, so a removed entry's key stays unique across the
// session.
type SetOf struct {
	ref   Ref
	keys  []int
	items map[int]any
	next  int
	unset any
	refd  bool
}

func NewSetOf(ref Ref, unset any, holdsRefs bool) *SetOf {
	return &SetOf{ref: ref, items: make(map[int]any), unset: unset, refd: holdsRefs}
}

func (s *SetOf) RefID() Ref      { return s.ref }
func (s *SetOf) Unset() any      { return s.unset }
func (s *SetOf) HoldsRefs() bool { return s.refd }
func (s *SetOf) Len() int        { return len(s.keys) }

func (s *SetOf) Scan(fn func(key, value any) bool) {
	for _, k := range s.keys {
		if !fn(k, s.items[k]) {
			return
		}
	}
}

// Add stores the value under a fresh index and returns it.
func (s *SetOf) Add(v any) (key int) {
	key = s.next
	s.next++
	s.keys = append(s.keys, key)
	s.items[key] = v
	return
}

func (s *SetOf) At(key int) any {
	v, ok := s.items[key]
	if !ok {
		return s.unset
	}
	return v
}

func (s *SetOf) Delete(key int) {
	if _, ok := s.items[key]; !ok {
		return
	}
	delete(s.items, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

type refBox struct {
	node  Node
	count int32
}

// Tracker maps a Ref to a live node and owns node lifetime via refcounts.
// All mutation happens on the decode thread; Get may be called from any
// goroutine, hence the xsync map.
type Tracker struct {
	boxes   *xsync.MapOf[Ref, *refBox]
	onEvict func(ref Ref, node Node)
	log     utils.Logger
}

func NewTracker(log utils.Logger) *Tracker {
	return &Tracker{
		boxes: xsync.NewMapOf[Ref, *refBox](),
		log:   log,
	}
}

// SetEvictHook installs the removal-notification hook. The hook runs
// before the entry is deleted, so handlers still see a valid node.
func (t *Tracker) SetEvictHook(hook func(ref Ref, node Node)) {
	t.onEvict = hook
}

func (t *Tracker) Register(ref Ref, node Node) {
	t.boxes.Store(ref, &refBox{node: node, count: 1})
}

func (t *Tracker) Get(ref Ref) (Node, error) {
	box, ok := t.boxes.Load(ref)
	if !ok {
		return nil, ErrRefNotFound
	}
	return box.node, nil
}

func (t *Tracker) Count(ref Ref) int32 {
	box, ok := t.boxes.Load(ref)
	if !ok {
		return 0
	}
	return box.count
}

func (t *Tracker) Retain(ref Ref) {
	if box, ok := t.boxes.Load(ref); ok {
		box.count++
	}
}

// Release decrements the refcount; at zero the node is evicted, its
// removal handlers fire, and references held by its entries are
// released too. The schema is tree-shaped, so the recursion terminates.
func (t *Tracker) Release(ref Ref) {
	box, ok := t.boxes.Load(ref)
	if !ok {
		t.log.Warn("release of an untracked ref", "ref", ref)
		return
	}
	box.count--
	if box.count > 0 {
		return
	}
	t.log.Debug("evicting", "ref", ref)
	if t.onEvict != nil {
		t.onEvict(ref, box.node)
	}
	t.boxes.Delete(ref)
	t.cascade(box.node)
}

func (t *Tracker) cascade(node Node) {
	switch n := node.(type) {
	case Collection:
		if !n.HoldsRefs() {
			return
		}
		n.Scan(func(_, value any) bool {
			if r, ok := value.(Ref); ok {
				t.Release(r)
			}
			return true
		})
	case *Obj:
		for _, f := range n.Fields() {
			if r, ok := n.Get(f).(Ref); ok {
				t.Release(r)
			}
		}
	}
}
