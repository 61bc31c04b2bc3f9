package zerkalo

import (
	"reflect"
	"sync"

	"github.com/zerkalo-sync/zerkalo/utils"
)

// Handler variants. Which variant a slot accepts depends on the node
// kind: record replace slots hold ReplaceHandler, field slots hold
// FieldHandler, collection slots hold EntryHandler.
type (
	FieldHandler   func(value, previous any)
	ReplaceHandler func()
	EntryHandler   func(key, value any)
)

// slot addresses one handler list of a ref: either a named field, or an
// operation kind (field == "").
type slot struct {
	field string
	op    Op
}

type callback struct {
	fn       any
	removed  bool
	deferred bool // registered mid-dispatch, armed for the next batch
}

// Subscription cancels a handler registration. Cancel is idempotent and
// safe to call from inside a running handler.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Registry keeps per-ref, per-key ordered handler lists and walks
// change batches, turning them into handler invocations.
type Registry struct {
	refs *Tracker
	log  utils.Logger

	lock     sync.Mutex
	subs     map[Ref]map[slot][]*callback
	batching bool
	pending  []*callback
}

func NewRegistry(refs *Tracker, log utils.Logger) *Registry {
	reg := &Registry{
		refs: refs,
		log:  log,
		subs: make(map[Ref]map[slot][]*callback),
	}
	refs.SetEvictHook(reg.nodeEvicted)
	return reg
}

func (reg *Registry) add(ref Ref, s slot, fn any) *Subscription {
	cb := &callback{fn: fn}
	reg.lock.Lock()
	if reg.batching {
		cb.deferred = true
		reg.pending = append(reg.pending, cb)
	}
	bySlot := reg.subs[ref]
	if bySlot == nil {
		bySlot = make(map[slot][]*callback)
		reg.subs[ref] = bySlot
	}
	bySlot[s] = append(bySlot[s], cb)
	reg.lock.Unlock()
	return &Subscription{cancel: func() { reg.drop(ref, s, cb) }}
}

func (reg *Registry) drop(ref Ref, s slot, cb *callback) {
	reg.lock.Lock()
	cb.removed = true
	list := reg.subs[ref][s]
	for i, c := range list {
		if c == cb {
			reg.subs[ref][s] = append(list[:i], list[i+1:]...)
			break
		}
	}
	reg.lock.Unlock()
}

// OnField fires whenever the named field of the record node changes.
func (reg *Registry) OnField(ref Ref, field string, h FieldHandler) *Subscription {
	return reg.add(ref, slot{field: field}, h)
}

// OnReplace fires at most once per batch when any field of the record
// node changed.
func (reg *Registry) OnReplace(ref Ref, h ReplaceHandler) *Subscription {
	return reg.add(ref, slot{}, h)
}

// OnAdd fires when an entry appears in the collection node.
func (reg *Registry) OnAdd(ref Ref, h EntryHandler) *Subscription {
	return reg.add(ref, slot{op: OpAdd}, h)
}

// OnRemove fires when an entry leaves the collection node. A slot that
// was never populated (still holding the collection's unset sentinel)
// produces no remove event.
func (reg *Registry) OnRemove(ref Ref, h EntryHandler) *Subscription {
	return reg.add(ref, slot{op: OpDelete}, h)
}

// OnEntryChange fires when a collection entry's value changes.
func (reg *Registry) OnEntryChange(ref Ref, h EntryHandler) *Subscription {
	return reg.add(ref, slot{}, h)
}

// OnAvailable binds h under op on the collection held by the named
// field of obj. If the field is not populated yet, the binding is
// deferred until its first assignment; cancelling before that point
// abandons the deferred binding.
func (reg *Registry) OnAvailable(obj *Obj, field string, op Op, h EntryHandler) *Subscription {
	if node, ok := reg.resolve(obj.Get(field)); ok {
		return reg.add(node.RefID(), slot{op: op}, h)
	}

	sub := &Subscription{}
	var oneshot *Subscription
	oneshot = reg.OnField(obj.RefID(), field, func(value, _ any) {
		node, ok := reg.resolve(value)
		if !ok {
			return
		}
		oneshot.Cancel()
		bound := reg.add(node.RefID(), slot{op: op}, h)
		sub.cancel = bound.Cancel
	})
	sub.cancel = oneshot.Cancel
	return sub
}

func (reg *Registry) resolve(value any) (Node, bool) {
	ref, ok := value.(Ref)
	if !ok {
		return nil, false
	}
	node, err := reg.refs.Get(ref)
	if err != nil {
		return nil, false
	}
	return node, true
}

// snapshot copies a handler list so removal from inside a handler does
// not corrupt the walk.
func (reg *Registry) snapshot(ref Ref, s slot) []*callback {
	reg.lock.Lock()
	list := reg.subs[ref][s]
	out := make([]*callback, 0, len(list))
	for _, cb := range list {
		if !cb.removed && !cb.deferred {
			out = append(out, cb)
		}
	}
	reg.lock.Unlock()
	return out
}

func (reg *Registry) invoke(cb *callback, call func(fn any)) {
	defer func() {
		if p := recover(); p != nil {
			HandlerPanics.Inc()
			if reg.log != nil {
				reg.log.Error("handler panic", "panic", p)
			}
		}
	}()
	call(cb.fn)
}

func (reg *Registry) fire(ref Ref, s slot, call func(fn any)) {
	for _, cb := range reg.snapshot(ref, s) {
		reg.lock.Lock()
		gone := cb.removed
		reg.lock.Unlock()
		if gone {
			continue
		}
		reg.invoke(cb, call)
	}
}

func (reg *Registry) fireReplaced(ref Ref) {
	reg.fire(ref, slot{}, func(fn any) {
		if f, ok := fn.(ReplaceHandler); ok {
			f()
		}
	})
}

func (reg *Registry) fireField(ref Ref, field string, value, previous any) {
	reg.fire(ref, slot{field: field}, func(fn any) {
		if f, ok := fn.(FieldHandler); ok {
			f(value, previous)
		}
	})
}

func (reg *Registry) fireEntry(ref Ref, s slot, key, value any) {
	reg.fire(ref, s, func(fn any) {
		if f, ok := fn.(EntryHandler); ok {
			f(key, value)
		}
	})
}

// Process walks one change batch in order and invokes handlers.
// It runs to completion on the decode thread; handlers execute inline.
func (reg *Registry) Process(batch Batch) {
	// scoped to this call, so dedup state cannot leak across batches
	replaced := make(map[Ref]struct{}, len(batch))

	reg.lock.Lock()
	reg.batching = true
	reg.lock.Unlock()

	for _, rec := range batch {
		node, err := reg.refs.Get(rec.Ref)
		if err != nil {
			// node already evicted, expected under remove/add races
			continue
		}
		DispatchedChanges.WithLabelValues(rec.Op.String()).Inc()

		// children learn of their own removal before the parent's
		// change is reported
		if rec.Op.has(OpDelete) {
			if child, ok := reg.resolve(rec.Previous); ok {
				reg.fireEntry(child.RefID(), slot{op: OpDelete}, rec.key(), rec.Previous)
			}
		}

		if coll, ok := node.(Collection); ok {
			reg.processEntry(coll, rec)
			continue
		}

		if _, done := replaced[rec.Ref]; !done {
			replaced[rec.Ref] = struct{}{}
			reg.fireReplaced(rec.Ref)
		}
		if field, ok := rec.Key.(string); ok {
			reg.fireField(rec.Ref, field, rec.Value, rec.Previous)
		}
	}

	reg.lock.Lock()
	reg.batching = false
	for _, cb := range reg.pending {
		cb.deferred = false
	}
	reg.pending = reg.pending[:0]
	reg.lock.Unlock()
}

func (reg *Registry) processEntry(coll Collection, rec Change) {
	key := rec.key()
	switch {
	case rec.Op == OpDelete:
		if !valueEqual(rec.Previous, coll.Unset()) {
			reg.fireEntry(coll.RefID(), slot{op: OpDelete}, key, rec.Previous)
		}
	case rec.Op == OpDeleteAndAdd:
		if !valueEqual(rec.Previous, coll.Unset()) {
			reg.fireEntry(coll.RefID(), slot{op: OpDelete}, key, rec.Previous)
		}
		reg.fireEntry(coll.RefID(), slot{op: OpAdd}, key, rec.Value)
	case rec.Op == OpAdd && (rec.Previous == nil || valueEqual(rec.Previous, coll.Unset())):
		reg.fireEntry(coll.RefID(), slot{op: OpAdd}, key, rec.Value)
	}
	if rec.Value != nil && !valueEqual(rec.Value, rec.Previous) {
		reg.fireEntry(coll.RefID(), slot{}, key, rec.Value)
	}
}

// nodeEvicted runs when the tracker drops the last reference: removal
// handlers fire while the node is still registered, then every handler
// list of the ref is discarded (pending deferred bindings included).
func (reg *Registry) nodeEvicted(ref Ref, node Node) {
	reg.fireEntry(ref, slot{op: OpDelete}, nil, node)
	reg.lock.Lock()
	delete(reg.subs, ref)
	reg.lock.Unlock()
}

func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
