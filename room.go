package zerkalo

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/learn-decentralized-systems/toyqueue"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/zerkalo-sync/zerkalo/utils"
)

// Phase of the room lifecycle. A room is created Detached (id 0),
// becomes Joined when the transport assigns an id, turns Leaving while
// a graceful leave is in flight, and ends Left.
type Phase int32

const (
	Detached Phase = iota
	Joined
	Leaving
	Left
)

func (p Phase) String() string {
	switch p {
	case Detached:
		return "detached"
	case Joined:
		return "joined"
	case Leaving:
		return "leaving"
	case Left:
		return "left"
	}
	return "?"
}

var ErrNoTransport = errors.New("zerkalo: no transport attached")

type RoomOptions struct {
	Log  utils.Logger
	Out  toyqueue.DrainCloser
	Snap *SnapStore
}

func (o *RoomOptions) SetDefaults() {
	if o.Log == nil {
		o.Log = utils.NewDefaultLogger(slog.LevelInfo)
	}
}

// Room is the client-side session façade. It owns the callback registry
// for the graph mode and the patch engine for the legacy snapshot mode.
type Room struct {
	Name string

	lock    sync.Mutex
	id      int
	session string
	phase   Phase
	state   json.RawMessage
	root    Node

	refs    *Tracker
	calls   *Registry
	patches *PatchEngine
	out     toyqueue.DrainCloser
	snap    *SnapStore
	log     utils.Logger

	onJoin  hookList[func()]
	onLeave hookList[func()]
	onError hookList[func(code int, message string)]
	onPatch hookList[func(ops []PatchOp)]
	onState hookList[func(state any, ops []PatchOp)]
	onData  hookList[func(payload any)]
}

func NewRoom(name string, opts RoomOptions) *Room {
	opts.SetDefaults()
	refs := NewTracker(opts.Log)
	r := &Room{
		Name:    name,
		refs:    refs,
		calls:   NewRegistry(refs, opts.Log),
		patches: NewPatchEngine(opts.Log),
		out:     opts.Out,
		snap:    opts.Snap,
		log:     opts.Log,
	}
	if r.snap != nil {
		if doc, err := r.snap.Get(name); err == nil && doc != nil {
			// cached snapshot from a previous session; no event fires
			// until the server speaks
			r.state = doc
		}
	}
	return r
}

func (r *Room) Refs() *Tracker       { return r.refs }
func (r *Room) Callbacks() *Registry { return r.calls }

func (r *Room) Id() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.id
}

// SetId is called by the transport once the server admits the session.
// Every assignment is a join event, not just the 0->n transition; that
// matches the server protocol, which never reassigns an id silently.
func (r *Room) SetId(id int) {
	r.lock.Lock()
	r.id = id
	r.phase = Joined
	if r.session == "" {
		r.session = uuid.NewString()
	}
	r.lock.Unlock()
	r.onJoin.each(func(fn func()) { fn() })
}

func (r *Room) SessionID() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.session
}

func (r *Room) Phase() Phase {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.phase
}

func (r *Room) State() json.RawMessage {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.state
}

// SetState replaces the whole legacy-mode snapshot. It fires the
// state-updated event unconditionally, with no patch context.
func (r *Room) SetState(doc []byte) {
	r.lock.Lock()
	r.state = doc
	r.lock.Unlock()
	r.persist(doc)
	r.onState.each(func(fn func(any, []PatchOp)) { fn(json.RawMessage(doc), nil) })
}

// ApplyPatch fires the pre-patch event, applies ops to the held
// snapshot in place, then fires state-updated carrying both the new
// document and the ops. Two distinct, ordered notifications.
func (r *Room) ApplyPatch(ops []PatchOp) error {
	r.onPatch.each(func(fn func([]PatchOp)) { fn(ops) })
	r.lock.Lock()
	next, err := r.patches.Apply(r.state, ops)
	if err != nil {
		r.lock.Unlock()
		return err
	}
	r.state = next
	r.lock.Unlock()
	r.persist(next)
	r.onState.each(func(fn func(any, []PatchOp)) { fn(json.RawMessage(next), ops) })
	return nil
}

// ReceiveState diffs the held snapshot against a newly received one and
// runs the diff through ApplyPatch. The first snapshot short-circuits
// to SetState.
func (r *Room) ReceiveState(next []byte) error {
	r.lock.Lock()
	prev := r.state
	r.lock.Unlock()
	if prev == nil {
		r.SetState(next)
		return nil
	}
	ops, err := r.patches.Diff(prev, next)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	return r.ApplyPatch(ops)
}

// AttachDecoder adopts the decoder's graph and reference table for the
// graph mode. The room's registry is rebuilt around the decoder's
// tracker; earlier graph subscriptions do not carry over.
func (r *Room) AttachDecoder(d Decoder) {
	r.lock.Lock()
	r.refs = d.Refs()
	r.calls = NewRegistry(r.refs, r.log)
	r.root = d.State()
	r.lock.Unlock()
}

// SetRoot attaches the decoder-owned graph root for the graph mode.
func (r *Room) SetRoot(root Node) {
	r.lock.Lock()
	r.root = root
	r.lock.Unlock()
}

func (r *Room) Root() Node {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.root
}

// ProcessBatch is the decoder's dispatch hook: one call per delta.
// After dispatch, state-replaced fires once for the whole batch.
func (r *Room) ProcessBatch(batch Batch) {
	r.calls.Process(batch)
	r.lock.Lock()
	root := r.root
	r.lock.Unlock()
	r.onState.each(func(fn func(any, []PatchOp)) { fn(root, nil) })
}

// Send msgpack-encodes payload and hands [ROOM_DATA, roomId, payload]
// to the transport. No further business logic.
func (r *Room) Send(payload any) error {
	if r.out == nil {
		return ErrNoTransport
	}
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return err
	}
	env := EncodeRoomData(r.Id(), data)
	return r.out.Drain(toyqueue.Records{env})
}

// Leave ends the session. A graceful leave on a joined room sends the
// leave request and waits for the server to tear the session down; any
// other combination leaves immediately.
func (r *Room) Leave(graceful bool) {
	r.lock.Lock()
	joined := r.phase == Joined && r.id > 0
	id := r.id
	if joined && graceful && r.out != nil {
		r.phase = Leaving
		r.lock.Unlock()
		if err := r.out.Drain(toyqueue.Records{EncodeLeaveRoom(id)}); err != nil {
			r.log.Warn("leave request failed, leaving locally", "room", r.Name, "err", err)
			r.fireLeave()
		}
		return
	}
	r.lock.Unlock()
	r.fireLeave()
}

// ConfirmLeave is called by the transport when the server acknowledges
// the leave request.
func (r *Room) ConfirmLeave() {
	r.fireLeave()
}

func (r *Room) fireLeave() {
	r.lock.Lock()
	done := r.phase == Left
	r.phase = Left
	r.lock.Unlock()
	if done {
		return
	}
	r.onLeave.each(func(fn func()) { fn() })
}

// ReceiveData fires the generic room-message event with the decoded
// payload. Undecodable payloads are passed through raw.
func (r *Room) ReceiveData(data []byte) {
	var payload any
	if err := msgpack.Unmarshal(data, &payload); err != nil {
		r.log.Warn("undecodable room message", "room", r.Name, "err", err)
		payload = data
	}
	r.onData.each(func(fn func(any)) { fn(payload) })
}

func (r *Room) ReceiveError(code int, message string) {
	r.onError.each(func(fn func(int, string)) { fn(code, message) })
}

func (r *Room) persist(doc []byte) {
	if r.snap == nil {
		return
	}
	if err := r.snap.Put(r.Name, doc); err != nil {
		r.log.Warn("snapshot not persisted", "room", r.Name, "err", err)
	}
}

func (r *Room) OnJoin(h func()) *Subscription  { return r.onJoin.add(h) }
func (r *Room) OnLeave(h func()) *Subscription { return r.onLeave.add(h) }

func (r *Room) OnError(h func(code int, message string)) *Subscription {
	return r.onError.add(h)
}

func (r *Room) OnPatch(h func(ops []PatchOp)) *Subscription {
	return r.onPatch.add(h)
}

func (r *Room) OnStateUpdated(h func(state any, ops []PatchOp)) *Subscription {
	return r.onState.add(h)
}

func (r *Room) OnData(h func(payload any)) *Subscription {
	return r.onData.add(h)
}

type hookEntry[T any] struct {
	fn      T
	removed bool
}

// hookList is an ordered handler list with removal-safe iteration.
type hookList[T any] struct {
	lock sync.Mutex
	list []*hookEntry[T]
}

func (l *hookList[T]) add(fn T) *Subscription {
	e := &hookEntry[T]{fn: fn}
	l.lock.Lock()
	l.list = append(l.list, e)
	l.lock.Unlock()
	return &Subscription{cancel: func() {
		l.lock.Lock()
		e.removed = true
		for i, x := range l.list {
			if x == e {
				l.list = append(l.list[:i], l.list[i+1:]...)
				break
			}
		}
		l.lock.Unlock()
	}}
}

func (l *hookList[T]) each(call func(fn T)) {
	l.lock.Lock()
	snap := append([]*hookEntry[T](nil), l.list...)
	l.lock.Unlock()
	for _, e := range snap {
		l.lock.Lock()
		gone := e.removed
		l.lock.Unlock()
		if gone {
			continue
		}
		call(e.fn)
	}
}
