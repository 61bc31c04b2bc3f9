package zerkalo

// Op encodes the mutation kind of a Change. The values mirror the wire
// protocol's bitmask: DELETE_AND_ADD is DELETE|ADD, and "includes
// delete" checks are bit tests.
type Op byte

const (
	OpReplace Op = 0
	OpDelete  Op = 64
	OpAdd     Op = 128

	OpDeleteAndAdd = OpDelete | OpAdd
)

func (o Op) has(flag Op) bool { return o&flag != 0 }

func (o Op) String() string {
	switch o {
	case OpReplace:
		return "replace"
	case OpDelete:
		return "delete"
	case OpAdd:
		return "add"
	case OpDeleteAndAdd:
		return "delete+add"
	}
	return "?"
}

// Change is one atomic mutation record produced by the decoder.
// Key is a field name (string) for record nodes and an index or key
// for collection nodes. DynamicIndex, when >= 0, carries the resolved
// index for dynamic-keyed collections.
type Change struct {
	Ref          Ref
	Key          any
	Op           Op
	Value        any
	Previous     any
	DynamicIndex int
}

// NoIndex marks a Change without a dynamic index.
const NoIndex = -1

func (c Change) key() any {
	if c.Key == nil && c.DynamicIndex >= 0 {
		return c.DynamicIndex
	}
	return c.Key
}

// Batch is the ordered set of mutations of one synchronization tick.
// Order is significant and is preserved through dispatch.
type Batch []Change

// Decoder is the black box that turns wire deltas into the graph: it
// owns the canonical nodes and the reference table, and calls the
// room's dispatch hook once per decoded batch.
type Decoder interface {
	State() Node
	Refs() *Tracker
}
