package zerkalo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type heroView struct {
	Hp    int
	Name  string
	Score float64
}

func TestBindMirrorsFields(t *testing.T) {
	refs, reg := newTestEngine()
	obj := NewObj(1, "hp", "name", "score")
	obj.Set("hp", 12)
	obj.Set("name", "alice")
	obj.Set("score", 3.5)
	refs.Register(1, obj)

	var view heroView
	_, err := reg.Bind(obj, &view)
	assert.Nil(t, err)

	reg.Process(Batch{{Ref: 1, Key: "hp", Op: OpReplace, Value: 12, Previous: 0, DynamicIndex: NoIndex}})
	assert.Equal(t, 12, view.Hp)
	assert.Equal(t, "alice", view.Name)
	assert.Equal(t, 3.5, view.Score)
}

func TestBindConvertsNumericKinds(t *testing.T) {
	refs, reg := newTestEngine()
	obj := NewObj(1, "hp")
	obj.Set("hp", int64(42))
	refs.Register(1, obj)

	var view heroView
	_, err := reg.Bind(obj, &view)
	assert.Nil(t, err)

	reg.Process(Batch{{Ref: 1, Key: "hp", Op: OpReplace, Value: int64(42), DynamicIndex: NoIndex}})
	assert.Equal(t, 42, view.Hp)
}

func TestBindSkipsIncompatibleField(t *testing.T) {
	refs, reg := newTestEngine()
	obj := NewObj(1, "hp", "name")
	obj.Set("hp", 3)
	obj.Set("name", 17) // int into a string target: skipped, not fatal
	refs.Register(1, obj)

	var view heroView
	_, err := reg.Bind(obj, &view)
	assert.Nil(t, err)

	reg.Process(Batch{{Ref: 1, Key: "hp", Op: OpReplace, Value: 3, DynamicIndex: NoIndex}})
	assert.Equal(t, 3, view.Hp)
	assert.Equal(t, "", view.Name)
}

func TestBindIgnoresUndeclaredFields(t *testing.T) {
	refs, reg := newTestEngine()
	obj := NewObj(1, "hp", "mana")
	obj.Set("hp", 5)
	obj.Set("mana", 9)
	refs.Register(1, obj)

	var view heroView
	_, err := reg.Bind(obj, &view)
	assert.Nil(t, err)

	reg.Process(Batch{{Ref: 1, Key: "hp", Op: OpReplace, Value: 5, DynamicIndex: NoIndex}})
	assert.Equal(t, 5, view.Hp)
}

func TestBindRejectsBadTarget(t *testing.T) {
	refs, reg := newTestEngine()
	obj := NewObj(1, "hp")
	refs.Register(1, obj)

	var view heroView
	_, err := reg.Bind(obj, view)
	assert.Equal(t, ErrBindTarget, err)

	_, err = reg.Bind(obj, nil)
	assert.Equal(t, ErrBindTarget, err)
}

func TestBindCancel(t *testing.T) {
	refs, reg := newTestEngine()
	obj := NewObj(1, "hp")
	obj.Set("hp", 1)
	refs.Register(1, obj)

	var view heroView
	sub, err := reg.Bind(obj, &view)
	assert.Nil(t, err)
	sub.Cancel()

	reg.Process(Batch{{Ref: 1, Key: "hp", Op: OpReplace, Value: 1, DynamicIndex: NoIndex}})
	assert.Equal(t, 0, view.Hp)
}
