package zerkalo

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zerkalo-sync/zerkalo/utils"
)

func testPatchEngine() *PatchEngine {
	return NewPatchEngine(utils.NewDefaultLogger(slog.LevelError))
}

func TestDiffIdenticalSnapshots(t *testing.T) {
	pe := testPatchEngine()
	doc := []byte(`{"score":1,"name":"a"}`)
	ops, err := pe.Diff(doc, doc)
	assert.Nil(t, err)
	assert.Empty(t, ops)
}

func TestDiffApplyRoundTrip(t *testing.T) {
	pe := testPatchEngine()
	prev := []byte(`{"score":1,"items":["a"]}`)
	next := []byte(`{"score":42,"items":["a","b"],"name":"x"}`)

	ops, err := pe.Diff(prev, next)
	assert.Nil(t, err)
	assert.NotEmpty(t, ops)

	got, err := pe.Apply(prev, ops)
	assert.Nil(t, err)
	assert.JSONEq(t, string(next), string(got))
}

func TestApplyReplace(t *testing.T) {
	pe := testPatchEngine()
	got, err := pe.Apply([]byte(`{"score":1}`), []PatchOp{
		{Op: "replace", Path: "/score", Value: 42},
	})
	assert.Nil(t, err)
	assert.JSONEq(t, `{"score":42}`, string(got))
}

func TestApplyRemoveAndAdd(t *testing.T) {
	pe := testPatchEngine()
	got, err := pe.Apply([]byte(`{"a":1,"b":2}`), []PatchOp{
		{Op: "remove", Path: "/a"},
		{Op: "add", Path: "/c", Value: "x"},
	})
	assert.Nil(t, err)
	assert.JSONEq(t, `{"b":2,"c":"x"}`, string(got))
}

func TestApplyEmptyOpsKeepsDoc(t *testing.T) {
	pe := testPatchEngine()
	doc := []byte(`{"a":1}`)
	got, err := pe.Apply(doc, nil)
	assert.Nil(t, err)
	assert.Equal(t, doc, got)
}

func TestApplyBadPath(t *testing.T) {
	pe := testPatchEngine()
	_, err := pe.Apply([]byte(`{"a":1}`), []PatchOp{
		{Op: "replace", Path: "/missing", Value: 1},
	})
	assert.NotNil(t, err)
}

func TestDiffFromNilPrevious(t *testing.T) {
	pe := testPatchEngine()
	ops, err := pe.Diff(nil, []byte(`{"a":1}`))
	assert.Nil(t, err)
	assert.NotEmpty(t, ops)
}
