package zerkalo

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
	jsonpatchv5 "github.com/evanphx/json-patch/v5"
	"github.com/pkg/errors"
	"github.com/snorwin/jsonpatch"

	"github.com/zerkalo-sync/zerkalo/utils"
)

// PatchOp is one RFC-6902 operation of a structural diff.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// PatchEngine computes and applies structural diffs between two full
// document snapshots (the legacy synchronization mode).
type PatchEngine struct {
	log utils.Logger
}

func NewPatchEngine(log utils.Logger) *PatchEngine {
	return &PatchEngine{log: log}
}

// Diff returns the operations that turn prev into next. Identical
// snapshots short-circuit on a content hash and diff to nothing.
func (pe *PatchEngine) Diff(prev, next []byte) (ops []PatchOp, err error) {
	if prev == nil {
		prev = []byte("{}")
	}
	if xxhash.Sum64(prev) == xxhash.Sum64(next) {
		return nil, nil
	}
	var a, b any
	if err = json.Unmarshal(prev, &a); err != nil {
		return nil, errors.Wrap(err, "bad previous snapshot")
	}
	if err = json.Unmarshal(next, &b); err != nil {
		return nil, errors.Wrap(err, "bad next snapshot")
	}
	patch, err := jsonpatch.CreateJSONPatch(b, a)
	if err != nil {
		return nil, errors.Wrap(err, "diff failed")
	}
	if patch.Empty() {
		return nil, nil
	}
	if err = json.Unmarshal(patch.Raw(), &ops); err != nil {
		return nil, errors.Wrap(err, "bad patch")
	}
	PatchOps.Observe(float64(len(ops)))
	return ops, nil
}

// Apply applies ops to doc and returns the new document. The room's
// held snapshot is replaced destructively by the caller.
func (pe *PatchEngine) Apply(doc []byte, ops []PatchOp) ([]byte, error) {
	if len(ops) == 0 {
		return doc, nil
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, errors.Wrap(err, "bad patch ops")
	}
	patch, err := jsonpatchv5.DecodePatch(raw)
	if err != nil {
		return nil, errors.Wrap(err, "undecodable patch")
	}
	if doc == nil {
		doc = []byte("{}")
	}
	out, err := patch.Apply(doc)
	if err != nil {
		return nil, errors.Wrap(err, "patch apply failed")
	}
	return out, nil
}
