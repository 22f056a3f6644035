package ingest

import (
	"encoding/json"
	"fmt"
)

// Checkpoint records the results of completed pipeline steps for one
// ingestion run, persisted on the job row. A redelivered job replays its
// checkpoint and resumes at the first step without a recorded result, so
// expensive work (download, extraction, embedding) is never repeated and
// side-effecting steps are re-applied only when they did not complete.
type Checkpoint struct {
	steps map[string]json.RawMessage
	save  func(raw []byte) error
}

// LoadCheckpoint decodes a persisted checkpoint. raw may be empty or "{}"
// for a fresh run. save is called with the full serialized checkpoint after
// each completed step.
func LoadCheckpoint(raw string, save func(raw []byte) error) (*Checkpoint, error) {
	cp := &Checkpoint{steps: make(map[string]json.RawMessage), save: save}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &cp.steps); err != nil {
			return nil, fmt.Errorf("decoding checkpoint: %w", err)
		}
	}
	return cp, nil
}

// record stores a step result and persists the whole checkpoint.
func (cp *Checkpoint) record(name string, result json.RawMessage) error {
	cp.steps[name] = result
	if cp.save == nil {
		return nil
	}
	raw, err := json.Marshal(cp.steps)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := cp.save(raw); err != nil {
		return fmt.Errorf("persisting checkpoint after step %s: %w", name, err)
	}
	return nil
}

// step runs fn unless the checkpoint already holds a result for name, in
// which case the recorded result is returned without re-executing fn.
// A result that no longer decodes (schema drift between deliveries) is
// discarded and recomputed.
func step[T any](cp *Checkpoint, name string, fn func() (T, error)) (T, error) {
	if raw, ok := cp.steps[name]; ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		delete(cp.steps, name)
	}

	var zero T
	v, err := fn()
	if err != nil {
		return zero, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("encoding result of step %s: %w", name, err)
	}
	if err := cp.record(name, raw); err != nil {
		return zero, err
	}
	return v, nil
}

// stepDone is step for side-effecting stages with no result value.
func stepDone(cp *Checkpoint, name string, fn func() error) error {
	_, err := step(cp, name, func() (bool, error) {
		if err := fn(); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}
