package marking

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yawl-run/yawl/yerrors"
)

// SerializedState is an opaque, versioned byte blob sufficient to restore a
// CaseState via Deserialize — the wire form of the §4.2 snapshot/restore
// round-trip law (`snapshot ∘ restore = id`).
type SerializedState []byte

type wireState struct {
	Version    int            `json:"version"`
	CaseID     string         `json:"caseId"`
	SpecID     string         `json:"specId"`
	NetName    string         `json:"netName"`
	Marking    map[string]int `json:"marking"`
	Data       map[string]any `json:"data"`
	Lifecycle  Lifecycle      `json:"lifecycle"`
	Parent     *Parent        `json:"parent,omitempty"`
	SeenEvents []string       `json:"seenEvents"`
	LaunchedAt time.Time      `json:"launchedAt"`

	EngineUsed      string `json:"engineUsed,omitempty"`
	SelectionReason string `json:"selectionReason,omitempty"`
}

const wireVersion = 1

// Serialize encodes a CaseState into its durable wire form.
func Serialize(cs *CaseState) (SerializedState, error) {
	w := wireState{
		Version:    wireVersion,
		CaseID:     cs.CaseID,
		SpecID:     cs.SpecID,
		NetName:    cs.NetName,
		Marking:    cs.Marking,
		Data:       cs.Data,
		Lifecycle:  cs.Lifecycle,
		Parent:     cs.Parent,
		LaunchedAt: cs.LaunchedAt,
	}
	w.EngineUsed = cs.EngineUsed
	w.SelectionReason = cs.SelectionReason
	for id := range cs.SeenEvents {
		w.SeenEvents = append(w.SeenEvents, id)
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal case state: %w", err)
	}
	return b, nil
}

// Deserialize decodes a SerializedState into a CaseState. It checks only the
// encoding and the wire version: it does not look up the embedded specId,
// so a state naming an unknown specification decodes without error (and
// RestoreSerialized installs it without error too).
func Deserialize(data SerializedState) (*CaseState, error) {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, yerrors.Wrap(yerrors.KindInternalInvariantBroken, "", err, "deserialize case state")
	}
	if w.Version != wireVersion {
		return nil, yerrors.New(yerrors.KindInternalInvariantBroken, w.CaseID, fmt.Sprintf("unsupported snapshot version %d", w.Version))
	}
	cs := &CaseState{
		CaseID:     w.CaseID,
		SpecID:     w.SpecID,
		NetName:    w.NetName,
		Marking:    w.Marking,
		Data:       w.Data,
		Lifecycle:  w.Lifecycle,
		Parent:     w.Parent,
		SeenEvents: make(map[string]struct{}, len(w.SeenEvents)),
		LaunchedAt: w.LaunchedAt,
	}
	cs.EngineUsed = w.EngineUsed
	cs.SelectionReason = w.SelectionReason
	if cs.Marking == nil {
		cs.Marking = make(map[string]int)
	}
	if cs.Data == nil {
		cs.Data = make(map[string]any)
	}
	for _, id := range w.SeenEvents {
		cs.SeenEvents[id] = struct{}{}
	}
	return cs, nil
}

// SnapshotSerialized is a convenience combining Store.Snapshot and Serialize,
// matching the C2 operation named in §4.2.
func (s *Store) SnapshotSerialized(caseID string) (SerializedState, error) {
	cs, err := s.Snapshot(caseID)
	if err != nil {
		return nil, err
	}
	return Serialize(cs)
}

// RestoreSerialized is a convenience combining Deserialize and Store.Restore.
func (s *Store) RestoreSerialized(data SerializedState) (*CaseState, error) {
	cs, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	s.Restore(cs)
	return cs, nil
}
