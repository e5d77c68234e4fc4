package sim

import (
	"fmt"
	"path/filepath"
)

// CheckpointKind says whether a checkpoint stores or restores state.
type CheckpointKind uint8

const (
	CheckpointSave CheckpointKind = iota
	CheckpointLoad
)

func (k CheckpointKind) String() string {
	if k == CheckpointLoad {
		return "load"
	}
	return "save"
}

// CheckpointRequest drives exactly one checkpoint barrier round. Path is a
// directory; each participant stores its own state under it (see StatePath).
type CheckpointRequest struct {
	Kind    CheckpointKind
	Path    string
	SimTime uint64
	// Seq numbers the driver's checkpoint rounds from 1. Zero marks a
	// request published outside the driver.
	Seq uint64

	// Topic overrides the default SaveState/LoadState topic, e.g. for the
	// configuration-driven Store/Restore flows.
	Topic string
}

// EventTopic returns the bus topic announcing this request.
func (r CheckpointRequest) EventTopic() string {
	if r.Topic != "" {
		return r.Topic
	}
	if r.Kind == CheckpointLoad {
		return TopicLoadState
	}
	return TopicSaveState
}

// Event renders the request as a high-priority event. The payload is the
// path, or a {path, seq} mapping when the request is sequenced.
func (r CheckpointRequest) Event() Event {
	payload := StringPayload(r.Path)
	if r.Seq != 0 {
		payload = MustMapPayload(map[string]any{"path": r.Path, "seq": int64(r.Seq)})
	}
	return NewEvent(r.EventTopic(), r.SimTime).
		WithPriority(PriorityHigh).
		WithPayload(payload)
}

func (r CheckpointRequest) String() string {
	if r.Seq != 0 {
		return fmt.Sprintf("%s #%d %q at %d", r.Kind, r.Seq, r.Path, r.SimTime)
	}
	return fmt.Sprintf("%s %q at %d", r.Kind, r.Path, r.SimTime)
}

// CheckpointFromEvent recognises the checkpoint topics. The payload must be
// a path string or a {path, seq} mapping; anything else is not a request.
func CheckpointFromEvent(e Event) (CheckpointRequest, bool) {
	path, seq, ok := checkpointPayload(e.Payload)
	if !ok {
		return CheckpointRequest{}, false
	}
	req := CheckpointRequest{Path: path, SimTime: e.Timestamp, Topic: e.Name, Seq: seq}
	switch e.Name {
	case TopicSaveState, TopicStore, TopicCreateDefaultConfigFiles:
		req.Kind = CheckpointSave
	case TopicLoadState, TopicRestore:
		req.Kind = CheckpointLoad
	default:
		return CheckpointRequest{}, false
	}
	return req, true
}

func checkpointPayload(p Payload) (string, uint64, bool) {
	if path, ok := p.AsString(); ok {
		return path, 0, true
	}
	v, ok := p.Lookup("path")
	if !ok {
		return "", 0, false
	}
	path, ok := v.(string)
	if !ok {
		return "", 0, false
	}
	v, ok = p.Lookup("seq")
	if !ok {
		return path, 0, true
	}
	seq, ok := v.(int64)
	if !ok || seq < 0 {
		return "", 0, false
	}
	return path, uint64(seq), true
}

// StatePath is where participant name keeps its state inside checkpoint directory dir.
func StatePath(dir, name string) string {
	return filepath.Join(dir, name+".config")
}

// SavepointDir is the directory used for the configured savepoint at simTime.
func SavepointDir(root string, simTime uint64) string {
	return filepath.Join(root, fmt.Sprintf("savepnt_%d", simTime))
}
