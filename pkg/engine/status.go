package engine

import (
	"encoding/json"
	"fmt"
)

// NodeState represents the lifecycle state of a node within one run.
type NodeState string

const (
	// NodeStatePending indicates the node is waiting for its inputs.
	NodeStatePending NodeState = "pending"

	// NodeStateReady indicates every input field is present and the node may launch.
	NodeStateReady NodeState = "ready"

	// NodeStateRunning indicates the node has been launched.
	NodeStateRunning NodeState = "running"

	// NodeStateDone indicates the node's patch has been merged.
	NodeStateDone NodeState = "done"
)

// IsTerminal returns true if the node state is final.
func (s NodeState) IsTerminal() bool {
	return s == NodeStateDone
}

// Validate checks if the node state is valid.
func (s NodeState) Validate() error {
	switch s {
	case NodeStatePending, NodeStateReady, NodeStateRunning, NodeStateDone:
		return nil
	default:
		return fmt.Errorf("invalid node state: %s", s)
	}
}

// PatchStatus represents the execution status carried by a patch.
type PatchStatus string

const (
	// PatchStatusOK indicates the node produced its normal output.
	PatchStatusOK PatchStatus = "ok"

	// PatchStatusDegraded indicates the node failed or timed out and its output
	// fields carry no value.
	PatchStatusDegraded PatchStatus = "degraded"

	// PatchStatusSkipped indicates the node emitted a placeholder because the
	// run was short-circuited upstream.
	PatchStatusSkipped PatchStatus = "skipped"
)

// Validate checks if the patch status is valid.
func (s PatchStatus) Validate() error {
	switch s {
	case PatchStatusOK, PatchStatusDegraded, PatchStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid patch status: %s", s)
	}
}

// RunStatus represents the overall status of a run.
type RunStatus string

const (
	// RunStatusComplete indicates every node reported normally.
	RunStatusComplete RunStatus = "complete"

	// RunStatusDegraded indicates at least one node failed or timed out.
	RunStatusDegraded RunStatus = "degraded"

	// RunStatusShortCircuited indicates the entry node halted processing.
	RunStatusShortCircuited RunStatus = "short_circuited"
)

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusComplete, RunStatusDegraded, RunStatusShortCircuited:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}
