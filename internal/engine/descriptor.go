package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RemoteExecutionDescriptor is the continuation token sent to another device
// when a run hands off. Stack is a path of frame indices into the action
// sequence; actions are flat, so it holds a single index in practice.
//
// ExecutionID and Sequence form the idempotency key. Peers that omit them
// are accepted but cannot be de-duplicated.
type RemoteExecutionDescriptor struct {
	MacroID        int               `json:"idMacro"`
	LocalVariables map[string]string `json:"localVariables"`
	Stack          []int             `json:"stack"`
	ExecutionID    string            `json:"executionId,omitempty"`
	Sequence       int               `json:"sequence,omitempty"`
}

// Position returns the index of the next action to run.
func (d RemoteExecutionDescriptor) Position() int {
	if len(d.Stack) == 0 {
		return 0
	}
	return d.Stack[len(d.Stack)-1]
}

// IdempotencyKey returns "executionId:sequence", or "" for legacy descriptors.
func (d RemoteExecutionDescriptor) IdempotencyKey() string {
	if d.ExecutionID == "" {
		return ""
	}
	return d.ExecutionID + ":" + strconv.Itoa(d.Sequence)
}

// Validate checks the descriptor's shape.
func (d RemoteExecutionDescriptor) Validate() error {
	if d.MacroID <= 0 {
		return fmt.Errorf("%w: macro id %d", ErrInvalidDescriptor, d.MacroID)
	}
	if len(d.Stack) == 0 {
		return fmt.Errorf("%w: empty stack", ErrInvalidDescriptor)
	}
	for _, frame := range d.Stack {
		if frame < 0 {
			return fmt.Errorf("%w: negative stack frame %d", ErrInvalidDescriptor, frame)
		}
	}
	return nil
}

// DecodeDescriptor parses and validates a descriptor.
func DecodeDescriptor(data []byte) (RemoteExecutionDescriptor, error) {
	var d RemoteExecutionDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return RemoteExecutionDescriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if err := d.Validate(); err != nil {
		return RemoteExecutionDescriptor{}, err
	}
	if d.LocalVariables == nil {
		d.LocalVariables = map[string]string{}
	}
	return d, nil
}
