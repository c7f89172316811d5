// Package ops queues arm operations and runs them one at a time.
package ops

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/mhaegens/DMLegoArm/pkg/motion"
)

// Type names an operation kind.
type Type string

const (
	TypeMove      Type = "move"
	TypePose      Type = "pose"
	TypePickPlace Type = "pickplace"
	TypeWorkflow  Type = "workflow"
	TypeRecover   Type = "recover"
)

// Valid reports whether t is a known operation type.
func (t Type) Valid() bool {
	return slices.Contains(allTypes, t)
}

var allTypes = []Type{TypeMove, TypePose, TypePickPlace, TypeWorkflow, TypeRecover}

// Types lists the operation types a queue accepts.
func Types() []Type {
	return slices.Clone(allTypes)
}

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Done reports whether the operation has finished.
func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Operation is one queued request and its outcome.
type Operation struct {
	ID        string              `json:"id"`
	Type      Type                `json:"type"`
	Payload   json.RawMessage     `json:"payload,omitempty"`
	Status    Status              `json:"status"`
	Error     string              `json:"error,omitempty"`
	Result    *motion.MoveSummary `json:"result,omitempty"`
	Submitted time.Time           `json:"submitted"`
	Started   time.Time           `json:"started,omitzero"`
	Finished  time.Time           `json:"finished,omitzero"`
}

// PosePayload moves to a named pose.
type PosePayload struct {
	Name  string `json:"name"`
	Speed int    `json:"speed,omitempty"`
}

// PickPlacePayload picks at or places to a named location.
type PickPlacePayload struct {
	Location string `json:"location"`
	Action   string `json:"action"`
	Speed    int    `json:"speed,omitempty"`
}

// WorkflowPayload runs a named process.
type WorkflowPayload struct {
	Process string `json:"process"`
}

// RecoverPayload returns the arm to home.
type RecoverPayload struct {
	Speed   int           `json:"speed,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Decode unmarshals the payload into v.
func (o *Operation) Decode(v any) error {
	if len(o.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(o.Payload, v); err != nil {
		return fmt.Errorf("%s payload: %w", o.Type, err)
	}
	return nil
}
