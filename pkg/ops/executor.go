package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/mhaegens/DMLegoArm/pkg/motion"
)

// Arm is the engine surface used by the dispatcher.
type Arm interface {
	Move(ctx context.Context, req motion.MoveRequest) (*motion.MoveSummary, error)
	RecoverToHome(ctx context.Context, speed int, timeout time.Duration) (*motion.MoveSummary, error)
}

// Workflows is the workflow surface used by the dispatcher.
type Workflows interface {
	GotoPose(ctx context.Context, name string, speed int) (*motion.MoveSummary, error)
	PickPlace(ctx context.Context, location, action string, speed int) (*motion.MoveSummary, error)
	RunProcess(ctx context.Context, name string) (*motion.MoveSummary, error)
}

// Dispatcher executes operations against the engine and workflow runner.
type Dispatcher struct {
	Arm       Arm
	Workflows Workflows

	RecoverSpeed   int
	RecoverTimeout time.Duration
}

// Execute decodes the payload and runs the operation.
func (d *Dispatcher) Execute(ctx context.Context, op Operation) (*motion.MoveSummary, error) {
	switch op.Type {
	case TypeMove:
		var req motion.MoveRequest
		if err := op.Decode(&req); err != nil {
			return nil, err
		}
		return d.Arm.Move(ctx, req)

	case TypePose:
		var p PosePayload
		if err := op.Decode(&p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, fmt.Errorf("pose: name required")
		}
		return d.Workflows.GotoPose(ctx, p.Name, p.Speed)

	case TypePickPlace:
		var p PickPlacePayload
		if err := op.Decode(&p); err != nil {
			return nil, err
		}
		return d.Workflows.PickPlace(ctx, p.Location, p.Action, p.Speed)

	case TypeWorkflow:
		var p WorkflowPayload
		if err := op.Decode(&p); err != nil {
			return nil, err
		}
		if p.Process == "" {
			return nil, fmt.Errorf("workflow: process required")
		}
		return d.Workflows.RunProcess(ctx, p.Process)

	case TypeRecover:
		p := RecoverPayload{Speed: d.RecoverSpeed, Timeout: d.RecoverTimeout}
		if err := op.Decode(&p); err != nil {
			return nil, err
		}
		return d.Arm.RecoverToHome(ctx, p.Speed, p.Timeout)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidType, op.Type)
}
