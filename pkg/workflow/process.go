package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/motion"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// Pick/place actions.
const (
	ActionPick  = "pick"
	ActionPlace = "place"
)

// gripTravel is the relative gripper stroke used when the gripper has no
// calibrated points.
const gripTravel = 30.0

// ErrUnknownName is returned for names missing from the library.
var ErrUnknownName = errors.New("unknown name")

func (r *Runner) lib() (*Library, error) {
	if r.library == nil {
		return nil, fmt.Errorf("no process library loaded")
	}
	return r.library, nil
}

// withSpeed returns a runner that uses speed for full-speed moves.
func (r *Runner) withSpeed(speed int) *Runner {
	if speed <= 0 {
		return r
	}
	c := *r
	c.t.Speed = robot.ClampSpeed(speed)
	c.t.SpeedFinal = min(c.t.SpeedFinal, c.t.Speed)
	return &c
}

// GotoPose moves to a named pose.
func (r *Runner) GotoPose(ctx context.Context, name string, speed int) (*motion.MoveSummary, error) {
	lib, err := r.lib()
	if err != nil {
		return nil, err
	}
	pose, ok := lib.Pose(name)
	if !ok {
		return nil, fmt.Errorf("%w: pose %q", ErrUnknownName, name)
	}
	return r.withSpeed(speed).Run(ctx, []Step{{Label: name, Pose: pose}})
}

// RunProcess runs a named process from the library.
func (r *Runner) RunProcess(ctx context.Context, name string) (*motion.MoveSummary, error) {
	lib, err := r.lib()
	if err != nil {
		return nil, err
	}
	proc, ok := lib.Process(name)
	if !ok {
		return nil, fmt.Errorf("%w: process %q", ErrUnknownName, name)
	}
	steps, err := lib.Steps(proc)
	if err != nil {
		return nil, fmt.Errorf("process %s: %w", name, err)
	}
	r.log.Info("running process", logger.WithField("process", name), logger.WithField("steps", len(steps)))
	summary, err := r.withSpeed(proc.Speed).Run(ctx, steps)
	if err != nil {
		return summary, fmt.Errorf("process %s: %w", name, err)
	}
	return summary, nil
}

// PickPlace approaches a location, closes (pick) or opens (place) the
// gripper, then retreats.
func (r *Runner) PickPlace(ctx context.Context, location, action string, speed int) (*motion.MoveSummary, error) {
	if action != ActionPick && action != ActionPlace {
		return nil, fmt.Errorf("invalid action %q: want %s or %s", action, ActionPick, ActionPlace)
	}
	lib, err := r.lib()
	if err != nil {
		return nil, err
	}
	loc, ok := lib.Location(location)
	if !ok {
		return nil, fmt.Errorf("%w: location %q", ErrUnknownName, location)
	}
	approach, err := r.poseSteps(lib, loc.Approach)
	if err != nil {
		return nil, err
	}
	retreat, err := r.poseSteps(lib, loc.Retreat)
	if err != nil {
		return nil, err
	}

	ctx, release, err := r.arm.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	run := r.withSpeed(speed)
	last, err := run.Run(ctx, approach)
	if err != nil {
		return last, err
	}

	summary, err := run.grip(ctx, action)
	if summary != nil {
		last = summary
	}
	if err != nil {
		return last, err
	}

	if len(retreat) > 0 {
		summary, err := run.Run(ctx, retreat)
		if summary != nil {
			last = summary
		}
		if err != nil {
			return last, err
		}
	}
	return last, nil
}

func (r *Runner) poseSteps(lib *Library, names []string) ([]Step, error) {
	steps := make([]Step, 0, len(names))
	for _, name := range names {
		pose, ok := lib.Pose(name)
		if !ok {
			return nil, fmt.Errorf("%w: pose %q", ErrUnknownName, name)
		}
		steps = append(steps, Step{Label: name, Pose: pose})
	}
	return steps, nil
}

// grip drives the gripper to its closed or open point, or by a fixed stroke
// when those points are not recorded.
func (r *Runner) grip(ctx context.Context, action string) (*motion.MoveSummary, error) {
	point, stroke := "open", gripTravel
	if action == ActionPick {
		point, stroke = "closed", -gripTravel
	}

	resolved, err := r.arm.ResolvePose(motion.Pose{robot.JointA: motion.Point(point)})
	if errors.Is(err, motion.ErrUnknownPoint) {
		r.log.Warn("gripper point not recorded, using relative stroke",
			logger.WithField("point", point),
			logger.WithField("stroke", stroke))
		return r.arm.Move(ctx, motion.MoveRequest{
			Mode:   motion.ModeRelative,
			Joints: []motion.JointTarget{{Joint: robot.JointA, Target: motion.Degrees(stroke)}},
			Units:  motion.UnitsDegrees,
			Speed:  r.t.SpeedFinal,
		})
	}
	if err != nil {
		return nil, err
	}

	res, err := r.moveJoint(ctx, robot.JointA, resolved[robot.JointA])
	return res.summary, err
}
