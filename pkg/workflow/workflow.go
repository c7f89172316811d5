// Package workflow sequences symbolic poses into verified joint moves.
//
// A Runner moves one joint at a time in a fixed priority order, waits for
// each joint to settle, escalates through a bounded retry ladder when it does
// not, and checks that the previous pose is still held before every step.
package workflow

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/motion"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// Actuator is the part of the motion engine a Runner drives.
type Actuator interface {
	Acquire(ctx context.Context) (context.Context, func(), error)
	Move(ctx context.Context, req motion.MoveRequest) (*motion.MoveSummary, error)
	VerifyAt(ctx context.Context, targets, tolerances map[robot.Joint]float64) (bool, map[robot.Joint]float64)
	ReadPosition(ctx context.Context) map[robot.Joint]float64
	ResolvePose(pose motion.Pose) (map[robot.Joint]float64, error)
	RecoverToHome(ctx context.Context, speed int, timeout time.Duration) (*motion.MoveSummary, error)
}

// Step is one labeled pose of a workflow.
type Step struct {
	Label string      `json:"label" yaml:"label"`
	Pose  motion.Pose `json:"pose" yaml:"pose"`
}

// Tunables control settling, retries and drift handling.
type Tunables struct {
	Tolerance       float64
	JointTolerances map[robot.Joint]float64
	Order           []robot.Joint

	Speed          int
	SpeedFinal     int
	NudgeSpeed     int
	SegmentDegrees float64

	PollInterval    time.Duration
	StableWindow    time.Duration
	StableReads     int
	SettleBase      time.Duration
	SettlePerDegree time.Duration
	SettleMin       time.Duration
	SettleMax       time.Duration

	MediumResidual      float64
	MaxRecoveries       int
	RepeatUnsettled     bool
	IgnoreSettleFailure map[robot.Joint]bool

	DriftPad          float64
	CatastrophicDrift float64
	RecoverSpeed      int
	RecoverTimeout    time.Duration
}

// DefaultTunables returns the stock tunables.
func DefaultTunables() Tunables {
	return Tunables{
		Tolerance:         3,
		Order:             []robot.Joint{robot.JointD, robot.JointC, robot.JointB, robot.JointA},
		Speed:             100,
		SpeedFinal:        35,
		NudgeSpeed:        40,
		SegmentDegrees:    180,
		PollInterval:      120 * time.Millisecond,
		StableWindow:      200 * time.Millisecond,
		StableReads:       2,
		SettleBase:        1500 * time.Millisecond,
		SettlePerDegree:   20 * time.Millisecond,
		SettleMin:         1200 * time.Millisecond,
		SettleMax:         6 * time.Second,
		MediumResidual:    10,
		MaxRecoveries:     2,
		RepeatUnsettled:   true,
		DriftPad:          1,
		CatastrophicDrift: 90,
		RecoverSpeed:      30,
		RecoverTimeout:    60 * time.Second,
	}
}

// TunablesFromConfig maps the workflow and motion sections of the config file.
func TunablesFromConfig(w robot.WorkflowConfig, m robot.MotionConfig) Tunables {
	t := DefaultTunables()
	if w.Tolerance > 0 {
		t.Tolerance = w.Tolerance
	}
	t.JointTolerances = make(map[robot.Joint]float64)
	for _, j := range robot.AllJoints() {
		if tol := w.JointTolerance(j); tol > 0 && tol != t.Tolerance {
			t.JointTolerances[j] = tol
		}
	}
	t.Order = w.Order()
	setInt(&t.Speed, w.Speed)
	setInt(&t.SpeedFinal, w.SpeedFinal)
	setInt(&t.NudgeSpeed, w.NudgeSpeed)
	setInt(&t.StableReads, w.StableReads)
	setInt(&t.MaxRecoveries, w.MaxRecoveries)
	setInt(&t.RecoverSpeed, m.RecoverSpeed)
	if w.SegmentDegrees > 0 {
		t.SegmentDegrees = w.SegmentDegrees
	}
	if w.PollInterval > 0 {
		t.PollInterval = w.PollInterval
	}
	if w.StableWindow >= 0 {
		t.StableWindow = w.StableWindow
	}
	if w.MediumResidual > 0 {
		t.MediumResidual = w.MediumResidual
	}
	if w.DriftPad >= 0 {
		t.DriftPad = w.DriftPad
	}
	if w.CatastrophicDrift > 0 {
		t.CatastrophicDrift = w.CatastrophicDrift
	}
	if m.RecoverTimeout > 0 {
		t.RecoverTimeout = m.RecoverTimeout
	}
	t.IgnoreSettleFailure = w.IgnoredJoints()
	return t
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// Runner executes workflows against an Actuator.
type Runner struct {
	arm     Actuator
	library *Library
	t       Tunables
	log     logger.Logger
}

// NewRunner creates a runner. library may be nil when only Run is used.
func NewRunner(arm Actuator, library *Library, t Tunables, log logger.Logger) *Runner {
	if log == nil {
		log = logger.Discard()
	}
	t.Order = completeOrder(t.Order)
	if t.StableReads < 1 {
		t.StableReads = 1
	}
	return &Runner{
		arm:     arm,
		library: library,
		t:       t,
		log:     log.WithComponent("workflow"),
	}
}

// completeOrder appends joints missing from order in canonical order.
func completeOrder(order []robot.Joint) []robot.Joint {
	out := slices.Clone(order)
	for _, j := range robot.AllJoints() {
		if !slices.Contains(out, j) {
			out = append(out, j)
		}
	}
	return out
}

// Tunables returns the runner's tunables.
func (r *Runner) Tunables() Tunables {
	return r.t
}

func (r *Runner) tolerance(j robot.Joint) float64 {
	if tol, ok := r.t.JointTolerances[j]; ok {
		return tol
	}
	return r.t.Tolerance
}

func (r *Runner) tolerances(pose map[robot.Joint]float64) map[robot.Joint]float64 {
	out := make(map[robot.Joint]float64, len(pose))
	for j := range pose {
		out[j] = r.tolerance(j)
	}
	return out
}

// Run executes steps in order while holding the arm, and returns the summary
// of the last move issued. Poses are resolved once before anything moves.
func (r *Runner) Run(ctx context.Context, steps []Step) (*motion.MoveSummary, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("workflow has no steps")
	}

	ctx, release, err := r.arm.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	poses := make([]map[robot.Joint]float64, len(steps))
	for i, step := range steps {
		pose, err := r.arm.ResolvePose(step.Pose)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Label, err)
		}
		poses[i] = pose
	}

	var last *motion.MoveSummary
	full := false
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return last, fmt.Errorf("%w: %v", motion.ErrInterrupted, err)
		}
		r.log.Info("pose", logger.WithField("step", i+1), logger.WithField("label", step.Label))

		if i > 0 {
			recovered, err := r.checkDrift(ctx, poses[i-1], steps[i-1].Label)
			if err != nil {
				return last, fmt.Errorf("step %d (%s): %w", i+1, step.Label, err)
			}
			full = recovered
		}
		if i == 0 || i == len(steps)-1 {
			full = true
		}

		for _, j := range r.t.Order {
			target, ok := poses[i][j]
			if !ok {
				continue
			}
			if !full {
				if prev, had := poses[i-1][j]; had && prev == target {
					r.log.Debug("joint unchanged, skipping", logger.WithField("joint", j))
					continue
				}
			}

			res, err := r.moveJoint(ctx, j, target)
			if res.summary != nil {
				last = res.summary
			}
			if err == nil && r.t.RepeatUnsettled && (!res.settled || res.telemetryRetry) {
				r.log.Info("repeating joint pass", logger.WithField("joint", j))
				res, err = r.moveJoint(ctx, j, target)
				if res.summary != nil {
					last = res.summary
				}
			}
			if err != nil {
				return last, fmt.Errorf("step %d (%s): %w", i+1, step.Label, err)
			}
		}
	}
	return last, nil
}

// checkDrift verifies the previous pose still holds. Moderate drift is nudged
// back; drift beyond the catastrophic threshold triggers recovery to home,
// reported by recovered.
func (r *Runner) checkDrift(ctx context.Context, prev map[robot.Joint]float64, label string) (recovered bool, err error) {
	ok, errs := r.arm.VerifyAt(ctx, prev, r.tolerances(prev))
	if ok {
		return false, nil
	}

	worst := 0.0
	drifted := make(map[robot.Joint]float64)
	blind := false
	for j, e := range errs {
		if math.IsNaN(e) {
			blind = true
			continue
		}
		worst = math.Max(worst, math.Abs(e))
		if math.Abs(e) > r.tolerance(j)+r.t.DriftPad {
			drifted[j] = prev[j]
		}
	}
	if blind {
		r.log.Warn("telemetry unavailable during drift check", logger.WithField("pose", label))
	}

	if worst > r.t.CatastrophicDrift {
		r.log.Error("catastrophic drift, recovering to home",
			logger.WithField("pose", label),
			logger.WithField("drift", worst))
		if _, err := r.arm.RecoverToHome(ctx, r.t.RecoverSpeed, r.t.RecoverTimeout); err != nil {
			return true, fmt.Errorf("recover to home: %w", err)
		}
		return true, nil
	}
	if len(drifted) == 0 {
		return false, nil
	}

	r.log.Warn("drift detected, nudging back",
		logger.WithField("pose", label),
		logger.WithField("errors", errs))
	if _, err := r.arm.Move(ctx, motion.AbsoluteMove(drifted, r.t.NudgeSpeed, 0)); err != nil {
		return false, fmt.Errorf("drift nudge: %w", err)
	}
	if ok, errs := r.arm.VerifyAt(ctx, drifted, r.tolerances(drifted)); !ok {
		r.log.Warn("drift persists after nudge", logger.WithField("errors", errs))
	}
	return false, nil
}
