package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// epsilon below which a delta is treated as no motion.
const epsilon = 1e-6

// maxTargetDegrees bounds numeric targets and point offsets.
const maxTargetDegrees = 100_000

// MoveRequest describes one move of one or more joints. Joints move in the
// order given.
type MoveRequest struct {
	Mode     Mode          `json:"mode"`
	Joints   []JointTarget `json:"joints"`
	Units    Units         `json:"units,omitempty"`
	Speed    int           `json:"speed,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	Finalize bool          `json:"finalize,omitempty"`
	Deadband float64       `json:"deadband,omitempty"` // zero uses the engine default
}

// AbsoluteMove builds a finalized absolute request for a resolved pose, in
// canonical joint order.
func AbsoluteMove(pose map[robot.Joint]float64, speed int, timeout time.Duration) MoveRequest {
	req := MoveRequest{Mode: ModeAbsolute, Units: UnitsDegrees, Speed: speed, Timeout: timeout, Finalize: true}
	for _, j := range robot.AllJoints() {
		if deg, ok := pose[j]; ok {
			req.Joints = append(req.Joints, JointTarget{Joint: j, Target: Degrees(deg)})
		}
	}
	return req
}

// JointMove reports what happened to one joint.
type JointMove struct {
	Joint      robot.Joint `json:"joint"`
	Commanded  string      `json:"commanded"`
	Degrees    float64     `json:"degrees"`
	Target     float64     `json:"target"`
	Start      float64     `json:"start"`
	Position   float64     `json:"position"`
	Error      float64     `json:"error"`
	Correction float64     `json:"correction"`
	Backlash   float64     `json:"backlash"`
	Clamped    bool        `json:"clamped,omitempty"`
}

// MoveSummary reports the outcome of a move.
type MoveSummary struct {
	Mode     Mode          `json:"mode"`
	Units    Units         `json:"units"`
	Speed    int           `json:"speed"`
	Joints   []JointMove   `json:"joints"`
	Elapsed  time.Duration `json:"elapsed"`
	TimedOut bool          `json:"timed_out"`
}

// Joint returns the entry for j, if the summary has one.
func (s *MoveSummary) Joint(j robot.Joint) (JointMove, bool) {
	for _, jm := range s.Joints {
		if jm.Joint == j {
			return jm, true
		}
	}
	return JointMove{}, false
}

func validate(req MoveRequest) error {
	switch req.Mode {
	case ModeRelative, ModeAbsolute:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	switch req.Units {
	case "", UnitsDegrees, UnitsRotations:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidUnits, req.Units)
	}
	for _, jt := range req.Joints {
		if !jt.Joint.Known() {
			return fmt.Errorf("%w: %s", ErrUnknownJoint, jt.Joint)
		}
		if jt.Target.IsPoint() {
			_, off, err := parsePointExpr(jt.Target.Point)
			if err != nil {
				return err
			}
			if math.Abs(off) > maxTargetDegrees {
				return fmt.Errorf("%w: joint %s: offset in %q out of range", ErrInvalidTarget, jt.Joint, jt.Target.Point)
			}
			continue
		}
		if err := checkValue(jt, req.Units); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(jt JointTarget, units Units) error {
	v := jt.Target.Value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: joint %s: %v", ErrInvalidTarget, jt.Joint, v)
	}
	limit := float64(maxTargetDegrees)
	if units == UnitsRotations {
		limit /= robot.DefaultRotationUnit
	}
	if math.Abs(v) > limit {
		return fmt.Errorf("%w: joint %s: %v %s out of range", ErrInvalidTarget, jt.Joint, v, units)
	}
	return nil
}

// Move executes req. Input is validated before the busy-lock is taken; point
// expressions are resolved for every joint before any joint moves. On
// ErrTimeout and ErrInterrupted the partial summary is returned along with
// the error and joint positions reflect the best available estimate.
func (e *Engine) Move(ctx context.Context, req MoveRequest) (*MoveSummary, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	ctx, release, err := e.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return e.move(ctx, req)
}

// resolved is a validated request entry, in degrees.
type resolved struct {
	joint    robot.Joint
	target   Target
	degrees  float64
	absolute bool
}

func (e *Engine) resolve(req MoveRequest) ([]resolved, error) {
	out := make([]resolved, 0, len(req.Joints))
	for _, jt := range req.Joints {
		st, ok := e.store.Get(jt.Joint)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownJoint, jt.Joint)
		}
		r := resolved{joint: jt.Joint, target: jt.Target}
		if jt.Target.IsPoint() {
			deg, err := resolvePoint(jt.Joint, st, jt.Target.Point)
			if err != nil {
				return nil, err
			}
			r.degrees, r.absolute = deg, true
		} else {
			r.degrees = jt.Target.Value
			if req.Units == UnitsRotations {
				r.degrees *= st.RotationUnit
			}
			r.absolute = req.Mode == ModeAbsolute
		}
		out = append(out, r)
	}
	return out, nil
}

// move runs a validated request. The caller holds the busy-lock.
func (e *Engine) move(ctx context.Context, req MoveRequest) (*MoveSummary, error) {
	start := time.Now()
	if req.Units == "" {
		req.Units = UnitsDegrees
	}
	if req.Speed <= 0 {
		req.Speed = e.opts.DefaultSpeed
	}
	req.Speed = robot.ClampSpeed(req.Speed)
	if req.Deadband <= 0 {
		req.Deadband = e.opts.Deadband
	}

	entries, err := e.resolve(req)
	if err != nil {
		return nil, err
	}

	var deadline time.Time
	if req.Timeout > 0 {
		deadline = start.Add(req.Timeout)
		e.warnShortTimeout(entries, req)
	}

	summary := &MoveSummary{Mode: req.Mode, Units: req.Units, Speed: req.Speed}
	defer func() {
		summary.Elapsed = time.Since(start)
		e.setLast(summary)
	}()

	for _, r := range entries {
		jm, err := e.moveJoint(ctx, r, req, deadline)
		summary.Joints = append(summary.Joints, jm)
		if err != nil {
			summary.TimedOut = errors.Is(err, ErrTimeout)
			return summary, err
		}
	}
	return summary, nil
}

func (e *Engine) warnShortTimeout(entries []resolved, req MoveRequest) {
	var distance float64
	for _, r := range entries {
		st, _ := e.store.Get(r.joint)
		target := r.degrees
		if !r.absolute {
			target += st.Current
		}
		distance += math.Abs(target - st.Current)
	}
	rate := e.opts.DegreesPerSecond * float64(req.Speed) / robot.MaxSpeed
	estimate := e.opts.TimeoutBase + time.Duration(distance/rate*float64(time.Second))
	if req.Timeout < estimate {
		e.log.Warn("timeout shorter than estimated move duration",
			logger.WithField("timeout", req.Timeout),
			logger.WithField("estimate", estimate.Round(time.Millisecond)))
	}
}

func (e *Engine) moveJoint(ctx context.Context, r resolved, req MoveRequest, deadline time.Time) (JointMove, error) {
	st, _ := e.store.Get(r.joint)
	jm := JointMove{
		Joint:     r.joint,
		Commanded: r.target.String(),
		Degrees:   r.degrees,
		Start:     st.Current,
	}

	target := r.degrees
	if !r.absolute {
		target += st.Current
	}
	if st.Limits != nil {
		clamped := st.Limits.Clamp(target)
		if clamped != target {
			e.log.Warn("target clamped to soft limits",
				logger.WithField("joint", r.joint),
				logger.WithField("target", target),
				logger.WithField("clamped", clamped))
			jm.Clamped = true
		}
		target = clamped
	}
	jm.Target = target

	delta := target - st.Current
	direction := sign(delta)
	command := delta
	if direction != 0 && direction != st.LastDirection {
		jm.Backlash = st.Backlash * float64(direction)
		command += jm.Backlash
	}

	lastDirection := st.LastDirection
	if direction != 0 {
		lastDirection = direction
	}

	issued, err := e.drive(ctx, r.joint, command, req, deadline, st.RotationUnit)
	if err != nil {
		pos := e.estimate(ctx, r.joint, st.Current, issued, jm.Backlash)
		if issued == 0 {
			lastDirection = st.LastDirection
		}
		e.commit(r.joint, pos, lastDirection)
		jm.Position = pos
		jm.Error = target - pos
		return jm, err
	}

	actual, ok := e.read(ctx, r.joint)
	if !ok {
		actual = target
	}

	if req.Finalize && math.Abs(target-actual) > req.Deadband {
		correction := target - actual
		if err := e.checkpoint(ctx, r.joint, deadline); err != nil {
			e.commit(r.joint, actual, lastDirection)
			jm.Position, jm.Error = actual, target-actual
			return jm, err
		}
		nudge := max(robot.MinSpeed, req.Speed/2)
		e.log.Debug("finalize correction",
			logger.WithField("joint", r.joint),
			logger.WithField("error", correction))
		if err := e.drivers[r.joint].RotateBy(ctx, correction, nudge); err != nil {
			pos := e.estimate(ctx, r.joint, actual, 0, 0)
			e.commit(r.joint, pos, lastDirection)
			jm.Position, jm.Error = pos, target-pos
			return jm, e.driverError(ctx, r.joint, err)
		}
		jm.Correction = correction
		if d := sign(correction); d != 0 {
			lastDirection = d
		}
		if actual, ok = e.read(ctx, r.joint); !ok {
			actual = target
		}
	}

	e.commit(r.joint, actual, lastDirection)
	jm.Position = actual
	jm.Error = target - actual
	return jm, nil
}

// drive issues command in chunks of at most MaxChunkDegrees. It returns the
// degrees actually sent to the driver.
func (e *Engine) drive(ctx context.Context, j robot.Joint, command float64, req MoveRequest, deadline time.Time, unit float64) (float64, error) {
	if math.Abs(command) < epsilon {
		return 0, nil
	}

	d := e.drivers[j]
	useRotations := req.Units == UnitsRotations && unit == 360
	step := e.opts.MaxChunkDegrees * float64(sign(command))
	chunks := int(math.Ceil(math.Abs(command) / e.opts.MaxChunkDegrees))
	var issued float64
	for i := range chunks {
		if err := e.checkpoint(ctx, j, deadline); err != nil {
			return issued, err
		}
		chunk := step
		if i == chunks-1 {
			chunk = command - issued
		}
		if math.Abs(chunk) < epsilon {
			break
		}

		var err error
		if useRotations {
			err = d.RotateByRotations(ctx, chunk/360, req.Speed)
		} else {
			err = d.RotateBy(ctx, chunk, req.Speed)
		}
		if err != nil {
			return issued, e.driverError(ctx, j, err)
		}
		issued += chunk
	}
	return issued, nil
}

// checkpoint fails when a stop was requested, ctx is done or the deadline
// passed. On timeout the joint's motor is stopped first.
func (e *Engine) checkpoint(ctx context.Context, j robot.Joint, deadline time.Time) error {
	if e.stop.Load() {
		return fmt.Errorf("%w: joint %s", ErrInterrupted, j)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: joint %s: %w", ErrInterrupted, j, err)
	}
	if !deadline.IsZero() && time.Now().After(deadline) {
		if err := e.drivers[j].Stop(context.WithoutCancel(ctx)); err != nil {
			e.log.Error("failed to stop motor after timeout",
				logger.WithField("joint", j), logger.WithError(err))
		}
		return fmt.Errorf("%w: joint %s", ErrTimeout, j)
	}
	return nil
}

func (e *Engine) driverError(ctx context.Context, j robot.Joint, err error) error {
	if ctx.Err() != nil || e.stop.Load() {
		return fmt.Errorf("%w: joint %s: %v", ErrInterrupted, j, err)
	}
	return fmt.Errorf("joint %s: %w", j, err)
}

// estimate returns the best known position after a partial move: a driver
// read if possible, otherwise start plus the logical travel issued, where the
// backlash share of the command moved no load.
func (e *Engine) estimate(ctx context.Context, j robot.Joint, start, issued, backlash float64) float64 {
	if pos, ok := e.read(context.WithoutCancel(ctx), j); ok {
		return pos
	}
	logical := math.Abs(issued) - math.Abs(backlash)
	if logical <= 0 {
		return start
	}
	return start + logical*float64(sign(issued))
}

func (e *Engine) commit(j robot.Joint, pos float64, direction int) {
	e.store.update(j, func(st *JointState) {
		st.Current = pos
		st.LastDirection = direction
	})
	e.store.save()
}

func sign(v float64) int {
	switch {
	case v > epsilon:
		return 1
	case v < -epsilon:
		return -1
	}
	return 0
}
