// Package motion turns logical move requests into bounded, backlash-compensated
// motor commands with optional closed-loop correction. One Engine owns the
// drivers of an arm; a reentrant busy-lock lets only one caller move it at a time.
package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// Options configures an Engine.
type Options struct {
	DefaultSpeed     int
	MaxChunkDegrees  float64       // largest single driver command
	Deadband         float64       // finalize skips corrections below this error
	Tolerance        float64       // VerifyAt default tolerance
	TimeoutBase      time.Duration // fixed part of the move duration estimate
	DegreesPerSecond float64       // estimated travel rate at full speed

	Persister Persister
	Logger    logger.Logger
}

// DefaultOptions returns the stock tunables.
func DefaultOptions() Options {
	return Options{
		DefaultSpeed:     50,
		MaxChunkDegrees:  720,
		Deadband:         1,
		Tolerance:        3,
		TimeoutBase:      time.Second,
		DegreesPerSecond: 360,
	}
}

// OptionsFromConfig maps the motion section of the config file.
func OptionsFromConfig(c robot.MotionConfig) Options {
	opts := DefaultOptions()
	if c.DefaultSpeed > 0 {
		opts.DefaultSpeed = c.DefaultSpeed
	}
	if c.MaxChunkDegrees > 0 {
		opts.MaxChunkDegrees = c.MaxChunkDegrees
	}
	if c.Deadband > 0 {
		opts.Deadband = c.Deadband
	}
	if c.Tolerance > 0 {
		opts.Tolerance = c.Tolerance
	}
	if c.TimeoutBase > 0 {
		opts.TimeoutBase = c.TimeoutBase
	}
	if c.DegreesPerSecond > 0 {
		opts.DegreesPerSecond = c.DegreesPerSecond
	}
	return opts
}

// Engine is the actuation layer of the arm.
type Engine struct {
	drivers map[robot.Joint]robot.MotorDriver
	store   *JointStore
	opts    Options
	log     logger.Logger

	lock busyLock
	stop atomic.Bool

	mu   sync.Mutex
	last *MoveSummary
}

// New creates an engine over one driver per joint. Joint positions start from
// driver reads, or zero where a driver cannot report one.
func New(ctx context.Context, drivers map[robot.Joint]robot.MotorDriver, opts Options) (*Engine, error) {
	for _, j := range robot.AllJoints() {
		if drivers[j] == nil {
			return nil, fmt.Errorf("no driver for joint %s", j)
		}
	}

	def := DefaultOptions()
	if opts.DefaultSpeed <= 0 {
		opts.DefaultSpeed = def.DefaultSpeed
	}
	if opts.MaxChunkDegrees <= 0 {
		opts.MaxChunkDegrees = def.MaxChunkDegrees
	}
	if opts.Deadband <= 0 {
		opts.Deadband = def.Deadband
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}
	if opts.TimeoutBase <= 0 {
		opts.TimeoutBase = def.TimeoutBase
	}
	if opts.DegreesPerSecond <= 0 {
		opts.DegreesPerSecond = def.DegreesPerSecond
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	log := opts.Logger.WithComponent("motion")

	e := &Engine{
		drivers: drivers,
		store:   NewJointStore(opts.Persister, log),
		opts:    opts,
		log:     log,
	}
	e.resync(ctx)
	return e, nil
}

// Acquire takes the busy-lock for the caller, or re-enters it when ctx was
// returned by an earlier Acquire that is still held. Pass the returned
// context to every nested engine call. Fails with ErrBusy when another
// caller holds the lock. A fresh acquisition clears any earlier stop request.
func (e *Engine) Acquire(ctx context.Context) (context.Context, func(), error) {
	ctx, release, top, err := e.lock.acquire(ctx)
	if err != nil {
		return ctx, nil, err
	}
	if top {
		e.stop.Store(false)
	}
	return ctx, release, nil
}

// Busy reports whether a caller holds the arm.
func (e *Engine) Busy() bool {
	return e.lock.held()
}

// Stop requests that motion stop at the next chunk boundary and stops every motor.
func (e *Engine) Stop(ctx context.Context) error {
	e.stop.Store(true)
	e.log.Warn("stop requested")
	return e.stopDrivers(ctx)
}

func (e *Engine) stopDrivers(ctx context.Context) error {
	var errs []error
	for _, j := range robot.AllJoints() {
		if err := e.drivers[j].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", j, err))
		}
	}
	return errors.Join(errs...)
}

// SetCoast releases (coast) or holds (brake) every motor.
func (e *Engine) SetCoast(ctx context.Context, coast bool) error {
	ctx, release, err := e.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	var errs []error
	for _, j := range robot.AllJoints() {
		d := e.drivers[j]
		if coast {
			err = d.Coast(ctx)
		} else {
			err = d.Brake(ctx)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("joint %s: %w", j, err))
		}
	}
	return errors.Join(errs...)
}

// read returns the driver's position, or false when it is unavailable.
func (e *Engine) read(ctx context.Context, j robot.Joint) (float64, bool) {
	pos, err := e.drivers[j].Position(ctx)
	if err != nil || math.IsNaN(pos) || math.IsInf(pos, 0) {
		return math.NaN(), false
	}
	return pos, true
}

// resync replaces position estimates with driver reads where available.
func (e *Engine) resync(ctx context.Context) {
	for _, j := range robot.AllJoints() {
		if pos, ok := e.read(ctx, j); ok {
			e.store.update(j, func(st *JointState) { st.Current = pos })
		} else {
			e.log.Warn("position unreadable, keeping estimate", logger.WithField("joint", j))
		}
	}
}

// ReadPosition reads every joint from its driver. Unreadable joints are NaN.
func (e *Engine) ReadPosition(ctx context.Context) map[robot.Joint]float64 {
	out := make(map[robot.Joint]float64, len(e.drivers))
	for _, j := range robot.AllJoints() {
		pos, _ := e.read(ctx, j)
		out[j] = pos
	}
	return out
}

// VerifyAt reads each joint in targets and compares it to its target. The
// per-joint error is actual minus target, NaN when unreadable. Joints absent
// from tolerances use the default tolerance.
func (e *Engine) VerifyAt(ctx context.Context, targets, tolerances map[robot.Joint]float64) (bool, map[robot.Joint]float64) {
	ok := true
	errs := make(map[robot.Joint]float64, len(targets))
	for j, target := range targets {
		if _, known := e.drivers[j]; !known {
			errs[j] = math.NaN()
			ok = false
			continue
		}
		tol, has := tolerances[j]
		if !has {
			tol = e.opts.Tolerance
		}
		pos, readable := e.read(ctx, j)
		if !readable {
			errs[j] = math.NaN()
			ok = false
			continue
		}
		errs[j] = pos - target
		if math.Abs(errs[j]) > tol {
			ok = false
		}
	}
	return ok, errs
}

// ResolvePose resolves a symbolic pose to absolute degrees. Numbers are taken
// as absolute degrees.
func (e *Engine) ResolvePose(pose Pose) (map[robot.Joint]float64, error) {
	out := make(map[robot.Joint]float64, len(pose))
	for _, jt := range pose.Targets() {
		st, ok := e.store.Get(jt.Joint)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownJoint, jt.Joint)
		}
		if !jt.Target.IsPoint() {
			out[jt.Joint] = jt.Target.Value
			continue
		}
		deg, err := resolvePoint(jt.Joint, st, jt.Target.Point)
		if err != nil {
			return nil, err
		}
		out[jt.Joint] = deg
	}
	return out, nil
}

func resolvePoint(j robot.Joint, st JointState, expr string) (float64, error) {
	name, off, err := parsePointExpr(expr)
	if err != nil {
		return 0, err
	}
	base, ok := st.Points[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q on joint %s", ErrUnknownPoint, name, j)
	}
	return base + off, nil
}

// State is a snapshot of the engine.
type State struct {
	Joints     map[robot.Joint]JointState `json:"joints"`
	Calibrated bool                       `json:"calibrated"`
	Busy       bool                       `json:"busy"`
}

// State returns a snapshot of every joint.
func (e *Engine) State() State {
	return State{
		Joints:     e.store.Snapshot(),
		Calibrated: e.store.Calibrated(),
		Busy:       e.Busy(),
	}
}

// Store exposes the joint store for read-only inspection.
func (e *Engine) Store() *JointStore {
	return e.store
}

// LastMoveSummary returns the summary of the most recent move, or nil.
func (e *Engine) LastMoveSummary() *MoveSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func (e *Engine) setLast(s *MoveSummary) {
	e.mu.Lock()
	e.last = s
	e.mu.Unlock()
}

// SetBacklash sets a joint's backlash compensation and persists it.
func (e *Engine) SetBacklash(ctx context.Context, j robot.Joint, degrees float64) error {
	if !j.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownJoint, j)
	}
	_, release, err := e.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	e.store.update(j, func(st *JointState) { st.Backlash = math.Abs(degrees) })
	e.store.save()
	return nil
}
