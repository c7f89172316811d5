package workflow

import (
	"context"
	"maps"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/motion"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// verdict is what the fake arm reports after a given move.
type verdict struct {
	ok       bool
	residual float64
}

// fakeArm records moves and reports scripted settle results. Without a
// script it compares its tracked positions against the targets.
type fakeArm struct {
	mu       sync.Mutex
	pos      map[robot.Joint]float64
	moves    []motion.MoveRequest
	script   []verdict
	onMove   func(f *fakeArm, req motion.MoveRequest)
	recovers int
	busy     bool
}

func newFakeArm() *fakeArm {
	return &fakeArm{pos: map[robot.Joint]float64{
		robot.JointA: 0, robot.JointB: 0, robot.JointC: 0, robot.JointD: 0,
	}}
}

func (f *fakeArm) Acquire(ctx context.Context) (context.Context, func(), error) {
	if f.busy {
		return ctx, func() {}, motion.ErrBusy
	}
	return ctx, func() {}, nil
}

func (f *fakeArm) Move(_ context.Context, req motion.MoveRequest) (*motion.MoveSummary, error) {
	f.mu.Lock()
	f.moves = append(f.moves, req)
	for _, jt := range req.Joints {
		if req.Mode == motion.ModeRelative {
			f.pos[jt.Joint] += jt.Target.Value
		} else {
			f.pos[jt.Joint] = jt.Target.Value
		}
	}
	hook := f.onMove
	f.mu.Unlock()
	if hook != nil {
		hook(f, req)
	}
	return &motion.MoveSummary{Mode: req.Mode, Speed: req.Speed}, nil
}

func (f *fakeArm) VerifyAt(_ context.Context, targets, tolerances map[robot.Joint]float64) (bool, map[robot.Joint]float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	errs := make(map[robot.Joint]float64, len(targets))
	if len(f.script) > 0 {
		idx := min(max(len(f.moves)-1, 0), len(f.script)-1)
		v := f.script[idx]
		for j := range targets {
			errs[j] = v.residual
		}
		return v.ok, errs
	}
	ok := true
	for j, target := range targets {
		errs[j] = f.pos[j] - target
		if math.Abs(errs[j]) > tolerances[j] {
			ok = false
		}
	}
	return ok, errs
}

func (f *fakeArm) ReadPosition(context.Context) map[robot.Joint]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.pos)
}

func (f *fakeArm) ResolvePose(pose motion.Pose) (map[robot.Joint]float64, error) {
	out := make(map[robot.Joint]float64, len(pose))
	for j, t := range pose {
		if t.IsPoint() {
			return nil, motion.ErrUnknownPoint
		}
		out[j] = t.Value
	}
	return out, nil
}

func (f *fakeArm) RecoverToHome(context.Context, int, time.Duration) (*motion.MoveSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovers++
	for j := range f.pos {
		f.pos[j] = 0
	}
	return &motion.MoveSummary{Mode: motion.ModeAbsolute}, nil
}

func (f *fakeArm) set(j robot.Joint, deg float64) {
	f.mu.Lock()
	f.pos[j] = deg
	f.mu.Unlock()
}

// movedJoints lists the joint of every single-joint move in order.
func (f *fakeArm) movedJoints() []robot.Joint {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []robot.Joint
	for _, m := range f.moves {
		for _, jt := range m.Joints {
			out = append(out, jt.Joint)
		}
	}
	return out
}

// fastTunables keeps settle polling short enough for unit tests.
func fastTunables() Tunables {
	t := DefaultTunables()
	t.PollInterval = time.Millisecond
	t.StableWindow = 0
	t.StableReads = 1
	t.SettleBase = 5 * time.Millisecond
	t.SettlePerDegree = 0
	t.SettleMin = 5 * time.Millisecond
	t.SettleMax = 20 * time.Millisecond
	return t
}

func newTestRunner(t *testing.T, arm Actuator, tun Tunables) *Runner {
	t.Helper()
	return NewRunner(arm, DefaultLibrary(), tun, logger.Discard())
}
