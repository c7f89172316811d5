package motion

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

func absolute(j robot.Joint, t Target) MoveRequest {
	return MoveRequest{Mode: ModeAbsolute, Joints: []JointTarget{{Joint: j, Target: t}}, Speed: 50, Finalize: true}
}

func current(t *testing.T, a *testArm, j robot.Joint) float64 {
	t.Helper()
	st, ok := a.Store().Get(j)
	require.True(t, ok)
	return st.Current
}

func TestMove_AbsoluteFinalizeWithinDeadband(t *testing.T) {
	a := newTestArm(t, Options{})
	ctx := context.Background()

	for _, target := range []float64{45, -120.5, 0, 359, 1000} {
		summary, err := a.Move(ctx, absolute(robot.JointC, Degrees(target)))
		require.NoError(t, err)

		jm, ok := summary.Joint(robot.JointC)
		require.True(t, ok)
		assert.InDelta(t, target, jm.Target, 1e-9)
		assert.LessOrEqual(t, math.Abs(current(t, a, robot.JointC)-target), DefaultOptions().Deadband)
		assert.Zero(t, jm.Correction)
	}
}

func TestMove_RotationsMatchDegrees(t *testing.T) {
	a := newTestArm(t, Options{})
	ctx := context.Background()

	_, err := a.Move(ctx, MoveRequest{
		Mode:   ModeRelative,
		Units:  UnitsRotations,
		Joints: []JointTarget{{Joint: robot.JointA, Target: Degrees(2.5)}},
	})
	require.NoError(t, err)

	_, err = a.Move(ctx, MoveRequest{
		Mode:   ModeRelative,
		Units:  UnitsDegrees,
		Joints: []JointTarget{{Joint: robot.JointB, Target: Degrees(2.5 * 360)}},
	})
	require.NoError(t, err)

	assert.InDelta(t, 900, current(t, a, robot.JointA), 1e-9)
	assert.InDelta(t, current(t, a, robot.JointA), current(t, a, robot.JointB), 1e-9)
}

func TestMove_ChunksLargeCommands(t *testing.T) {
	a := newTestArm(t, Options{MaxChunkDegrees: 720})

	summary, err := a.Move(context.Background(), MoveRequest{
		Mode:   ModeRelative,
		Joints: []JointTarget{{Joint: robot.JointD, Target: Degrees(3010)}},
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{720, 720, 720, 720, 130}, a.motors[robot.JointD].Commands())
	assert.InDelta(t, 3010, current(t, a, robot.JointD), 1e-9)
	assert.Equal(t, 1, a.Store().joints[robot.JointD].LastDirection)
	assert.Same(t, summary, a.LastMoveSummary())
}

func TestMove_BacklashOnlyOnReversal(t *testing.T) {
	sim := robot.NewSimMotor(0)
	motor := &slackMotor{SimMotor: sim, slack: 5, lastDir: 1}

	file := robot.CalibrationFile{Path: t.TempDir() + "/calibration.json"}
	rec := robot.DefaultCalibration()
	rec.Backlash[robot.JointD] = 5
	rec.LastDirection[robot.JointD] = 1
	require.NoError(t, file.Save(rec))

	a := newTestArmWith(t, map[robot.Joint]robot.MotorDriver{robot.JointD: motor}, nil, Options{Persister: file})
	ctx := context.Background()

	steps := []struct {
		target       float64
		wantBacklash float64
	}{
		{30, 0},
		{50, 0},
		{40, -5},
		{20, 0},
		{25, 5},
	}
	for _, step := range steps {
		summary, err := a.Move(ctx, MoveRequest{
			Mode:   ModeAbsolute,
			Joints: []JointTarget{{Joint: robot.JointD, Target: Degrees(step.target)}},
		})
		require.NoError(t, err)

		jm, _ := summary.Joint(robot.JointD)
		assert.Equal(t, step.wantBacklash, jm.Backlash, "target %v", step.target)
		assert.Equal(t, step.target, jm.Target, "stored target ignores compensation")
		assert.InDelta(t, step.target, current(t, a, robot.JointD), 1e-9)
		assert.InDelta(t, 0, jm.Error, 1e-9)
	}

	assert.Equal(t, []float64{30, 20, -15, -20, 10}, motor.commands)
}

func TestMove_UndershootGetsOneCorrection(t *testing.T) {
	motor := &undershootMotor{SimMotor: robot.NewSimMotor(0), factor: 0.9}
	a := newTestArmWith(t, map[robot.Joint]robot.MotorDriver{robot.JointB: motor}, nil, Options{Deadband: 1})

	summary, err := a.Move(context.Background(), absolute(robot.JointB, Degrees(100)))
	require.NoError(t, err)

	jm, _ := summary.Joint(robot.JointB)
	assert.InDelta(t, 10, jm.Correction, 1e-9)
	assert.LessOrEqual(t, math.Abs(jm.Error), 1.0)
	assert.Equal(t, []float64{90, 10}, motor.Commands())
	assert.InDelta(t, 100, current(t, a, robot.JointB), 1e-9)
}

func TestMove_NoCorrectionWithoutFinalize(t *testing.T) {
	motor := &undershootMotor{SimMotor: robot.NewSimMotor(0), factor: 0.9}
	a := newTestArmWith(t, map[robot.Joint]robot.MotorDriver{robot.JointB: motor}, nil, Options{})

	req := absolute(robot.JointB, Degrees(100))
	req.Finalize = false
	summary, err := a.Move(context.Background(), req)
	require.NoError(t, err)

	jm, _ := summary.Joint(robot.JointB)
	assert.Zero(t, jm.Correction)
	assert.InDelta(t, 90, current(t, a, robot.JointB), 1e-9, "position follows the driver read")
}

func TestMove_UnreadableDriverFallsBackToTarget(t *testing.T) {
	motor := &blindMotor{SimMotor: robot.NewSimMotor(0)}
	a := newTestArmWith(t, map[robot.Joint]robot.MotorDriver{robot.JointA: motor}, nil, Options{})

	_, err := a.Move(context.Background(), absolute(robot.JointA, Degrees(33)))
	require.NoError(t, err)
	assert.Equal(t, 33.0, current(t, a, robot.JointA))
}

func TestMove_RejectsBadInputBeforeHardware(t *testing.T) {
	a := newTestArm(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  MoveRequest
		want error
	}{
		{"mode", MoveRequest{Mode: "sideways", Joints: []JointTarget{{Joint: robot.JointA, Target: Degrees(1)}}}, ErrInvalidMode},
		{"units", MoveRequest{Mode: ModeRelative, Units: "inches", Joints: []JointTarget{{Joint: robot.JointA, Target: Degrees(1)}}}, ErrInvalidUnits},
		{"joint", MoveRequest{Mode: ModeRelative, Joints: []JointTarget{{Joint: "Z", Target: Degrees(1)}}}, ErrUnknownJoint},
		{"malformed point", MoveRequest{Mode: ModeAbsolute, Joints: []JointTarget{{Joint: robot.JointA, Target: Point("open+")}}}, ErrUnknownPoint},
		{"missing point", MoveRequest{Mode: ModeAbsolute, Joints: []JointTarget{
			{Joint: robot.JointB, Target: Degrees(10)},
			{Joint: robot.JointA, Target: Point("open")},
		}}, ErrUnknownPoint},
		{"infinite", absolute(robot.JointA, Degrees(math.Inf(1))), ErrInvalidTarget},
		{"nan", MoveRequest{Mode: ModeRelative, Joints: []JointTarget{{Joint: robot.JointD, Target: Degrees(math.NaN())}}}, ErrInvalidTarget},
		{"huge", MoveRequest{Mode: ModeRelative, Joints: []JointTarget{{Joint: robot.JointD, Target: Degrees(1e20)}}}, ErrInvalidTarget},
		{"huge rotations", MoveRequest{Mode: ModeRelative, Units: UnitsRotations, Joints: []JointTarget{{Joint: robot.JointD, Target: Degrees(1000)}}}, ErrInvalidTarget},
		{"huge offset", absolute(robot.JointC, Point("pick+1000000")), ErrInvalidTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Move(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
			for _, j := range robot.AllJoints() {
				assert.Empty(t, a.motors[j].Commands(), "joint %s must not move", j)
			}
		})
	}
}

func TestMove_PointExpressions(t *testing.T) {
	a := newTestArm(t, Options{})
	ctx := context.Background()

	a.motors[robot.JointC].SetPosition(15)
	_, err := a.RecordPoint(ctx, robot.JointC, "pick")
	require.NoError(t, err)

	for expr, want := range map[string]float64{"pick": 15, "pick+5": 20, "pick - 2.5": 12.5} {
		// Point expressions are absolute even in relative mode.
		_, err := a.Move(ctx, MoveRequest{
			Mode:     ModeRelative,
			Joints:   []JointTarget{{Joint: robot.JointC, Target: Point(expr)}},
			Finalize: true,
		})
		require.NoError(t, err, expr)
		assert.InDelta(t, want, current(t, a, robot.JointC), 1e-9, expr)
	}
}

func TestMove_StopInterruptsBetweenChunks(t *testing.T) {
	motor := &hookMotor{SimMotor: robot.NewSimMotor(0)}
	a := newTestArmWith(t, map[robot.Joint]robot.MotorDriver{robot.JointD: motor}, nil, Options{MaxChunkDegrees: 90})
	ctx := context.Background()

	motor.onRotate = func(n int) {
		if n == 1 {
			a.Stop(ctx)
		}
	}

	summary, err := a.Move(ctx, MoveRequest{
		Mode:   ModeRelative,
		Joints: []JointTarget{{Joint: robot.JointD, Target: Degrees(360)}},
	})
	require.ErrorIs(t, err, ErrInterrupted)
	require.NotNil(t, summary)
	assert.Len(t, motor.Commands(), 1)
	assert.InDelta(t, 90, current(t, a, robot.JointD), 1e-9)

	// A new caller clears the stop request.
	motor.onRotate = nil
	_, err = a.Move(ctx, MoveRequest{
		Mode:   ModeRelative,
		Joints: []JointTarget{{Joint: robot.JointD, Target: Degrees(-90)}},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0, current(t, a, robot.JointD), 1e-9)
}

func TestMove_CancelledContextInterrupts(t *testing.T) {
	a := newTestArm(t, Options{MaxChunkDegrees: 720})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := a.Move(ctx, MoveRequest{
		Mode:   ModeRelative,
		Joints: []JointTarget{{Joint: robot.JointD, Target: Degrees(3600)}},
	})
	require.ErrorIs(t, err, ErrInterrupted)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Empty(t, a.motors[robot.JointD].Commands())
	assert.Zero(t, current(t, a, robot.JointD))
}

func TestMove_LastChunkCarriesRemainder(t *testing.T) {
	a := newTestArm(t, Options{MaxChunkDegrees: 100})

	_, err := a.Move(context.Background(), MoveRequest{
		Mode:   ModeRelative,
		Joints: []JointTarget{{Joint: robot.JointB, Target: Degrees(-250)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{-100, -100, -50}, a.motors[robot.JointB].Commands())
	assert.InDelta(t, -250, current(t, a, robot.JointB), 1e-9)
}

func TestMove_TimeoutStopsMotor(t *testing.T) {
	sim := robot.NewSimMotor(0)
	sim.DegreesPerSecond = 1800 // 90 degrees take 50ms at full speed
	motor := &hookMotor{SimMotor: sim}
	a := newTestArmWith(t, map[robot.Joint]robot.MotorDriver{robot.JointD: motor}, nil, Options{MaxChunkDegrees: 90})

	summary, err := a.Move(context.Background(), MoveRequest{
		Mode:    ModeRelative,
		Speed:   100,
		Timeout: 75 * time.Millisecond,
		Joints:  []JointTarget{{Joint: robot.JointD, Target: Degrees(360)}},
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, summary.TimedOut)
	assert.Equal(t, 1, motor.stopCount())
	assert.InDelta(t, 180, current(t, a, robot.JointD), 1e-9)
}

func TestMove_EstimateWithoutTelemetry(t *testing.T) {
	motor := &hookMotor{SimMotor: robot.NewSimMotor(0)}
	a := newTestArmWith(t, map[robot.Joint]robot.MotorDriver{robot.JointB: &blindHookMotor{motor}}, nil, Options{MaxChunkDegrees: 100})
	motor.onRotate = func(n int) {
		if n == 2 {
			a.Stop(context.Background())
		}
	}

	_, err := a.Move(context.Background(), MoveRequest{
		Mode:   ModeAbsolute,
		Joints: []JointTarget{{Joint: robot.JointB, Target: Degrees(-250)}},
	})
	require.ErrorIs(t, err, ErrInterrupted)
	assert.InDelta(t, -200, current(t, a, robot.JointB), 1e-9)
	assert.Equal(t, -1, a.Store().joints[robot.JointB].LastDirection)
}

func TestMove_BusyAcrossCallers(t *testing.T) {
	gate := &gateMotor{
		SimMotor: robot.NewSimMotor(0),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	a := newTestArmWith(t, map[robot.Joint]robot.MotorDriver{robot.JointA: gate}, nil, Options{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := a.Move(ctx, absolute(robot.JointA, Degrees(10)))
		done <- err
	}()
	<-gate.entered

	_, err := a.Move(ctx, absolute(robot.JointB, Degrees(10)))
	assert.ErrorIs(t, err, ErrBusy)
	_, err = a.RecordPoint(ctx, robot.JointB, "pick")
	assert.ErrorIs(t, err, ErrBusy)
	assert.True(t, a.Busy())

	close(gate.release)
	require.NoError(t, <-done)
	assert.False(t, a.Busy())
}

func TestMove_NestedCallsReenter(t *testing.T) {
	a := newTestArm(t, Options{})

	ctx, release, err := a.Acquire(context.Background())
	require.NoError(t, err)

	_, err = a.Move(ctx, absolute(robot.JointA, Degrees(10)))
	require.NoError(t, err)
	_, err = a.Move(ctx, absolute(robot.JointB, Degrees(20)))
	require.NoError(t, err)

	_, err = a.Move(context.Background(), absolute(robot.JointC, Degrees(30)))
	assert.ErrorIs(t, err, ErrBusy)

	release()
	_, err = a.Move(context.Background(), absolute(robot.JointC, Degrees(30)))
	require.NoError(t, err)
}

func TestMove_PersistsDirection(t *testing.T) {
	a := newTestArm(t, Options{})

	_, err := a.Move(context.Background(), absolute(robot.JointD, Degrees(-40)))
	require.NoError(t, err)

	rec, err := a.file.Load()
	require.NoError(t, err)
	assert.Equal(t, -1, rec.LastDirection[robot.JointD])
}

func TestVerifyAt(t *testing.T) {
	blind := &blindMotor{SimMotor: robot.NewSimMotor(0)}
	a := newTestArmWith(t, map[robot.Joint]robot.MotorDriver{robot.JointC: blind}, nil, Options{Tolerance: 3})
	ctx := context.Background()
	a.motors[robot.JointA].SetPosition(12)

	ok, errs := a.VerifyAt(ctx, map[robot.Joint]float64{robot.JointA: 10}, nil)
	assert.True(t, ok)
	assert.InDelta(t, 2, errs[robot.JointA], 1e-9)

	ok, _ = a.VerifyAt(ctx, map[robot.Joint]float64{robot.JointA: 10}, map[robot.Joint]float64{robot.JointA: 1})
	assert.False(t, ok)

	ok, errs = a.VerifyAt(ctx, map[robot.Joint]float64{robot.JointA: 12, robot.JointC: 0}, nil)
	assert.False(t, ok)
	assert.True(t, math.IsNaN(errs[robot.JointC]))

	pos := a.ReadPosition(ctx)
	assert.Equal(t, 12.0, pos[robot.JointA])
	assert.True(t, math.IsNaN(pos[robot.JointC]))
}

func TestNew_RequiresEveryDriver(t *testing.T) {
	_, err := New(context.Background(), map[robot.Joint]robot.MotorDriver{robot.JointA: robot.NewSimMotor(0)}, Options{})
	require.Error(t, err)
}

func TestNew_StartsFromDriverReads(t *testing.T) {
	drivers := robot.SimDrivers(0)
	drivers[robot.JointD].(*robot.SimMotor).SetPosition(42)

	e, err := New(context.Background(), drivers, Options{})
	require.NoError(t, err)
	st, _ := e.Store().Get(robot.JointD)
	assert.Equal(t, 42.0, st.Current)
}
