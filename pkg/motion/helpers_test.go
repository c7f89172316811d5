package motion

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// testArm bundles an engine with its simulated motors.
type testArm struct {
	*Engine
	motors map[robot.Joint]*robot.SimMotor
	file   robot.CalibrationFile
}

func newTestArm(t *testing.T, opts Options) *testArm {
	t.Helper()
	motors := make(map[robot.Joint]*robot.SimMotor)
	drivers := make(map[robot.Joint]robot.MotorDriver)
	for _, j := range robot.AllJoints() {
		m := robot.NewSimMotor(0)
		motors[j] = m
		drivers[j] = m
	}
	return newTestArmWith(t, drivers, motors, opts)
}

func newTestArmWith(t *testing.T, drivers map[robot.Joint]robot.MotorDriver, motors map[robot.Joint]*robot.SimMotor, opts Options) *testArm {
	t.Helper()
	if motors == nil {
		motors = make(map[robot.Joint]*robot.SimMotor)
	}
	for _, j := range robot.AllJoints() {
		if drivers[j] == nil {
			m := robot.NewSimMotor(0)
			drivers[j] = m
			motors[j] = m
		}
	}
	file := robot.CalibrationFile{Path: filepath.Join(t.TempDir(), "calibration.json")}
	if opts.Persister == nil {
		opts.Persister = file
	}
	e, err := New(context.Background(), drivers, opts)
	require.NoError(t, err)
	return &testArm{Engine: e, motors: motors, file: file}
}

// calibrationPoints is a full set of required points.
var calibrationPoints = map[robot.Joint]map[string]float64{
	robot.JointA: {"open": 20, "closed": -10},
	robot.JointB: {"min": -30, "pick": 15, "max": 60},
	robot.JointC: {"min": -45, "pick": 10, "max": 40},
	robot.JointD: {"assembly": -90, "neutral": 0, "quality": 90},
}

// teach records every point in points by positioning the simulated motor
// by hand and recording it.
func (a *testArm) teach(t *testing.T, points map[robot.Joint]map[string]float64) {
	t.Helper()
	ctx := context.Background()
	for j, named := range points {
		for name, deg := range named {
			a.motors[j].SetPosition(deg)
			got, err := a.RecordPoint(ctx, j, name)
			require.NoError(t, err)
			require.Equal(t, deg, got)
		}
	}
}

// undershootMotor covers only a fraction of its first command.
type undershootMotor struct {
	*robot.SimMotor
	factor float64

	mu    sync.Mutex
	first bool
}

func (m *undershootMotor) RotateBy(ctx context.Context, degrees float64, speed int) error {
	m.mu.Lock()
	scale := 1.0
	if !m.first {
		m.first = true
		scale = m.factor
	}
	m.mu.Unlock()
	return m.SimMotor.RotateBy(ctx, degrees*scale, speed)
}

// slackMotor absorbs slack degrees of travel after every direction reversal.
type slackMotor struct {
	*robot.SimMotor
	slack float64

	mu       sync.Mutex
	lastDir  int
	commands []float64
}

func (m *slackMotor) RotateBy(ctx context.Context, degrees float64, speed int) error {
	m.mu.Lock()
	m.commands = append(m.commands, degrees)
	dir := sign(degrees)
	travel := degrees
	if dir != 0 && m.lastDir != 0 && dir != m.lastDir {
		travel -= m.slack * float64(dir)
	}
	if dir != 0 {
		m.lastDir = dir
	}
	m.mu.Unlock()
	return m.SimMotor.RotateBy(ctx, travel, speed)
}

// hookMotor calls onRotate after every command.
type hookMotor struct {
	*robot.SimMotor
	onRotate func(n int)

	mu    sync.Mutex
	calls int
	stops int
}

func (m *hookMotor) RotateBy(ctx context.Context, degrees float64, speed int) error {
	err := m.SimMotor.RotateBy(ctx, degrees, speed)
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()
	if m.onRotate != nil {
		m.onRotate(n)
	}
	return err
}

func (m *hookMotor) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
	return nil
}

func (m *hookMotor) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// blindHookMotor is a hookMotor that cannot report its position.
type blindHookMotor struct {
	*hookMotor
}

func (m *blindHookMotor) Position(ctx context.Context) (float64, error) {
	return 0, robot.ErrPositionUnavailable
}

// blindMotor cannot report its position.
type blindMotor struct {
	*robot.SimMotor
}

func (m *blindMotor) Position(ctx context.Context) (float64, error) {
	return 0, robot.ErrPositionUnavailable
}

// gateMotor blocks every command until release is closed.
type gateMotor struct {
	*robot.SimMotor
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (m *gateMotor) RotateBy(ctx context.Context, degrees float64, speed int) error {
	m.once.Do(func() { close(m.entered) })
	<-m.release
	return m.SimMotor.RotateBy(ctx, degrees, speed)
}
