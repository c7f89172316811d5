package robot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// STS servo geometry.
const (
	countsPerTurn = 4096
	centerCount   = 2048
	maxCount      = countsPerTurn - 1

	// arrivalCounts is how close a servo must get to its goal to count as arrived.
	arrivalCounts = 8

	// FeetechMaxChunkDegrees keeps each engine command inside one servo turn.
	FeetechMaxChunkDegrees = 180
)

// ErrOutOfTravel is returned when a command would take a servo past either
// end of its single-turn range. The servo still moves to the end it can reach.
var ErrOutOfTravel = errors.New("goal outside servo travel")

// servoGoal converts a relative move into a raw goal inside [0, maxCount].
// clamped is true when the requested goal had to be cut.
func servoGoal(raw int, degrees float64) (goal int, clamped bool) {
	want := raw + int(math.Round(degrees*countsPerTurn/360))
	goal = min(max(want, 0), maxCount)
	return goal, goal != want
}

// FeetechArm drives one STS servo per joint over a shared serial bus.
type FeetechArm struct {
	bus    *feetech.Bus
	motors map[Joint]*FeetechMotor
}

// OpenFeetechArm opens the bus on port and binds each joint to its servo id.
func OpenFeetechArm(ctx context.Context, port string, ids map[Joint]int) (*FeetechArm, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	maxID := 0
	for _, id := range ids {
		maxID = max(maxID, id)
	}

	scanCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	found, err := bus.Scan(scanCtx, 1, maxID)
	cancel()
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("scan bus: %w", err)
	}

	models := make(map[int]feetech.FoundServo, len(found))
	for _, s := range found {
		models[s.ID] = s
	}

	arm := &FeetechArm{bus: bus, motors: make(map[Joint]*FeetechMotor, len(ids))}
	for _, j := range AllJoints() {
		id, ok := ids[j]
		if !ok {
			continue
		}
		s, ok := models[id]
		if !ok {
			bus.Close()
			return nil, fmt.Errorf("servo %d for joint %s not found on %s", id, j, port)
		}
		arm.motors[j] = &FeetechMotor{
			servo: feetech.NewServo(bus, s.ID, s.Model),
			id:    s.ID,
		}
	}

	return arm, nil
}

// Close closes the arm's bus connection.
func (a *FeetechArm) Close() error {
	return a.bus.Close()
}

// Drivers returns the per-joint drivers.
func (a *FeetechArm) Drivers() map[Joint]MotorDriver {
	drivers := make(map[Joint]MotorDriver, len(a.motors))
	for j, m := range a.motors {
		drivers[j] = m
	}
	return drivers
}

// FeetechMotor adapts a single-turn STS servo to MotorDriver. Positions are
// unwrapped across the 0/4095 seam so repeated reads stay continuous.
type FeetechMotor struct {
	servo *feetech.Servo
	id    int

	mu      sync.Mutex
	lastRaw int
	turns   int
	primed  bool
}

// RotateBy moves the servo by degrees and waits until it arrives or stalls.
func (m *FeetechMotor) RotateBy(ctx context.Context, degrees float64, speed int) error {
	raw, err := m.servo.Position(ctx)
	if err != nil {
		return fmt.Errorf("servo %d: read position: %w", m.id, err)
	}
	m.track(raw)

	goal, clamped := servoGoal(raw, degrees)

	// STS speed register is in counts per second.
	stepsPerSecond := ClampSpeed(speed) * 30
	if err := m.servo.SetPositionWithSpeed(ctx, goal, stepsPerSecond); err != nil {
		return fmt.Errorf("servo %d: set position: %w", m.id, err)
	}

	travel := time.Duration(float64(abs(goal-raw)) / float64(stepsPerSecond) * float64(time.Second))
	if err := m.waitArrival(ctx, goal, travel+time.Second); err != nil {
		return err
	}
	if clamped {
		return fmt.Errorf("servo %d: %w: %.1f degrees from raw %d stops at %d", m.id, ErrOutOfTravel, degrees, raw, goal)
	}
	return nil
}

func (m *FeetechMotor) waitArrival(ctx context.Context, goal int, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	last, still := -1, 0
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		raw, err := m.servo.Position(ctx)
		if err != nil {
			continue
		}
		m.track(raw)
		if abs(raw-goal) <= arrivalCounts {
			return nil
		}
		if raw == last {
			still++
			if still >= 5 {
				// Stalled against a load; the caller's closed loop decides what to do.
				return nil
			}
		} else {
			still = 0
		}
		last = raw
	}
	return nil
}

// RotateByRotations moves the servo by turns.
func (m *FeetechMotor) RotateByRotations(ctx context.Context, rotations float64, speed int) error {
	return m.RotateBy(ctx, rotations*360, speed)
}

// Stop holds the servo at its current position.
func (m *FeetechMotor) Stop(ctx context.Context) error {
	raw, err := m.servo.Position(ctx)
	if err != nil {
		return fmt.Errorf("servo %d: read position: %w", m.id, err)
	}
	return m.servo.SetPosition(ctx, raw)
}

// Coast disables torque so the joint can be moved by hand.
func (m *FeetechMotor) Coast(ctx context.Context) error {
	return m.servo.Disable(ctx)
}

// Brake enables torque.
func (m *FeetechMotor) Brake(ctx context.Context) error {
	return m.servo.Enable(ctx)
}

// Position returns the unwrapped position in degrees, zero at the servo center.
func (m *FeetechMotor) Position(ctx context.Context) (float64, error) {
	raw, err := m.servo.Position(ctx)
	if err != nil {
		return math.NaN(), fmt.Errorf("servo %d: %w: %v", m.id, ErrPositionUnavailable, err)
	}
	counts := m.track(raw)
	return float64(counts-centerCount) * 360 / countsPerTurn, nil
}

// track folds raw into the unwrapped count and returns it.
func (m *FeetechMotor) track(raw int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.primed {
		switch d := raw - m.lastRaw; {
		case d > countsPerTurn/2:
			m.turns--
		case d < -countsPerTurn/2:
			m.turns++
		}
	}
	m.lastRaw = raw
	m.primed = true
	return m.turns*countsPerTurn + raw
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
