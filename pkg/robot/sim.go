package robot

import (
	"context"
	"math"
	"sync"
	"time"
)

// SimMotor is an in-memory motor with exact positioning. It backs the "sim"
// driver and the tests.
type SimMotor struct {
	mu       sync.Mutex
	pos      float64
	coasting bool
	commands []float64

	// DegreesPerSecond at full speed. Zero makes moves instantaneous.
	DegreesPerSecond float64
}

// NewSimMotor returns a simulated motor resting at start degrees.
func NewSimMotor(start float64) *SimMotor {
	return &SimMotor{pos: start}
}

// RotateBy moves the motor by degrees, sleeping for the simulated travel time.
func (m *SimMotor) RotateBy(ctx context.Context, degrees float64, speed int) error {
	if m.DegreesPerSecond > 0 {
		dps := m.DegreesPerSecond * float64(ClampSpeed(speed)) / MaxSpeed
		d := time.Duration(math.Abs(degrees) / dps * float64(time.Second))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos += degrees
	m.commands = append(m.commands, degrees)
	return nil
}

// RotateByRotations moves the motor by whole or fractional turns.
func (m *SimMotor) RotateByRotations(ctx context.Context, rotations float64, speed int) error {
	return m.RotateBy(ctx, rotations*360, speed)
}

// Stop is a no-op; simulated moves complete atomically.
func (m *SimMotor) Stop(ctx context.Context) error {
	return nil
}

// Coast releases the motor.
func (m *SimMotor) Coast(ctx context.Context) error {
	m.mu.Lock()
	m.coasting = true
	m.mu.Unlock()
	return nil
}

// Brake holds the motor.
func (m *SimMotor) Brake(ctx context.Context) error {
	m.mu.Lock()
	m.coasting = false
	m.mu.Unlock()
	return nil
}

// Position returns the simulated absolute position.
func (m *SimMotor) Position(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos, nil
}

// SetPosition moves the motor without issuing a command, as a hand would.
func (m *SimMotor) SetPosition(deg float64) {
	m.mu.Lock()
	m.pos = deg
	m.mu.Unlock()
}

// Coasting reports whether the motor is released.
func (m *SimMotor) Coasting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coasting
}

// Commands returns every degree command received so far.
func (m *SimMotor) Commands() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.commands))
	copy(out, m.commands)
	return out
}

// SimDrivers returns one simulated motor per joint, all at zero.
func SimDrivers(degreesPerSecond float64) map[Joint]MotorDriver {
	drivers := make(map[Joint]MotorDriver, len(AllJoints()))
	for _, j := range AllJoints() {
		m := NewSimMotor(0)
		m.DegreesPerSecond = degreesPerSecond
		drivers[j] = m
	}
	return drivers
}
