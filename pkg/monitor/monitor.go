// Package monitor samples joint positions for live display.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// State is one sample of every joint.
type State struct {
	Positions map[robot.Joint]float64
	Timestamp time.Time
	Busy      bool
}

// Source is what the monitor samples.
type Source interface {
	ReadPosition(ctx context.Context) map[robot.Joint]float64
	SetCoast(ctx context.Context, coast bool) error
	Busy() bool
}

// Config holds configuration for the monitor.
type Config struct {
	Hz int
	// Coast releases the motors while monitoring so the arm can be moved by
	// hand. They are braked again on exit.
	Coast bool
}

// Monitor polls a Source at a fixed rate.
type Monitor struct {
	src   Source
	hz    int
	coast bool

	mu      sync.Mutex
	running bool
	stateCh chan State
	logCh   chan string
	blind   map[robot.Joint]bool
}

// New creates a monitor.
func New(src Source, cfg Config) *Monitor {
	if cfg.Hz <= 0 {
		cfg.Hz = 10
	}
	return &Monitor{
		src:     src,
		hz:      cfg.Hz,
		coast:   cfg.Coast,
		stateCh: make(chan State, 1),
		logCh:   make(chan string, 10),
		blind:   make(map[robot.Joint]bool),
	}
}

// States returns a channel that receives the latest sample.
func (m *Monitor) States() <-chan State {
	return m.stateCh
}

// Logs returns a channel that receives log messages.
func (m *Monitor) Logs() <-chan string {
	return m.logCh
}

// Hz returns the sampling rate.
func (m *Monitor) Hz() int {
	return m.hz
}

func (m *Monitor) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case m.logCh <- msg:
	default:
	}
}

// Start samples until ctx is done.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("already running")
	}
	m.running = true
	m.mu.Unlock()

	if m.coast {
		if err := m.src.SetCoast(ctx, true); err != nil {
			m.log("Warning: failed to release motors: %v", err)
		} else {
			m.log("Motors released, move the arm by hand")
		}
	}
	m.log("Monitoring at %d Hz", m.hz)

	ticker := time.NewTicker(time.Second / time.Duration(m.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case <-ticker.C:
			m.step(ctx)
		}
	}
}

// Coasting reports whether the monitor holds the motors released.
func (m *Monitor) Coasting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coast
}

// SetCoast releases or brakes the motors while monitoring. Motors released
// here are braked again when monitoring stops.
func (m *Monitor) SetCoast(ctx context.Context, coast bool) error {
	if err := m.src.SetCoast(ctx, coast); err != nil {
		m.log("Warning: failed to %s motors: %v", coastVerb(coast), err)
		return err
	}
	m.mu.Lock()
	m.coast = coast
	m.mu.Unlock()
	m.log("Motors %sd", coastVerb(coast))
	return nil
}

func coastVerb(coast bool) string {
	if coast {
		return "release"
	}
	return "brake"
}

func (m *Monitor) step(ctx context.Context) {
	positions := m.src.ReadPosition(ctx)
	for _, j := range robot.AllJoints() {
		pos, ok := positions[j]
		blind := !ok || math.IsNaN(pos)
		if blind != m.blind[j] {
			if blind {
				m.log("Joint %s: no position reading", j)
			} else {
				m.log("Joint %s: readings restored", j)
			}
			m.blind[j] = blind
		}
	}
	m.sendState(State{
		Positions: positions,
		Timestamp: time.Now(),
		Busy:      m.src.Busy(),
	})
}

func (m *Monitor) sendState(s State) {
	select {
	case m.stateCh <- s:
	default:
		// Replace the unread sample with the newer one.
		select {
		case <-m.stateCh:
		default:
		}
		m.stateCh <- s
	}
}

func (m *Monitor) shutdown() {
	m.mu.Lock()
	m.running = false
	coast := m.coast
	m.mu.Unlock()

	if coast {
		if err := m.src.SetCoast(context.Background(), false); err != nil {
			m.log("Warning: failed to brake motors: %v", err)
		} else {
			m.log("Motors braked")
		}
	}
	m.log("Monitoring stopped")
}
