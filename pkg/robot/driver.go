package robot

import (
	"context"
	"errors"
)

// ErrPositionUnavailable is returned by drivers that cannot report a position right now.
var ErrPositionUnavailable = errors.New("position unavailable")

// MotorDriver drives a single joint. Rotation calls block until the motion
// is physically complete. Drivers without a coast mode implement Coast and
// Brake as no-ops.
type MotorDriver interface {
	RotateBy(ctx context.Context, degrees float64, speed int) error
	RotateByRotations(ctx context.Context, rotations float64, speed int) error
	Stop(ctx context.Context) error
	Coast(ctx context.Context) error
	Brake(ctx context.Context) error
	// Position returns the absolute position in degrees.
	Position(ctx context.Context) (float64, error)
}

// Speed limits accepted by drivers, in percent of full speed.
const (
	MinSpeed = 1
	MaxSpeed = 100
)

// ClampSpeed limits speed to [MinSpeed, MaxSpeed].
func ClampSpeed(speed int) int {
	if speed < MinSpeed {
		return MinSpeed
	}
	if speed > MaxSpeed {
		return MaxSpeed
	}
	return speed
}
