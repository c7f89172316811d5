package motion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// Errors returned by the engine. Callers match them with errors.Is.
//
// ErrBusy means another caller holds the arm and should be retried later.
// ErrInterrupted and ErrTimeout end the current call; on timeout the motors
// have been stopped. The remaining errors reject caller input before any
// hardware is touched, except ErrSettleFailure which the workflow raises.
var (
	ErrBusy                  = errors.New("arm busy")
	ErrInterrupted           = errors.New("motion interrupted")
	ErrTimeout               = errors.New("motion timed out")
	ErrUnknownJoint          = errors.New("unknown joint")
	ErrUnknownPoint          = errors.New("unknown point")
	ErrInvalidMode           = errors.New("invalid mode")
	ErrInvalidUnits          = errors.New("invalid units")
	ErrInvalidTarget         = errors.New("invalid target")
	ErrSettleFailure         = errors.New("settle failure")
	ErrCalibrationIncomplete = errors.New("calibration incomplete")
)

// CalibrationIncompleteError lists the points still missing per joint.
type CalibrationIncompleteError struct {
	Missing map[robot.Joint][]string
}

func (e *CalibrationIncompleteError) Error() string {
	var parts []string
	for _, j := range robot.AllJoints() {
		if names := e.Missing[j]; len(names) > 0 {
			parts = append(parts, fmt.Sprintf("%s[%s]", j, strings.Join(names, " ")))
		}
	}
	return fmt.Sprintf("%s: missing %s", ErrCalibrationIncomplete, strings.Join(parts, ", "))
}

func (e *CalibrationIncompleteError) Unwrap() error {
	return ErrCalibrationIncomplete
}

// SettleError reports a joint that stayed out of tolerance after every retry.
type SettleError struct {
	Joint    robot.Joint
	Target   float64
	Residual float64
	Attempts int
}

func (e *SettleError) Error() string {
	return fmt.Sprintf("%s: joint %s residual %.1f° from %.1f° after %d attempts",
		ErrSettleFailure, e.Joint, e.Residual, e.Target, e.Attempts)
}

func (e *SettleError) Unwrap() error {
	return ErrSettleFailure
}
