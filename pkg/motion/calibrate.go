package motion

import (
	"context"
	"fmt"
	"maps"
	"math"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// CalibrationPhase is the state of the calibration protocol.
type CalibrationPhase string

const (
	PhaseUncalibrated CalibrationPhase = "uncalibrated"
	PhaseRecording    CalibrationPhase = "recording"
	PhaseCalibrated   CalibrationPhase = "calibrated"
)

// CalibrationStatus describes recorded points and what finalize still needs.
type CalibrationStatus struct {
	Phase      CalibrationPhase                   `json:"phase"`
	Calibrated bool                               `json:"calibrated"`
	Points     map[robot.Joint]map[string]float64 `json:"points"`
	Missing    map[robot.Joint][]string           `json:"missing"`
	Limits     map[robot.Joint]Limits             `json:"limits"`
	Home       map[robot.Joint]float64            `json:"home,omitempty"`
}

// RecordPoint stores the joint's current position under name. The position
// is refreshed from the driver first, so points can be taught by moving a
// coasting joint by hand. Recording leaves the calibrated state until the
// next finalize.
func (e *Engine) RecordPoint(ctx context.Context, j robot.Joint, name string) (float64, error) {
	if !j.Known() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownJoint, j)
	}
	if !ValidPointName(name) {
		return 0, fmt.Errorf("invalid point name %q", name)
	}

	ctx, release, err := e.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	if pos, ok := e.read(ctx, j); ok {
		e.store.update(j, func(st *JointState) { st.Current = pos })
	}

	var deg float64
	e.store.update(j, func(st *JointState) {
		deg = st.Current
		st.Points[name] = deg
	})
	e.store.setCalibrated(false)
	e.store.save()

	e.log.Info("calibration point recorded",
		logger.WithField("joint", j),
		logger.WithField("point", name),
		logger.WithField("degrees", deg))
	return deg, nil
}

// FinalizeCalibration derives soft limits and the home pose from the
// recorded points (limits span every point of a joint, not only the
// required ones), marks the arm calibrated, persists, and moves to home.
// With points missing it returns a *CalibrationIncompleteError and changes
// nothing.
func (e *Engine) FinalizeCalibration(ctx context.Context, speed int) (*MoveSummary, error) {
	ctx, release, err := e.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	snap := e.store.Snapshot()
	points := make(map[robot.Joint]map[string]float64, len(snap))
	for j, st := range snap {
		points[j] = st.Points
	}
	if missing := robot.MissingPoints(points); len(missing) > 0 {
		return nil, &CalibrationIncompleteError{Missing: missing}
	}

	for _, j := range robot.AllJoints() {
		lim := Limits{Lo: math.Inf(1), Hi: math.Inf(-1)}
		for _, deg := range points[j] {
			lim.Lo = math.Min(lim.Lo, deg)
			lim.Hi = math.Max(lim.Hi, deg)
		}
		e.store.update(j, func(st *JointState) { st.Limits = &lim })
	}
	e.store.setCalibrated(true)
	e.store.save()

	home, _ := e.store.HomePose()
	e.log.Info("calibration finalized, moving home", logger.WithField("home", home))
	return e.move(ctx, AbsoluteMove(home, speed, 0))
}

// ResetCalibration clears recorded points and limits.
func (e *Engine) ResetCalibration(ctx context.Context) error {
	_, release, err := e.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	for _, j := range robot.AllJoints() {
		e.store.update(j, func(st *JointState) {
			st.Points = make(map[string]float64)
			st.Limits = nil
		})
	}
	e.store.setCalibrated(false)
	e.store.save()
	e.log.Info("calibration reset")
	return nil
}

// CalibrationStatus reports the calibration protocol state.
func (e *Engine) CalibrationStatus() CalibrationStatus {
	snap := e.store.Snapshot()
	status := CalibrationStatus{
		Calibrated: e.store.Calibrated(),
		Points:     make(map[robot.Joint]map[string]float64, len(snap)),
		Limits:     make(map[robot.Joint]Limits),
	}

	recorded := 0
	for j, st := range snap {
		status.Points[j] = maps.Clone(st.Points)
		recorded += len(st.Points)
		if st.Limits != nil {
			status.Limits[j] = *st.Limits
		}
	}
	status.Missing = robot.MissingPoints(status.Points)

	switch {
	case status.Calibrated:
		status.Phase = PhaseCalibrated
		status.Home, _ = e.store.HomePose()
	case recorded > 0:
		status.Phase = PhaseRecording
	default:
		status.Phase = PhaseUncalibrated
	}
	return status
}
