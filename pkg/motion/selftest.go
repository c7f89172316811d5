package motion

import (
	"context"
	"math"

	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// SelfTestResult is the outcome of exercising one joint.
type SelfTestResult struct {
	Joint robot.Joint `json:"joint"`
	Start float64     `json:"start"`
	Mid   float64     `json:"mid"`
	End   float64     `json:"end"`
	OK    bool        `json:"ok"`
	Err   string      `json:"error,omitempty"`
}

// SelfTest moves each joint by degrees and back, comparing driver reads
// against the expected travel within the engine tolerance.
func (e *Engine) SelfTest(ctx context.Context, degrees float64, speed int) ([]SelfTestResult, error) {
	ctx, release, err := e.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tol := e.opts.Tolerance
	var results []SelfTestResult
	for _, j := range robot.AllJoints() {
		res := SelfTestResult{Joint: j}
		res.Start = e.readOrEstimate(ctx, j)

		if _, err := e.move(ctx, relative(j, degrees, speed)); err != nil {
			res.Err = err.Error()
			results = append(results, res)
			continue
		}
		res.Mid = e.readOrEstimate(ctx, j)

		if _, err := e.move(ctx, relative(j, -degrees, speed)); err != nil {
			res.Err = err.Error()
			results = append(results, res)
			continue
		}
		res.End = e.readOrEstimate(ctx, j)

		res.OK = math.Abs(res.Mid-res.Start-degrees) <= tol && math.Abs(res.End-res.Start) <= tol
		results = append(results, res)
	}
	return results, nil
}

func relative(j robot.Joint, degrees float64, speed int) MoveRequest {
	return MoveRequest{
		Mode:   ModeRelative,
		Units:  UnitsDegrees,
		Speed:  speed,
		Joints: []JointTarget{{Joint: j, Target: Degrees(degrees)}},
	}
}

func (e *Engine) readOrEstimate(ctx context.Context, j robot.Joint) float64 {
	if pos, ok := e.read(ctx, j); ok {
		return pos
	}
	st, _ := e.store.Get(j)
	return st.Current
}
