package workflow

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/motion"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// jointResult is the outcome of driving one joint to its target.
type jointResult struct {
	summary *motion.MoveSummary
	// settled is false when the joint was accepted out of tolerance.
	settled bool
	// telemetryRetry is set when a blind read forced a free retry.
	telemetryRetry bool
	attempts       int
}

// moveJoint drives j to target and walks the retry ladder until the joint
// settles, is accepted with a warning, or fails.
func (r *Runner) moveJoint(ctx context.Context, j robot.Joint, target float64) (jointResult, error) {
	var res jointResult
	tol := r.tolerance(j)
	retries := 0

	for {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %v", motion.ErrInterrupted, err)
		}

		start := r.arm.ReadPosition(ctx)[j]
		summary, err := r.approach(ctx, j, target, start, res.attempts == 0)
		res.attempts++
		if summary != nil {
			res.summary = summary
		}
		if err != nil {
			return res, err
		}

		dist := math.Abs(target - start)
		if math.IsNaN(dist) {
			dist = 0
		}
		ok, residual := r.verifyStable(ctx, j, target, r.settleTimeout(j, dist))
		if ok {
			res.settled = true
			return res, nil
		}

		fields := []logger.Field{
			logger.WithField("joint", j),
			logger.WithField("target", target),
			logger.WithField("residual", residual),
			logger.WithField("attempt", res.attempts),
		}
		abs := math.Abs(residual)
		switch {
		case math.IsNaN(residual) && !res.telemetryRetry:
			res.telemetryRetry = true
			r.log.Warn("no telemetry while settling, retrying", fields...)
			continue
		case abs <= tol:
			r.log.Warn("joint within tolerance but not stable, accepting", fields...)
			return res, nil
		case abs <= r.t.MediumResidual:
			if retries == 0 {
				retries++
				r.log.Warn("joint off target, retrying", fields...)
				continue
			}
			r.log.Warn("joint still off target, accepting", fields...)
			return res, nil
		}

		// Large residual, or telemetry still missing.
		if retries < r.t.MaxRecoveries {
			retries++
			r.log.Warn("joint far off target, recovering", fields...)
			continue
		}
		if r.t.IgnoreSettleFailure[j] {
			r.log.Warn("joint failed to settle, ignored by configuration", fields...)
			return res, nil
		}
		r.log.Error("joint failed to settle", fields...)
		return res, &motion.SettleError{Joint: j, Target: target, Residual: residual, Attempts: res.attempts}
	}
}

// approach issues the move for one attempt. The first attempt covers long
// distances in full-speed segments before a finalized approach at the final
// speed; later attempts are a single finalized move at the final speed.
func (r *Runner) approach(ctx context.Context, j robot.Joint, target, start float64, first bool) (*motion.MoveSummary, error) {
	if !first {
		return r.arm.Move(ctx, motion.AbsoluteMove(map[robot.Joint]float64{j: target}, r.t.SpeedFinal, 0))
	}

	dist := target - start
	seg := r.t.SegmentDegrees
	if math.IsNaN(dist) || seg <= 0 || math.Abs(dist) <= seg {
		return r.arm.Move(ctx, motion.AbsoluteMove(map[robot.Joint]float64{j: target}, r.t.Speed, 0))
	}

	step := math.Copysign(seg, dist)
	pos := start
	for math.Abs(target-pos) > seg {
		pos += step
		req := motion.AbsoluteMove(map[robot.Joint]float64{j: pos}, r.t.Speed, 0)
		req.Finalize = false
		if _, err := r.arm.Move(ctx, req); err != nil {
			return nil, err
		}
	}
	return r.arm.Move(ctx, motion.AbsoluteMove(map[robot.Joint]float64{j: target}, r.t.SpeedFinal, 0))
}

// settleTimeout scales with the distance travelled. The base rotation joint
// gets a shorter budget.
func (r *Runner) settleTimeout(j robot.Joint, dist float64) time.Duration {
	d := r.t.SettleBase + time.Duration(dist*float64(r.t.SettlePerDegree))
	if j == robot.JointD {
		d = time.Duration(float64(d) * 0.8)
	}
	return min(max(d, r.t.SettleMin), r.t.SettleMax)
}

// verifyStable polls until the joint reads in tolerance StableReads times in
// a row spanning at least StableWindow, or timeout passes. It returns the last
// residual observed.
func (r *Runner) verifyStable(ctx context.Context, j robot.Joint, target float64, timeout time.Duration) (bool, float64) {
	targets := map[robot.Joint]float64{j: target}
	tols := map[robot.Joint]float64{j: r.tolerance(j)}
	deadline := time.Now().Add(timeout)

	var firstOK time.Time
	streak := 0
	for {
		ok, errs := r.arm.VerifyAt(ctx, targets, tols)
		residual := errs[j]
		now := time.Now()
		if ok {
			if streak == 0 {
				firstOK = now
			}
			streak++
			if streak >= r.t.StableReads && now.Sub(firstOK) >= r.t.StableWindow {
				return true, residual
			}
		} else {
			streak = 0
		}

		if now.After(deadline) {
			return false, residual
		}
		select {
		case <-ctx.Done():
			return false, residual
		case <-time.After(r.t.PollInterval):
		}
	}
}
