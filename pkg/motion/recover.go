package motion

import (
	"context"
	"time"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// RecoverToHome stops all motion, re-reads every joint from hardware and
// moves to the calibrated home pose, or to zero on every joint when the arm
// is not calibrated.
func (e *Engine) RecoverToHome(ctx context.Context, speed int, timeout time.Duration) (*MoveSummary, error) {
	ctx, release, err := e.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.stopDrivers(ctx); err != nil {
		e.log.Warn("stop before recovery failed", logger.WithError(err))
	}
	e.resync(ctx)

	home, ok := e.store.HomePose()
	if !ok {
		home = make(map[robot.Joint]float64, len(robot.AllJoints()))
		for _, j := range robot.AllJoints() {
			home[j] = 0
		}
		e.log.Warn("not calibrated, recovering to zero pose")
	}

	e.log.Info("recovering to home", logger.WithField("home", home))
	return e.move(ctx, AbsoluteMove(home, speed, timeout))
}
