package main

import (
	"context"
	"fmt"
	"time"
)

type RecoverCommand struct {
	Speed   int           `short:"s" long:"speed" description:"Speed 1-100 (default from config)"`
	Timeout time.Duration `short:"t" long:"timeout" description:"Give up after this long (default from config)"`
}

func (c *RecoverCommand) Execute(args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		speed, timeout := c.Speed, c.Timeout
		if speed <= 0 {
			speed = a.cfg.Motion.RecoverSpeed
		}
		if timeout <= 0 {
			timeout = a.cfg.Motion.RecoverTimeout
		}
		summary, err := a.engine.RecoverToHome(ctx, speed, timeout)
		printSummary(summary)
		if err == nil {
			fmt.Println(successStyle.Render("Arm recovered to home."))
		}
		return err
	})
}

type ParkCommand struct{}

func (c *ParkCommand) Execute(args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		summary, err := a.runner.RunProcess(ctx, "park")
		printSummary(summary)
		if err == nil {
			fmt.Println(successStyle.Render("Arm parked. It is safe to power off."))
		}
		return err
	})
}
