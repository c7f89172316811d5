package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mhaegens/DMLegoArm/pkg/motion"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

type MoveCommand struct {
	Absolute  bool          `short:"a" long:"absolute" description:"Targets are absolute positions (default: relative)"`
	Rotations bool          `short:"r" long:"rotations" description:"Numbers are rotations instead of degrees"`
	Speed     int           `short:"s" long:"speed" description:"Speed 1-100 (default from config)"`
	Timeout   time.Duration `short:"t" long:"timeout" description:"Give up after this long"`
	Finalize  bool          `short:"f" long:"finalize" description:"Correct the final position from a readback"`

	Args struct {
		Targets []string `positional-arg-name:"JOINT=TARGET" required:"1"`
	} `positional-args:"yes"`
}

// parseTargets turns "A=30 B=pick+5" into ordered joint targets.
func parseTargets(args []string) ([]motion.JointTarget, error) {
	var out []motion.JointTarget
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("bad target %q: want JOINT=TARGET", arg)
		}
		j, err := robot.ParseJoint(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		t, err := motion.ParseTarget(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("joint %s: %w", j, err)
		}
		out = append(out, motion.JointTarget{Joint: j, Target: t})
	}
	return out, nil
}

func (c *MoveCommand) request() (motion.MoveRequest, error) {
	targets, err := parseTargets(c.Args.Targets)
	if err != nil {
		return motion.MoveRequest{}, err
	}
	req := motion.MoveRequest{
		Mode:     motion.ModeRelative,
		Joints:   targets,
		Units:    motion.UnitsDegrees,
		Speed:    c.Speed,
		Timeout:  c.Timeout,
		Finalize: c.Finalize,
	}
	if c.Absolute {
		req.Mode = motion.ModeAbsolute
	}
	if c.Rotations {
		req.Units = motion.UnitsRotations
	}
	return req, nil
}

func (c *MoveCommand) Execute(args []string) error {
	req, err := c.request()
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app) error {
		summary, err := a.engine.Move(ctx, req)
		printSummary(summary)
		return err
	})
}
