package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mhaegens/DMLegoArm/pkg/robot"
	"github.com/mhaegens/DMLegoArm/pkg/workflow"
)

type PoseCommand struct {
	Speed int `short:"s" long:"speed" description:"Speed 1-100 (default from config)"`

	Args struct {
		Name string `positional-arg-name:"POSE" required:"yes"`
	} `positional-args:"yes"`
}

func (c *PoseCommand) Execute(args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		summary, err := a.runner.GotoPose(ctx, c.Args.Name, c.Speed)
		printSummary(summary)
		return err
	})
}

type PickPlaceCommand struct {
	Speed int `short:"s" long:"speed" description:"Speed 1-100 (default from config)"`

	Args struct {
		Location string `positional-arg-name:"LOCATION" required:"yes"`
		Action   string `positional-arg-name:"pick|place" required:"yes"`
	} `positional-args:"yes"`
}

func (c *PickPlaceCommand) Execute(args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		summary, err := a.runner.PickPlace(ctx, c.Args.Location, c.Args.Action, c.Speed)
		printSummary(summary)
		return err
	})
}

type RunCommand struct {
	Args struct {
		Process string `positional-arg-name:"PROCESS" required:"yes"`
	} `positional-args:"yes"`
}

func (c *RunCommand) Execute(args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		summary, err := a.runner.RunProcess(ctx, c.Args.Process)
		printSummary(summary)
		if err == nil {
			fmt.Println(successStyle.Render(fmt.Sprintf("Process %s complete.", c.Args.Process)))
		}
		return err
	})
}

type ProcessesCommand struct{}

func (c *ProcessesCommand) Execute(args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	lib, err := workflow.LoadLibrary(cfg.ProcessFile)
	if err != nil {
		return err
	}
	if lib.Path() != "" {
		fmt.Println(dimStyle.Render("Library: " + lib.Path()))
	}

	fmt.Println(headerStyle.Render("Processes"))
	for _, name := range lib.Processes() {
		p, _ := lib.Process(name)
		line := fmt.Sprintf("  %-24s %d steps", name, len(p.Steps))
		if p.Speed > 0 {
			line += fmt.Sprintf(", speed %d", p.Speed)
		}
		fmt.Println(line)
		if p.Description != "" {
			fmt.Println(dimStyle.Render("    " + p.Description))
		}
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Poses"))
	for _, name := range lib.Poses() {
		p, _ := lib.Pose(name)
		var parts []string
		for _, j := range robot.AllJoints() {
			if t, ok := p[j]; ok {
				parts = append(parts, fmt.Sprintf("%s=%s", j, t))
			}
		}
		fmt.Printf("  %-24s %s\n", name, strings.Join(parts, " "))
	}
	return nil
}
