package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/motion"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

type CalibrateCommand struct {
	Status   bool     `long:"status" description:"Show recorded points and what is missing"`
	Record   []string `long:"record" value-name:"JOINT:POINT" description:"Record the current position of a joint as a point"`
	Finalize bool     `long:"finalize" description:"Derive limits from the points and move home"`
	Reset    bool     `long:"reset" description:"Forget every recorded point"`
	Backlash []string `long:"backlash" value-name:"JOINT=DEGREES" description:"Set the backlash compensation of a joint"`
	Speed    int      `short:"s" long:"speed" default:"30" description:"Speed for the move home after finalize"`
}

func (c *CalibrateCommand) Execute(args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		scripted := c.Status || c.Finalize || c.Reset || len(c.Record) > 0 || len(c.Backlash) > 0
		if !scripted {
			return c.wizard(ctx, a)
		}

		if c.Reset {
			if err := a.engine.ResetCalibration(ctx); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("Calibration reset."))
		}
		for _, arg := range c.Backlash {
			if err := setBacklash(ctx, a, arg); err != nil {
				return err
			}
		}
		for _, arg := range c.Record {
			if err := recordPoint(ctx, a, arg); err != nil {
				return err
			}
		}
		if c.Finalize {
			if err := finalize(ctx, a, c.Speed); err != nil {
				return err
			}
		}
		if c.Status || !c.Finalize {
			printCalibration(a.engine.CalibrationStatus())
		}
		return nil
	})
}

func recordPoint(ctx context.Context, a *app, arg string) error {
	name, point, ok := strings.Cut(arg, ":")
	if !ok {
		return fmt.Errorf("bad point %q: want JOINT:POINT", arg)
	}
	j, err := robot.ParseJoint(name)
	if err != nil {
		return err
	}
	deg, err := a.engine.RecordPoint(ctx, j, point)
	if err != nil {
		return err
	}
	fmt.Printf("Recorded %s %s at %.1f°\n", j, point, deg)
	return nil
}

func setBacklash(ctx context.Context, a *app, arg string) error {
	name, value, ok := strings.Cut(arg, "=")
	if !ok {
		return fmt.Errorf("bad backlash %q: want JOINT=DEGREES", arg)
	}
	j, err := robot.ParseJoint(name)
	if err != nil {
		return err
	}
	deg, err := strconv.ParseFloat(value, 64)
	if err != nil || deg < 0 {
		return fmt.Errorf("bad backlash %q: want a non-negative number of degrees", value)
	}
	if err := a.engine.SetBacklash(ctx, j, deg); err != nil {
		return err
	}
	fmt.Printf("Backlash of %s set to %.1f°\n", j, deg)
	return nil
}

func finalize(ctx context.Context, a *app, speed int) error {
	summary, err := a.engine.FinalizeCalibration(ctx, speed)
	var incomplete *motion.CalibrationIncompleteError
	if errors.As(err, &incomplete) {
		printCalibration(a.engine.CalibrationStatus())
		return err
	}
	printSummary(summary)
	if err != nil {
		return err
	}
	fmt.Println(successStyle.Render("Calibration finalized, arm is home."))
	return nil
}

// wizard teaches every required point by hand with the motors released.
func (c *CalibrateCommand) wizard(ctx context.Context, a *app) error {
	fmt.Println(headerStyle.Render("LEGO Arm Calibration"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println()

	if err := a.engine.SetCoast(ctx, true); err != nil {
		a.log.Warn("could not release motors", logger.WithError(err))
	}
	defer func() {
		if err := a.engine.SetCoast(context.Background(), false); err != nil {
			a.log.Warn("could not brake motors", logger.WithError(err))
		}
	}()

	status := a.engine.CalibrationStatus()
	if len(status.Missing) == 0 {
		redo := false
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title("Every point is already recorded. Record them again?").
				Value(&redo),
		))
		if err := form.Run(); err != nil {
			fmt.Println()
			os.Exit(0)
		}
		if !redo {
			return finalize(ctx, a, c.Speed)
		}
		status.Missing = make(map[robot.Joint][]string)
		for _, j := range robot.AllJoints() {
			status.Missing[j] = robot.RequiredPoints(j)
		}
	}

	for _, j := range robot.AllJoints() {
		points := status.Missing[j]
		if len(points) == 0 {
			continue
		}
		fmt.Println(subHeaderStyle.Render(fmt.Sprintf("━━━ Joint %s (%s) ━━━", j, j.Role())))
		for _, point := range points {
			waitForUser(fmt.Sprintf("Move joint %s by hand to its %s position.", j, headerStyle.Render(point)))
			if err := recordPoint(ctx, a, string(j)+":"+point); err != nil {
				return err
			}
		}
		fmt.Println()
	}

	printCalibration(a.engine.CalibrationStatus())
	waitForUser("Keep clear of the arm. It will brake and move to home.")
	if err := a.engine.SetCoast(ctx, false); err != nil {
		return err
	}
	return finalize(ctx, a, c.Speed)
}

func waitForUser(prompt string) {
	fmt.Println(prompt)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("").
				Affirmative("Continue").
				Negative("").
				Value(new(bool)),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
}

func printCalibration(s motion.CalibrationStatus) {
	fmt.Printf("Phase: %s\n", headerStyle.Render(string(s.Phase)))

	rows := make([][]string, 0, len(robot.AllJoints()))
	for _, j := range robot.AllJoints() {
		var points []string
		for _, name := range robot.PointNames(s.Points[j]) {
			points = append(points, fmt.Sprintf("%s=%.1f", name, s.Points[j][name]))
		}
		limits := "-"
		if lim, ok := s.Limits[j]; ok {
			limits = fmt.Sprintf("%.1f … %.1f", lim.Lo, lim.Hi)
		}
		rows = append(rows, []string{
			string(j),
			j.Role(),
			strings.Join(points, " "),
			strings.Join(s.Missing[j], " "),
			limits,
		})
	}

	cell := lipgloss.NewStyle().Padding(0, 1)
	missing := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Role", "Points", "Missing", "Limits").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 3 {
				return missing
			}
			return cell
		})
	fmt.Println(t.Render())
}
