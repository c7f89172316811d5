package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/motion"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
	"github.com/mhaegens/DMLegoArm/pkg/workflow"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// app is everything a command needs to drive the arm.
type app struct {
	cfg     *robot.Config
	log     logger.Logger
	engine  *motion.Engine
	library *workflow.Library
	runner  *workflow.Runner
	closers []func() error
}

func loadConfig() (*robot.Config, logger.Logger, error) {
	cfg, err := robot.LoadConfigFrom(opts.Config)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	return cfg, logger.CreateLogger(cfg.Log.File, level), nil
}

// openApp connects to the arm and builds the engine and workflow runner.
// Cancelling ctx stops every motor.
func openApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.File() != "" {
		log.Debug("config loaded", logger.WithField("file", cfg.File()))
	}

	a := &app{cfg: cfg, log: log}
	drivers, err := a.openDrivers(ctx)
	if err != nil {
		return nil, err
	}

	a.engine, err = motion.New(ctx, drivers, motionOptions(cfg, log))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.library, err = workflow.LoadLibrary(cfg.ProcessFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.runner = workflow.NewRunner(a.engine, a.library, workflow.TunablesFromConfig(cfg.Workflow, cfg.Motion), log)

	stop := context.AfterFunc(ctx, func() {
		if err := a.engine.Stop(context.Background()); err != nil {
			log.Warn("stop failed", logger.WithError(err))
		}
	})
	a.closers = append([]func() error{func() error { stop(); return nil }}, a.closers...)
	return a, nil
}

// motionOptions maps the config onto engine options. Servo drivers turn less
// than a full revolution, so their commands are chunked below that.
func motionOptions(cfg *robot.Config, log logger.Logger) motion.Options {
	opts := motion.OptionsFromConfig(cfg.Motion)
	opts.Persister = robot.CalibrationFile{Path: cfg.CalibrationFile}
	opts.Logger = log
	if cfg.Driver == robot.DriverFeetech {
		opts.MaxChunkDegrees = min(opts.MaxChunkDegrees, robot.FeetechMaxChunkDegrees)
	}
	return opts
}

func (a *app) openDrivers(ctx context.Context) (map[robot.Joint]robot.MotorDriver, error) {
	switch a.cfg.Driver {
	case robot.DriverSim:
		a.log.Info("using simulated motors")
		return robot.SimDrivers(a.cfg.SimDegreesPerSecond), nil

	case robot.DriverFeetech:
		if a.cfg.Port == "" {
			return nil, fmt.Errorf("no serial port configured, run 'legoarm scan' first")
		}
		ids, err := a.cfg.JointIDs()
		if err != nil {
			return nil, err
		}
		arm, err := robot.OpenFeetechArm(ctx, a.cfg.Port, ids)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, arm.Close)
		return arm.Drivers(), nil
	}
	return nil, fmt.Errorf("unknown driver %q (want %s or %s)", a.cfg.Driver, robot.DriverSim, robot.DriverFeetech)
}

// Close releases the hardware.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withApp runs fn with an open app and reports its error.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := interruptContext()
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printSummary(s *motion.MoveSummary) {
	if s == nil {
		return
	}
	rows := make([][]string, 0, len(s.Joints))
	for _, jm := range s.Joints {
		rows = append(rows, []string{
			string(jm.Joint),
			jm.Commanded,
			fmt.Sprintf("%.1f", jm.Target),
			fmt.Sprintf("%.1f", jm.Position),
			fmt.Sprintf("%+.1f", jm.Error),
			fmt.Sprintf("%+.1f", jm.Correction),
		})
	}
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Commanded", "Target", "Position", "Error", "Correction").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cell
		})
	fmt.Println(t.Render())
	status := fmt.Sprintf("%s move at speed %d in %s", s.Mode, s.Speed, s.Elapsed.Round(time.Millisecond))
	if s.TimedOut {
		status += errorStyle.Render(" (timed out)")
	}
	fmt.Println(dimStyle.Render(status))
}

func printPositions(pos map[robot.Joint]float64) {
	for _, j := range robot.AllJoints() {
		p := pos[j]
		val := fmt.Sprintf("%8.1f°", p)
		if math.IsNaN(p) {
			val = errorStyle.Render("     n/a")
		}
		fmt.Printf("  %s %-16s %s\n", j, dimStyle.Render("("+j.Role()+")"), val)
	}
}
