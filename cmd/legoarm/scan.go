package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

type ScanCommand struct {
	MaxID  int  `long:"max-id" default:"8" description:"Highest servo id to probe"`
	NoSave bool `long:"no-save" description:"Only list buses, do not update the config file"`
}

func (c *ScanCommand) Execute(args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ids, err := cfg.JointIDs()
	if err != nil {
		return err
	}

	fmt.Println("Scanning serial ports for servos...")
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	buses, err := robot.DiscoverBuses(ctx, c.MaxID)
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	if len(buses) == 0 {
		fmt.Println("No servos found.")
		fmt.Println("Make sure the arm is connected and powered on.")
		os.Exit(1)
	}

	rows := make([][]string, 0, len(buses))
	var candidates []string
	for _, b := range buses {
		var found []string
		for _, s := range b.Servos {
			found = append(found, fmt.Sprintf("%d", s.ID))
		}
		match := "no"
		if b.HasJoints(ids) {
			match = "yes"
			candidates = append(candidates, b.Port)
		}
		rows = append(rows, []string{b.Port, strings.Join(found, " "), match})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Port", "Servo IDs", "All joints").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Println(t.Render())
	fmt.Println()

	if len(candidates) == 0 {
		fmt.Println(errorStyle.Render("No bus has every configured servo id."))
		fmt.Println(dimStyle.Render("Check servo_ids in the config file."))
		os.Exit(1)
	}
	if c.NoSave {
		return nil
	}

	port := candidates[0]
	if len(candidates) > 1 {
		options := make([]huh.Option[string], 0, len(candidates))
		for _, p := range candidates {
			options = append(options, huh.NewOption(p, p))
		}
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which port is the arm on?").
				Options(options...).
				Value(&port),
		))
		if err := form.Run(); err != nil {
			fmt.Println()
			os.Exit(0)
		}
	}

	file := cfg.File()
	if file == "" {
		file = robot.DefaultConfigFile
	}
	if err := robot.SaveValue(file, "port", port); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := robot.SaveValue(file, "driver", robot.DriverFeetech); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Println(successStyle.Render("Arm found on " + port))
	fmt.Printf("Configuration saved to %s\n", file)
	return nil
}
