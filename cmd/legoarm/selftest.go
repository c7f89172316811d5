package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

type SelfTestCommand struct {
	Degrees float64 `short:"d" long:"degrees" default:"15" description:"Travel per joint"`
	Speed   int     `short:"s" long:"speed" default:"30" description:"Speed 1-100"`
}

func (c *SelfTestCommand) Execute(args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		results, err := a.engine.SelfTest(ctx, c.Degrees, c.Speed)
		if err != nil {
			return err
		}

		failed := 0
		rows := make([][]string, 0, len(results))
		for _, r := range results {
			verdict := "ok"
			if !r.OK {
				verdict = "FAIL"
				failed++
			}
			if r.Err != "" {
				verdict += " " + r.Err
			}
			rows = append(rows, []string{
				string(r.Joint),
				fmt.Sprintf("%.1f", r.Start),
				fmt.Sprintf("%.1f", r.Mid),
				fmt.Sprintf("%.1f", r.End),
				verdict,
			})
		}
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(dimStyle).
			Headers("Joint", "Start", "Moved", "Back", "Result").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle.Padding(0, 1)
				}
				if col == 4 && row < len(results) && !results[row].OK {
					return errorStyle.Padding(0, 1)
				}
				return lipgloss.NewStyle().Padding(0, 1)
			})
		fmt.Println(t.Render())

		if failed > 0 {
			return fmt.Errorf("%d joint(s) failed the self test", failed)
		}
		fmt.Println(successStyle.Render("All joints follow commands."))
		return nil
	})
}
