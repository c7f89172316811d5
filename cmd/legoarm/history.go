package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mhaegens/DMLegoArm/pkg/ops"
)

type HistoryCommand struct {
	Limit int `short:"n" long:"limit" default:"20" description:"Number of operations to show"`
}

func (c *HistoryCommand) Execute(args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.HistoryDB == "" {
		return fmt.Errorf("no history_db configured")
	}
	store, err := ops.OpenStore(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	recent, err := store.Recent(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		fmt.Println("No operations recorded.")
		return nil
	}

	rows := make([][]string, 0, len(recent))
	for _, op := range recent {
		took := "-"
		if !op.Started.IsZero() && !op.Finished.IsZero() {
			took = op.Finished.Sub(op.Started).Round(10 * time.Millisecond).String()
		}
		rows = append(rows, []string{
			op.Submitted.Format("2006-01-02 15:04:05"),
			string(op.Type),
			string(op.Payload),
			string(op.Status),
			took,
			op.Error,
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Submitted", "Type", "Payload", "Status", "Took", "Error").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 3 && row < len(recent) && recent[row].Status == ops.StatusFailed {
				return errorStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Println(t.Render())
	return nil
}
