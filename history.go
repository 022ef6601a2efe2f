package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"node.town/subtitler/db"
	"node.town/subtitler/etc"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent utterances and their translations",
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logs := createLoggers()

	if cfg.History.Path == "" {
		return errors.New("history is disabled (history.path is empty)")
	}

	journal, err := db.Open(cfg.History.Path, logs.data)
	if err != nil {
		return err
	}
	defer journal.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := journal.RecentUtterances(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No utterances recorded.")
		return nil
	}

	renderHistory(os.Stdout, entries)
	return nil
}

func renderHistory(w io.Writer, entries []db.Entry) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "Session", "Heard", "Translation"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, e := range entries {
		translation := e.Translation
		if e.Target != "" {
			translation = fmt.Sprintf("[%s] %s", e.Target, e.Translation)
		}
		table.Append([]string{
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			etc.ShortID(e.SessionID),
			fmt.Sprintf("[%s] %s", e.Locale, e.Text),
			translation,
		})
	}

	table.Render()
}
