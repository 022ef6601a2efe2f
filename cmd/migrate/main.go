// Command migrate brings a transcript journal up to the current schema
// without starting the listener.
package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"node.town/subtitler/db"
)

func main() {
	logger := log.New(os.Stdout)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending journal migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("db")
			sqlLogger := logger.With().WithPrefix("data")

			logger.Info("migrating journal", "path", path)
			journal, err := db.Open(path, sqlLogger)
			if err != nil {
				return err
			}
			defer journal.Close()

			logger.Info("journal is up to date")
			return nil
		},
	}
	cmd.Flags().String("db", "subtitler.db", "Journal path")

	if err := cmd.Execute(); err != nil {
		logger.Fatal("migrate", "error", err.Error())
	}
}
