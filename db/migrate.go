package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

type Migration struct {
	ID          string
	Description string
	Up          func(*sql.Tx) error
}

var migrations = []Migration{
	{
		ID:          "001_journal",
		Description: "Create utterance and translation tables",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS utterances (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					session_id TEXT NOT NULL,
					locale TEXT NOT NULL,
					text TEXT NOT NULL,
					created_at REAL DEFAULT (julianday('now'))
				);

				CREATE TABLE IF NOT EXISTS translations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					utterance_id INTEGER NOT NULL,
					target TEXT NOT NULL,
					text TEXT NOT NULL,
					created_at REAL DEFAULT (julianday('now')),
					FOREIGN KEY (utterance_id) REFERENCES utterances(id)
				);

				CREATE INDEX IF NOT EXISTS translations_utterance
					ON translations (utterance_id);
			`)
			return err
		},
	},
}

// Migrate applies every migration not yet recorded in migration_history.
func Migrate(db *sql.DB, logger *log.Logger) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migration_history (
			id TEXT PRIMARY KEY,
			applied_at REAL DEFAULT (julianday('now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("create migration_history table: %w", err)
	}

	for _, migration := range migrations {
		var applied bool
		err := db.QueryRow("SELECT 1 FROM migration_history WHERE id = ?", migration.ID).Scan(&applied)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", migration.ID, err)
		}
		if applied {
			logger.Debug("migration already applied", "id", migration.ID)
			continue
		}

		logger.Info("applying migration", "id", migration.ID, "description", migration.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", migration.ID, err)
		}

		if err := migration.Up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", migration.ID, err)
		}

		_, err = tx.Exec("INSERT INTO migration_history (id) VALUES (?)", migration.ID)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", migration.ID, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", migration.ID, err)
		}
	}

	return nil
}
