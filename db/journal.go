// Package db is the SQLite transcript journal.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
	"node.town/subtitler/etc"
)

// DB is the journal connection with a prepared statement cache.
type DB struct {
	*sql.DB
	stmtCache sync.Map
	logger    *log.Logger
}

// Entry is an utterance together with its most recent translation, if any.
type Entry struct {
	ID          int64
	SessionID   string
	Locale      string
	Text        string
	CreatedAt   time.Time
	Target      string
	Translation string
}

// Open opens (creating if needed) the journal at path and migrates it.
func Open(path string, logger *log.Logger) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// One writer keeps SQLite away from "database is locked".
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(sqlDB, logger); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	return &DB{DB: sqlDB, logger: logger}, nil
}

// Close closes the cached statements and the connection.
func (db *DB) Close() error {
	db.stmtCache.Range(func(_, value any) bool {
		if stmt, ok := value.(*sql.Stmt); ok {
			stmt.Close()
		}
		return true
	})
	return db.DB.Close()
}

func (db *DB) prepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := db.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	db.stmtCache.Store(query, stmt)
	return stmt, nil
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db.logger.Debug("executing SQL statement", "query", query, "args", args)
	stmt, err := db.prepareStmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

func (db *DB) RecordUtterance(ctx context.Context, sessionID, locale, text string) (int64, error) {
	res, err := db.exec(ctx,
		"INSERT INTO utterances (session_id, locale, text) VALUES (?, ?, ?)",
		sessionID, locale, text,
	)
	if err != nil {
		return 0, fmt.Errorf("record utterance: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record utterance: %w", err)
	}
	return id, nil
}

func (db *DB) RecordTranslation(ctx context.Context, utteranceID int64, target, text string) error {
	_, err := db.exec(ctx,
		"INSERT INTO translations (utterance_id, target, text) VALUES (?, ?, ?)",
		utteranceID, target, text,
	)
	if err != nil {
		return fmt.Errorf("record translation: %w", err)
	}
	return nil
}

// RecentUtterances returns up to limit entries, newest first.
func (db *DB) RecentUtterances(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT
			u.id,
			u.session_id,
			u.locale,
			u.text,
			u.created_at,
			COALESCE(t.target, ''),
			COALESCE(t.text, '')
		FROM utterances u
		LEFT JOIN translations t ON t.id = (
			SELECT id FROM translations
			WHERE utterance_id = u.id
			ORDER BY id DESC
			LIMIT 1
		)
		ORDER BY u.id DESC
		LIMIT ?
	`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent utterances: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var julian float64
		if err := rows.Scan(
			&e.ID,
			&e.SessionID,
			&e.Locale,
			&e.Text,
			&julian,
			&e.Target,
			&e.Translation,
		); err != nil {
			return nil, fmt.Errorf("scan utterance: %w", err)
		}
		e.CreatedAt = etc.JulianDayToTime(julian)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
