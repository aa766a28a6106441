package store

import (
	"database/sql"
	"fmt"

	"scanasha/internal/logging"
)

// migration adds a column that older databases lack.
type migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations handle tables that exist but predate newer columns.
var pendingMigrations = []migration{
	// Decentralization metrics from the report step.
	{"contracts", "metrics", "TEXT NOT NULL DEFAULT ''"},
	{"audits", "metrics", "TEXT NOT NULL DEFAULT ''"},
	// Network the contract lives on.
	{"contracts", "chain", "TEXT NOT NULL DEFAULT 'mainnet'"},
}

func runMigrations(db *sql.DB) error {
	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		logging.StoreDebug("Executing migration: %s", query)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.Table, m.Column, err)
		}
		applied++
	}
	if applied > 0 {
		logging.Store("Schema migrations applied: %d", applied)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid          int
			name, ctype  string
			notnull, pk  int
			defaultValue any
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &defaultValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	return err == nil && count > 0
}
