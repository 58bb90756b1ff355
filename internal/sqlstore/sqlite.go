// Package sqlstore persists benchmark records in SQLite so a registry can be
// imported from or exported to a database file.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/luxfi/fhebench"
)

// Store is a SQLite-backed record table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS benchmark_records (
		operation    TEXT    NOT NULL,
		bit_width    INTEGER NOT NULL CHECK (bit_width > 0),
		hardware     TEXT    NOT NULL,
		operand_mode TEXT    NOT NULL,
		latency_ms   REAL    NOT NULL CHECK (latency_ms >= 0),
		UNIQUE (operation, bit_width, hardware, operand_mode)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored records with records in a single transaction.
func (s *Store) Save(ctx context.Context, records []fhebench.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM benchmark_records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO benchmark_records (operation, bit_width, hardware, operand_mode, latency_ms) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %s: %w", r.Key(), err)
		}
		if _, err := stmt.ExecContext(ctx, r.Operation, r.BitWidth, r.Hardware, r.Mode.String(), r.LatencyMs); err != nil {
			return fmt.Errorf("insert %s: %w", r.Key(), err)
		}
	}

	return tx.Commit()
}

// Records returns all stored records.
func (s *Store) Records(ctx context.Context) ([]fhebench.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT operation, bit_width, hardware, operand_mode, latency_ms FROM benchmark_records`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []fhebench.Record
	for rows.Next() {
		var (
			r    fhebench.Record
			mode string
		)
		if err := rows.Scan(&r.Operation, &r.BitWidth, &r.Hardware, &mode, &r.LatencyMs); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if r.Mode, err = fhebench.ParseOperandMode(mode); err != nil {
			return nil, fmt.Errorf("record %s/%d/%s: %w", r.Operation, r.BitWidth, r.Hardware, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Registry loads all stored records into a registry.
func (s *Store) Registry(ctx context.Context) (*fhebench.Registry, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}
	return fhebench.New(records)
}
