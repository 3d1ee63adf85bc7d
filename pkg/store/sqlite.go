package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/ritzau/unitconv/pkg/model"
)

// SQLiteStore keeps rules in a SQLite database
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (and if needed creates) the database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// A single connection serializes writers and keeps ":memory:" databases intact
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS conversion_rules (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			from_unit TEXT NOT NULL,
			to_unit TEXT NOT NULL,
			unit_lo TEXT NOT NULL,
			unit_hi TEXT NOT NULL,
			conversion_rate REAL NOT NULL,
			category TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS conversion_rules_pair
			ON conversion_rules (unit_lo, unit_hi);`,
		`CREATE TABLE IF NOT EXISTS store_meta (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);`,
		`INSERT OR IGNORE INTO store_meta (key, value) VALUES ('version', 0);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

const selectRules = `SELECT id, from_unit, to_unit, conversion_rate, category, note, created_at, updated_at
	FROM conversion_rules`

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]model.ConversionRule, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]model.ConversionRule, 0, len(all))
	for _, r := range all {
		if f.Match(r) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]model.ConversionRule, error) {
	rows, err := s.db.QueryContext(ctx, selectRules+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var result []model.ConversionRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (model.ConversionRule, error) {
	row := s.db.QueryRowContext(ctx, selectRules+` WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ConversionRule{}, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return r, err
}

func (s *SQLiteStore) Create(ctx context.Context, r model.ConversionRule) (model.ConversionRule, error) {
	now := s.now().UTC()
	r.ID = uuid.New().String()
	r.CreatedAt = now
	r.UpdatedAt = now
	key := r.PairKey()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO conversion_rules
			(id, from_unit, to_unit, unit_lo, unit_hi, conversion_rate, category, note, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.FromUnit, r.ToUnit, key.Lo, key.Hi, r.ConversionRate, string(r.Category), r.Note,
			formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
		return err
	})
	if err != nil {
		return model.ConversionRule{}, s.translate(err, r)
	}
	return r, nil
}

func (s *SQLiteStore) Update(ctx context.Context, r model.ConversionRule) (model.ConversionRule, error) {
	existing, err := s.Get(ctx, r.ID)
	if err != nil {
		return model.ConversionRule{}, err
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = s.now().UTC()
	key := r.PairKey()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE conversion_rules
			SET from_unit = ?, to_unit = ?, unit_lo = ?, unit_hi = ?, conversion_rate = ?,
				category = ?, note = ?, updated_at = ?
			WHERE id = ?`,
			r.FromUnit, r.ToUnit, key.Lo, key.Hi, r.ConversionRate, string(r.Category), r.Note,
			formatTime(r.UpdatedAt), r.ID)
		if err != nil {
			return err
		}
		return requireRow(res, r.ID)
	})
	if err != nil {
		return model.ConversionRule{}, s.translate(err, r)
	}
	return r, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM conversion_rules WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete rule %s: %w", id, err)
		}
		return requireRow(res, id)
	})
}

func (s *SQLiteStore) Version(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'version'`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read store version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction and bumps the store version on success
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE store_meta SET value = value + 1 WHERE key = 'version'`); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to bump store version: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) translate(err error, r model.ConversionRule) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%s/%s: %w", r.FromUnit, r.ToUnit, ErrDuplicateRule)
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("failed to write rule %s: %w", r.ID, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (model.ConversionRule, error) {
	var (
		r                model.ConversionRule
		category         string
		created, updated string
	)
	if err := row.Scan(&r.ID, &r.FromUnit, &r.ToUnit, &r.ConversionRate, &category, &r.Note, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan rule: %w", err)
	}
	r.Category = model.Category(category)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
