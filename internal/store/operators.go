// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// UpsertOperatorByName returns the first operator with the given trimmed name,
// creating one if none exists. First-wins: duplicates created by other paths
// are tolerated and the oldest row is used.
func (s *Store) UpsertOperatorByName(ctx context.Context, name string) (Operator, error) {
	return upsertOperatorByName(ctx, s.db, name)
}

// UpsertOperatorByName is the transactional variant used by ingestion.
func (t *Tx) UpsertOperatorByName(ctx context.Context, name string) (Operator, error) {
	return upsertOperatorByName(ctx, t.tx, name)
}

func upsertOperatorByName(ctx context.Context, q dbtx, name string) (Operator, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Operator{}, fmt.Errorf("operator name is empty")
	}

	var op Operator
	var idStr, createdStr string
	err := q.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM operators WHERE name = ? ORDER BY created_at ASC LIMIT 1`,
		name,
	).Scan(&idStr, &op.Name, &createdStr)
	switch {
	case err == nil:
		id, perr := uuid.Parse(idStr)
		if perr != nil {
			return Operator{}, fmt.Errorf("corrupt operator id %q: %w", idStr, perr)
		}
		op.ID = id
		op.CreatedAt = parseTime(createdStr)
		return op, nil
	case err != sql.ErrNoRows:
		return Operator{}, fmt.Errorf("select operator: %w", err)
	}

	op = Operator{ID: uuid.New(), Name: name}
	createdStr = now()
	if _, err := q.ExecContext(ctx,
		`INSERT INTO operators (id, name, created_at) VALUES (?, ?, ?)`,
		op.ID.String(), op.Name, createdStr,
	); err != nil {
		return Operator{}, fmt.Errorf("insert operator: %w", err)
	}
	op.CreatedAt = parseTime(createdStr)
	return op, nil
}

// GetOperator retrieves one operator by id.
func (s *Store) GetOperator(ctx context.Context, id uuid.UUID) (Operator, error) {
	var op Operator
	var idStr, createdStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM operators WHERE id = ?`, id.String(),
	).Scan(&idStr, &op.Name, &createdStr)
	if err == sql.ErrNoRows {
		return Operator{}, ErrNotFound
	}
	if err != nil {
		return Operator{}, fmt.Errorf("select operator: %w", err)
	}
	op.ID = id
	op.CreatedAt = parseTime(createdStr)
	return op, nil
}

// CountFilesByOperator returns how many recordings reference the operator.
func (s *Store) CountFilesByOperator(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE operator_id = ?`, id.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count operator files: %w", err)
	}
	return n, nil
}

// ListOperators returns operators, optionally filtered by a name substring.
func (s *Store) ListOperators(ctx context.Context, query string, limit int) ([]Operator, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	sqlQuery := `SELECT id, name, created_at FROM operators`
	args := []any{}
	if query != "" {
		sqlQuery += ` WHERE name LIKE ? COLLATE NOCASE`
		args = append(args, "%"+query+"%")
	}
	sqlQuery += ` ORDER BY name ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Operator
	for rows.Next() {
		var op Operator
		var idStr, createdStr string
		if err := rows.Scan(&idStr, &op.Name, &createdStr); err != nil {
			return nil, err
		}
		id, perr := uuid.Parse(idStr)
		if perr != nil {
			continue
		}
		op.ID = id
		op.CreatedAt = parseTime(createdStr)
		out = append(out, op)
	}
	return out, rows.Err()
}
