package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// scanner is the single-row scan surface shared by *sql.Row and *sql.Rows.
// Each entity repository supplies a scan hook that maps one row to its
// entity struct; the helpers below provide the find/delete behavior that is
// identical across all entities.
type scanner interface {
	Scan(dest ...any) error
}

// queryOne runs a query expected to match at most one row. A missing row is
// not an error: the caller gets nil, nil.
func queryOne[T any](q querier, scan func(scanner) (*T, error), query string, args ...any) (*T, error) {
	entity, err := scan(q.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// queryAll scans every row of a result set through the entity's scan hook.
func queryAll[T any](q querier, scan func(scanner) (*T, error), query string, args ...any) ([]*T, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*T
	for rows.Next() {
		entity, err := scan(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}

	return entities, rows.Err()
}

// deleteByID removes one row and reports whether a row matched.
func deleteByID(q querier, table, id string) (bool, error) {
	result, err := q.Exec("DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// deleteByTransfer bulk-removes all rows owned by a transfer and returns the
// count removed.
func deleteByTransfer(q querier, table, transferID string) (int64, error) {
	result, err := q.Exec("DELETE FROM "+table+" WHERE transfer_id = ?", transferID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return result.RowsAffected()
}
