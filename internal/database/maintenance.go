package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Optimize runs SQLite's PRAGMA optimize to refresh planner stats.
func (db *DB) Optimize() error {
	if db == nil || db.DB == nil {
		return fmt.Errorf("database not initialized")
	}

	if _, err := db.Exec("PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to optimize database: %w", err)
	}

	return nil
}

// Vacuum rebuilds the database file to reclaim unused space.
func (db *DB) Vacuum() error {
	if db == nil || db.DB == nil {
		return fmt.Errorf("database not initialized")
	}

	if _, err := db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}

	return nil
}

// PruneTerminalTransfers removes completed and cancelled transfers whose last
// update is older than age, cascading through their documents and recipients.
// Each transfer is removed in its own transaction so a failure mid-prune
// never leaves a partially deleted deal. Returns the number pruned.
func (w *Workflow) PruneTerminalTransfers(age time.Duration) (int, error) {
	cutoff := toUnix(time.Now().Add(-age))

	rows, err := w.db.Query(`
		SELECT id FROM transfers
		WHERE status IN (?, ?) AND updated_at < ?
	`, TransferStatusCompleted, TransferStatusCancelled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list prunable transfers: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan transfer id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to list prunable transfers: %w", err)
	}

	pruned := 0
	for _, id := range ids {
		existed, err := w.DeleteTransferAndRelatedData(id)
		if err != nil {
			return pruned, err
		}
		if existed {
			pruned++
		}
	}

	if pruned > 0 {
		log.Info().Int("pruned", pruned).Dur("age", age).Msg("Pruned terminal transfers")
	}

	return pruned, nil
}
