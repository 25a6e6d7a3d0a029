package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// TransferType represents the direction of a transfer
type TransferType string

const (
	TransferTypeIncoming TransferType = "incoming"
	TransferTypeOutgoing TransferType = "outgoing"
)

// TransferStatus represents the aggregate status of a transfer. It is derived
// from the statuses of the transfer's documents (see Workflow), never set
// directly by callers outside the signing path.
type TransferStatus string

const (
	TransferStatusPending         TransferStatus = "pending"
	TransferStatusReady           TransferStatus = "ready"
	TransferStatusPartiallySigned TransferStatus = "partially-signed"
	TransferStatusCompleted       TransferStatus = "completed"
	TransferStatusCancelled       TransferStatus = "cancelled"
)

// Sender identifies the party that initiated a transfer. Stored as flattened
// nullable columns on the transfers table; absent when sender_id is NULL.
type Sender struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email,omitempty"`
	PublicKey string     `json:"public_key,omitempty"`
	Transport string     `json:"transport,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Verified  bool       `json:"verified"`
}

// Transfer represents a signing deal grouping documents and recipients
type Transfer struct {
	ID              string         `json:"id"`
	Type            TransferType   `json:"type"`
	Status          TransferStatus `json:"status"`
	Sender          *Sender        `json:"sender,omitempty"`
	TransportType   string         `json:"transport_type"`
	TransportConfig map[string]any `json:"transport_config,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TransferUpdate holds a sparse set of changes; only non-nil fields are
// written. Map fields are written when non-nil.
type TransferUpdate struct {
	Type            *TransferType
	Status          *TransferStatus
	Sender          *Sender
	TransportType   *string
	TransportConfig map[string]any
	Metadata        map[string]any
}

const transferColumns = `id, type, status, sender_id, sender_name, sender_email, sender_public_key,
	       sender_transport, sender_timestamp, sender_verified,
	       transport_type, transport_config, metadata, created_at, updated_at`

// scanTransfer maps one transfers row to a Transfer
func scanTransfer(row scanner) (*Transfer, error) {
	t := &Transfer{}
	var senderID, senderName, senderEmail, senderPublicKey, senderTransport sql.NullString
	var senderTimestamp sql.NullInt64
	var senderVerified sql.NullBool
	var transportConfigJSON, metadataJSON sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(&t.ID, &t.Type, &t.Status, &senderID, &senderName, &senderEmail, &senderPublicKey,
		&senderTransport, &senderTimestamp, &senderVerified,
		&t.TransportType, &transportConfigJSON, &metadataJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if senderID.Valid {
		t.Sender = &Sender{
			ID:        senderID.String,
			Name:      nullStringValue(senderName),
			Email:     nullStringValue(senderEmail),
			PublicKey: nullStringValue(senderPublicKey),
			Transport: nullStringValue(senderTransport),
			Timestamp: nullUnixToPtr(senderTimestamp),
			Verified:  senderVerified.Valid && senderVerified.Bool,
		}
	}

	if err := unmarshalFromNullString(transportConfigJSON, &t.TransportConfig); err != nil {
		log.Warn().Err(err).Str("transfer_id", t.ID).Msg("Failed to unmarshal transfer transport config")
	}
	if err := unmarshalFromNullString(metadataJSON, &t.Metadata); err != nil {
		log.Warn().Err(err).Str("transfer_id", t.ID).Msg("Failed to unmarshal transfer metadata")
	}

	t.CreatedAt = fromUnix(createdAt)
	t.UpdatedAt = fromUnix(updatedAt)

	return t, nil
}

// senderArgs flattens an optional sender into its column values
func senderArgs(s *Sender) []any {
	if s == nil {
		return []any{nil, nil, nil, nil, nil, nil, nil}
	}
	return []any{
		s.ID,
		nullableString(s.Name),
		nullableString(s.Email),
		nullableString(s.PublicKey),
		nullableString(s.Transport),
		ptrToUnix(s.Timestamp),
		s.Verified,
	}
}

// CreateTransfer inserts a transfer and returns the freshly read-back row.
// An id is generated when absent; status defaults to pending.
func (db *DB) CreateTransfer(transfer *Transfer) (*Transfer, error) {
	return createTransfer(db.DB, transfer)
}

func createTransfer(q querier, transfer *Transfer) (*Transfer, error) {
	if transfer.ID == "" {
		transfer.ID = newID()
	}
	if transfer.Status == "" {
		transfer.Status = TransferStatusPending
	}

	transportConfigJSON, err := marshalToPtr(transfer.TransportConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transport config: %w", err)
	}
	metadataJSON, err := marshalToPtr(transfer.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := toUnix(time.Now())
	args := []any{transfer.ID, transfer.Type, transfer.Status}
	args = append(args, senderArgs(transfer.Sender)...)
	args = append(args, transfer.TransportType, transportConfigJSON, metadataJSON, now, now)

	if _, err := q.Exec(`
		INSERT INTO transfers (id, type, status, sender_id, sender_name, sender_email, sender_public_key,
			sender_transport, sender_timestamp, sender_verified,
			transport_type, transport_config, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...); err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}

	return getTransfer(q, transfer.ID)
}

// GetTransfer retrieves a transfer by ID, returning nil when no row matches
func (db *DB) GetTransfer(id string) (*Transfer, error) {
	return getTransfer(db.DB, id)
}

func getTransfer(q querier, id string) (*Transfer, error) {
	transfer, err := queryOne(q, scanTransfer, `
		SELECT `+transferColumns+`
		FROM transfers WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return transfer, nil
}

// ListTransfers retrieves all transfers, newest first
func (db *DB) ListTransfers() ([]*Transfer, error) {
	transfers, err := queryAll(db.DB, scanTransfer, `
		SELECT `+transferColumns+`
		FROM transfers ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return transfers, nil
}

// ListTransfersByStatus retrieves all transfers with the given status
func (db *DB) ListTransfersByStatus(status TransferStatus) ([]*Transfer, error) {
	transfers, err := queryAll(db.DB, scanTransfer, `
		SELECT `+transferColumns+`
		FROM transfers WHERE status = ? ORDER BY created_at DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers by status: %w", err)
	}
	return transfers, nil
}

// ListTransfersByType retrieves all transfers of the given direction
func (db *DB) ListTransfersByType(transferType TransferType) ([]*Transfer, error) {
	transfers, err := queryAll(db.DB, scanTransfer, `
		SELECT `+transferColumns+`
		FROM transfers WHERE type = ? ORDER BY created_at DESC
	`, transferType)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers by type: %w", err)
	}
	return transfers, nil
}

// ListRecentTransfers returns the most recently created transfers
func (db *DB) ListRecentTransfers(limit int) ([]*Transfer, error) {
	transfers, err := queryAll(db.DB, scanTransfer, `
		SELECT `+transferColumns+`
		FROM transfers ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent transfers: %w", err)
	}
	return transfers, nil
}

// UpdateTransfer applies a sparse update. An empty update performs no write
// and returns the current row; a missing id returns nil. updated_at is bumped
// on every write.
func (db *DB) UpdateTransfer(id string, update TransferUpdate) (*Transfer, error) {
	return updateTransfer(db.DB, id, update)
}

func updateTransfer(q querier, id string, update TransferUpdate) (*Transfer, error) {
	var setClauses []string
	var args []any

	if update.Type != nil {
		setClauses = append(setClauses, "type = ?")
		args = append(args, *update.Type)
	}
	if update.Status != nil {
		setClauses = append(setClauses, "status = ?")
		args = append(args, *update.Status)
	}
	if update.Sender != nil {
		setClauses = append(setClauses,
			"sender_id = ?", "sender_name = ?", "sender_email = ?", "sender_public_key = ?",
			"sender_transport = ?", "sender_timestamp = ?", "sender_verified = ?")
		args = append(args, senderArgs(update.Sender)...)
	}
	if update.TransportType != nil {
		setClauses = append(setClauses, "transport_type = ?")
		args = append(args, *update.TransportType)
	}
	if update.TransportConfig != nil {
		configJSON, err := marshalToPtr(update.TransportConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transport config: %w", err)
		}
		setClauses = append(setClauses, "transport_config = ?")
		args = append(args, configJSON)
	}
	if update.Metadata != nil {
		metadataJSON, err := marshalToPtr(update.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		setClauses = append(setClauses, "metadata = ?")
		args = append(args, metadataJSON)
	}

	// Nothing to change: no write, return the current row
	if len(setClauses) == 0 {
		return getTransfer(q, id)
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, toUnix(time.Now()), id)

	result, err := q.Exec("UPDATE transfers SET "+strings.Join(setClauses, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update transfer: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}

	return getTransfer(q, id)
}

// DeleteTransfer deletes a transfer row by ID, reporting whether it existed.
// Child documents and recipients cascade at the schema level; the workflow
// delete path removes them explicitly so counts can be reported.
func (db *DB) DeleteTransfer(id string) (bool, error) {
	return deleteByID(db.DB, "transfers", id)
}

// CountTransfers returns the number of transfers with the given status
func (db *DB) CountTransfers(status TransferStatus) (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM transfers WHERE status = ?", status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transfers: %w", err)
	}
	return count, nil
}
