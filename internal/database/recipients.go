package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RecipientStatus tracks a recipient through the notify/view/sign milestones
type RecipientStatus string

const (
	RecipientStatusPending  RecipientStatus = "pending"
	RecipientStatusNotified RecipientStatus = "notified"
	RecipientStatusViewed   RecipientStatus = "viewed"
	RecipientStatusSigned   RecipientStatus = "signed"
)

// Recipient represents a party who must act on a transfer
type Recipient struct {
	ID          string          `json:"id"`
	TransferID  string          `json:"transfer_id"`
	Identifier  string          `json:"identifier"`
	Transport   string          `json:"transport"`
	Status      RecipientStatus `json:"status"`
	Preferences map[string]any  `json:"preferences,omitempty"`
	NotifiedAt  *time.Time      `json:"notified_at,omitempty"`
	ViewedAt    *time.Time      `json:"viewed_at,omitempty"`
	SignedAt    *time.Time      `json:"signed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RecipientUpdate holds a sparse set of changes; only non-nil fields are written
type RecipientUpdate struct {
	Identifier  *string
	Transport   *string
	Status      *RecipientStatus
	Preferences map[string]any
}

const recipientColumns = `id, transfer_id, identifier, transport, status, preferences,
	       notified_at, viewed_at, signed_at, created_at`

// scanRecipient maps one recipients row to a Recipient
func scanRecipient(row scanner) (*Recipient, error) {
	r := &Recipient{}
	var preferencesJSON sql.NullString
	var notifiedAt, viewedAt, signedAt sql.NullInt64
	var createdAt int64

	if err := row.Scan(&r.ID, &r.TransferID, &r.Identifier, &r.Transport, &r.Status, &preferencesJSON,
		&notifiedAt, &viewedAt, &signedAt, &createdAt); err != nil {
		return nil, err
	}

	if err := unmarshalFromNullString(preferencesJSON, &r.Preferences); err != nil {
		log.Warn().Err(err).Str("recipient_id", r.ID).Msg("Failed to unmarshal recipient preferences")
	}

	r.NotifiedAt = nullUnixToPtr(notifiedAt)
	r.ViewedAt = nullUnixToPtr(viewedAt)
	r.SignedAt = nullUnixToPtr(signedAt)
	r.CreatedAt = fromUnix(createdAt)

	return r, nil
}

// CreateRecipient inserts a recipient and returns the freshly read-back row.
// The owning transfer must exist; a missing transfer_id surfaces as a
// foreign-key constraint error.
func (db *DB) CreateRecipient(recipient *Recipient) (*Recipient, error) {
	return createRecipient(db.DB, recipient)
}

func createRecipient(q querier, recipient *Recipient) (*Recipient, error) {
	if recipient.ID == "" {
		recipient.ID = newID()
	}
	if recipient.Status == "" {
		recipient.Status = RecipientStatusPending
	}

	preferencesJSON, err := marshalToPtr(recipient.Preferences)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preferences: %w", err)
	}

	if _, err := q.Exec(`
		INSERT INTO recipients (id, transfer_id, identifier, transport, status, preferences,
			notified_at, viewed_at, signed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, recipient.ID, recipient.TransferID, recipient.Identifier, recipient.Transport, recipient.Status,
		preferencesJSON, ptrToUnix(recipient.NotifiedAt), ptrToUnix(recipient.ViewedAt),
		ptrToUnix(recipient.SignedAt), toUnix(time.Now())); err != nil {
		return nil, fmt.Errorf("failed to create recipient: %w", err)
	}

	return getRecipient(q, recipient.ID)
}

// GetRecipient retrieves a recipient by ID, returning nil when no row matches
func (db *DB) GetRecipient(id string) (*Recipient, error) {
	return getRecipient(db.DB, id)
}

func getRecipient(q querier, id string) (*Recipient, error) {
	recipient, err := queryOne(q, scanRecipient, `
		SELECT `+recipientColumns+`
		FROM recipients WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	return recipient, nil
}

// ListRecipients retrieves all recipients
func (db *DB) ListRecipients() ([]*Recipient, error) {
	recipients, err := queryAll(db.DB, scanRecipient, `
		SELECT `+recipientColumns+`
		FROM recipients ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recipients, nil
}

// ListRecipientsByTransfer retrieves all recipients owned by a transfer
func (db *DB) ListRecipientsByTransfer(transferID string) ([]*Recipient, error) {
	recipients, err := queryAll(db.DB, scanRecipient, `
		SELECT `+recipientColumns+`
		FROM recipients WHERE transfer_id = ? ORDER BY created_at ASC
	`, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients by transfer: %w", err)
	}
	return recipients, nil
}

// ListPendingRecipientsByTransport returns pending recipients for a transport
// channel, oldest first, for the delivery layer to work through in order.
func (db *DB) ListPendingRecipientsByTransport(transport string) ([]*Recipient, error) {
	recipients, err := queryAll(db.DB, scanRecipient, `
		SELECT `+recipientColumns+`
		FROM recipients WHERE transport = ? AND status = ? ORDER BY created_at ASC
	`, transport, RecipientStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending recipients by transport: %w", err)
	}
	return recipients, nil
}

// UpdateRecipient applies a sparse update. An empty update performs no write
// and returns the current row; a missing id returns nil.
func (db *DB) UpdateRecipient(id string, update RecipientUpdate) (*Recipient, error) {
	var setClauses []string
	var args []any

	if update.Identifier != nil {
		setClauses = append(setClauses, "identifier = ?")
		args = append(args, *update.Identifier)
	}
	if update.Transport != nil {
		setClauses = append(setClauses, "transport = ?")
		args = append(args, *update.Transport)
	}
	if update.Status != nil {
		setClauses = append(setClauses, "status = ?")
		args = append(args, *update.Status)
	}
	if update.Preferences != nil {
		preferencesJSON, err := marshalToPtr(update.Preferences)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal preferences: %w", err)
		}
		setClauses = append(setClauses, "preferences = ?")
		args = append(args, preferencesJSON)
	}

	if len(setClauses) == 0 {
		return getRecipient(db.DB, id)
	}

	args = append(args, id)
	result, err := db.Exec("UPDATE recipients SET "+strings.Join(setClauses, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update recipient: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}

	return getRecipient(db.DB, id)
}

// MarkRecipientNotified sets the notified status and timestamp in one
// statement, returning the updated row or nil when the recipient is missing.
func (db *DB) MarkRecipientNotified(id string) (*Recipient, error) {
	return db.markRecipient(id, RecipientStatusNotified, "notified_at")
}

// MarkRecipientViewed sets the viewed status and timestamp in one statement,
// returning the updated row or nil when the recipient is missing.
func (db *DB) MarkRecipientViewed(id string) (*Recipient, error) {
	return db.markRecipient(id, RecipientStatusViewed, "viewed_at")
}

// MarkRecipientSigned sets the signed status and timestamp in one statement,
// returning the updated row or nil when the recipient is missing.
func (db *DB) MarkRecipientSigned(id string) (*Recipient, error) {
	return db.markRecipient(id, RecipientStatusSigned, "signed_at")
}

func (db *DB) markRecipient(id string, status RecipientStatus, timestampColumn string) (*Recipient, error) {
	result, err := db.Exec("UPDATE recipients SET status = ?, "+timestampColumn+" = ? WHERE id = ?",
		status, toUnix(time.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to mark recipient %s: %w", status, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}

	return getRecipient(db.DB, id)
}

// DeleteRecipient deletes a recipient by ID, reporting whether it existed
func (db *DB) DeleteRecipient(id string) (bool, error) {
	return deleteByID(db.DB, "recipients", id)
}

// DeleteRecipientsByTransfer removes all recipients owned by a transfer and
// returns the count removed.
func (db *DB) DeleteRecipientsByTransfer(transferID string) (int64, error) {
	return deleteByTransfer(db.DB, "recipients", transferID)
}
