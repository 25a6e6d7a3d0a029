package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DocumentStatus represents the signing state of a single document
type DocumentStatus string

const (
	DocumentStatusPending  DocumentStatus = "pending"
	DocumentStatusSigned   DocumentStatus = "signed"
	DocumentStatusRejected DocumentStatus = "rejected"
)

// BlockchainTxSlot selects which anchoring reference a blockchain tx update
// targets: the original upload or the signed result.
type BlockchainTxSlot string

const (
	BlockchainTxSlotOriginal BlockchainTxSlot = "original"
	BlockchainTxSlotSigned   BlockchainTxSlot = "signed"
)

// Document represents one file within a transfer
type Document struct {
	ID                   string         `json:"id"`
	TransferID           string         `json:"transfer_id"`
	FileName             string         `json:"file_name"`
	FileSize             int64          `json:"file_size"`
	FileHash             string         `json:"file_hash"`
	Status               DocumentStatus `json:"status"`
	SignedAt             *time.Time     `json:"signed_at,omitempty"`
	SignedBy             string         `json:"signed_by,omitempty"`
	BlockchainTxOriginal string         `json:"blockchain_tx_original,omitempty"`
	BlockchainTxSigned   string         `json:"blockchain_tx_signed,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// DocumentUpdate holds a sparse set of changes; only non-nil fields are written
type DocumentUpdate struct {
	FileName             *string
	FileSize             *int64
	FileHash             *string
	Status               *DocumentStatus
	SignedAt             *time.Time
	SignedBy             *string
	BlockchainTxOriginal *string
	BlockchainTxSigned   *string
}

const documentColumns = `id, transfer_id, file_name, file_size, file_hash, status,
	       signed_at, signed_by, blockchain_tx_original, blockchain_tx_signed, created_at`

// scanDocument maps one documents row to a Document
func scanDocument(row scanner) (*Document, error) {
	d := &Document{}
	var signedAt sql.NullInt64
	var signedBy, txOriginal, txSigned sql.NullString
	var createdAt int64

	if err := row.Scan(&d.ID, &d.TransferID, &d.FileName, &d.FileSize, &d.FileHash, &d.Status,
		&signedAt, &signedBy, &txOriginal, &txSigned, &createdAt); err != nil {
		return nil, err
	}

	d.SignedAt = nullUnixToPtr(signedAt)
	d.SignedBy = nullStringValue(signedBy)
	d.BlockchainTxOriginal = nullStringValue(txOriginal)
	d.BlockchainTxSigned = nullStringValue(txSigned)
	d.CreatedAt = fromUnix(createdAt)

	return d, nil
}

// CreateDocument inserts a document and returns the freshly read-back row.
// The owning transfer must exist; a missing transfer_id surfaces as a
// foreign-key constraint error.
func (db *DB) CreateDocument(document *Document) (*Document, error) {
	return createDocument(db.DB, document)
}

func createDocument(q querier, document *Document) (*Document, error) {
	if document.ID == "" {
		document.ID = newID()
	}
	if document.Status == "" {
		document.Status = DocumentStatusPending
	}

	if _, err := q.Exec(`
		INSERT INTO documents (id, transfer_id, file_name, file_size, file_hash, status,
			signed_at, signed_by, blockchain_tx_original, blockchain_tx_signed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, document.ID, document.TransferID, document.FileName, document.FileSize, document.FileHash,
		document.Status, ptrToUnix(document.SignedAt), nullableString(document.SignedBy),
		nullableString(document.BlockchainTxOriginal), nullableString(document.BlockchainTxSigned),
		toUnix(time.Now())); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return getDocument(q, document.ID)
}

// GetDocument retrieves a document by ID, returning nil when no row matches
func (db *DB) GetDocument(id string) (*Document, error) {
	return getDocument(db.DB, id)
}

func getDocument(q querier, id string) (*Document, error) {
	document, err := queryOne(q, scanDocument, `
		SELECT `+documentColumns+`
		FROM documents WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return document, nil
}

// ListDocuments retrieves all documents
func (db *DB) ListDocuments() ([]*Document, error) {
	documents, err := queryAll(db.DB, scanDocument, `
		SELECT `+documentColumns+`
		FROM documents ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return documents, nil
}

// ListDocumentsByTransfer retrieves all documents owned by a transfer
func (db *DB) ListDocumentsByTransfer(transferID string) ([]*Document, error) {
	return listDocumentsByTransfer(db.DB, transferID)
}

func listDocumentsByTransfer(q querier, transferID string) ([]*Document, error) {
	documents, err := queryAll(q, scanDocument, `
		SELECT `+documentColumns+`
		FROM documents WHERE transfer_id = ? ORDER BY created_at ASC
	`, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents by transfer: %w", err)
	}
	return documents, nil
}

// ListDocumentsByStatus retrieves all documents with the given status
func (db *DB) ListDocumentsByStatus(status DocumentStatus) ([]*Document, error) {
	documents, err := queryAll(db.DB, scanDocument, `
		SELECT `+documentColumns+`
		FROM documents WHERE status = ? ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents by status: %w", err)
	}
	return documents, nil
}

// ListDocumentsByTransferAndStatus retrieves a transfer's documents filtered by status
func (db *DB) ListDocumentsByTransferAndStatus(transferID string, status DocumentStatus) ([]*Document, error) {
	documents, err := queryAll(db.DB, scanDocument, `
		SELECT `+documentColumns+`
		FROM documents WHERE transfer_id = ? AND status = ? ORDER BY created_at ASC
	`, transferID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents by transfer and status: %w", err)
	}
	return documents, nil
}

// UpdateDocument applies a sparse update. An empty update performs no write
// and returns the current row; a missing id returns nil.
func (db *DB) UpdateDocument(id string, update DocumentUpdate) (*Document, error) {
	return updateDocument(db.DB, id, update)
}

func updateDocument(q querier, id string, update DocumentUpdate) (*Document, error) {
	var setClauses []string
	var args []any

	if update.FileName != nil {
		setClauses = append(setClauses, "file_name = ?")
		args = append(args, *update.FileName)
	}
	if update.FileSize != nil {
		setClauses = append(setClauses, "file_size = ?")
		args = append(args, *update.FileSize)
	}
	if update.FileHash != nil {
		setClauses = append(setClauses, "file_hash = ?")
		args = append(args, *update.FileHash)
	}
	if update.Status != nil {
		setClauses = append(setClauses, "status = ?")
		args = append(args, *update.Status)
	}
	if update.SignedAt != nil {
		setClauses = append(setClauses, "signed_at = ?")
		args = append(args, toUnix(*update.SignedAt))
	}
	if update.SignedBy != nil {
		setClauses = append(setClauses, "signed_by = ?")
		args = append(args, nullableString(*update.SignedBy))
	}
	if update.BlockchainTxOriginal != nil {
		setClauses = append(setClauses, "blockchain_tx_original = ?")
		args = append(args, nullableString(*update.BlockchainTxOriginal))
	}
	if update.BlockchainTxSigned != nil {
		setClauses = append(setClauses, "blockchain_tx_signed = ?")
		args = append(args, nullableString(*update.BlockchainTxSigned))
	}

	if len(setClauses) == 0 {
		return getDocument(q, id)
	}

	args = append(args, id)
	result, err := q.Exec("UPDATE documents SET "+strings.Join(setClauses, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}

	return getDocument(q, id)
}

// SetDocumentBlockchainTx records a blockchain transaction reference in the
// original or signed slot and returns the updated row, or nil when the
// document does not exist.
func (db *DB) SetDocumentBlockchainTx(id string, slot BlockchainTxSlot, ref string) (*Document, error) {
	var column string
	switch slot {
	case BlockchainTxSlotOriginal:
		column = "blockchain_tx_original"
	case BlockchainTxSlotSigned:
		column = "blockchain_tx_signed"
	default:
		return nil, fmt.Errorf("unknown blockchain tx slot %q", slot)
	}

	result, err := db.Exec("UPDATE documents SET "+column+" = ? WHERE id = ?", nullableString(ref), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set document blockchain tx: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}

	return getDocument(db.DB, id)
}

// DeleteDocument deletes a document by ID, reporting whether it existed
func (db *DB) DeleteDocument(id string) (bool, error) {
	return deleteByID(db.DB, "documents", id)
}

// DeleteDocumentsByTransfer removes all documents owned by a transfer and
// returns the count removed.
func (db *DB) DeleteDocumentsByTransfer(transferID string) (int64, error) {
	return deleteByTransfer(db.DB, "documents", transferID)
}
