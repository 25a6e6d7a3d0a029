package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Workflow composes the transfer, document and recipient repositories into
// multi-entity atomic operations. It is the only component that bundles
// repository calls inside one transaction, and it owns the transfer status
// state machine: a transfer's status is always re-derived from the current
// statuses of its documents, never maintained incrementally.
type Workflow struct {
	db *DB
}

// NewWorkflow creates a workflow manager over the given database handle
func NewWorkflow(db *DB) *Workflow {
	return &Workflow{db: db}
}

// TransferBundle is the fully-populated result of an atomic transfer create
type TransferBundle struct {
	Transfer   *Transfer    `json:"transfer"`
	Documents  []*Document  `json:"documents"`
	Recipients []*Recipient `json:"recipients"`
}

// CreateTransferParams describes one transfer with its documents and
// recipients, created together or not at all.
type CreateTransferParams struct {
	TransferID      string
	Type            TransferType
	Sender          *Sender
	TransportType   string
	TransportConfig map[string]any
	Metadata        map[string]any
	Documents       []*Document
	Recipients      []*Recipient
}

// DocumentSignature records the outcome of a signing action on one document
type DocumentSignature struct {
	DocumentID         string         `json:"document_id"`
	Status             DocumentStatus `json:"status"`
	SignedBy           string         `json:"signed_by,omitempty"`
	BlockchainTxSigned string         `json:"blockchain_tx_signed,omitempty"`
}

// SignResult reports which signatures in a batch were applied and which
// referenced unknown documents, plus the transfer status derived afterwards.
type SignResult struct {
	TransferStatus TransferStatus `json:"transfer_status"`
	Applied        []string       `json:"applied"`
	Skipped        []string       `json:"skipped,omitempty"`
}

// CreateTransferWithDocuments creates a transfer together with its documents
// and recipients in one transaction. The transfer starts pending, as do all
// children. If any single insert fails, nothing from the batch persists.
func (w *Workflow) CreateTransferWithDocuments(params CreateTransferParams) (*TransferBundle, error) {
	bundle := &TransferBundle{}

	err := w.db.Transaction(func(tx *sql.Tx) error {
		transfer, err := createTransfer(tx, &Transfer{
			ID:              params.TransferID,
			Type:            params.Type,
			Status:          TransferStatusPending,
			Sender:          params.Sender,
			TransportType:   params.TransportType,
			TransportConfig: params.TransportConfig,
			Metadata:        params.Metadata,
		})
		if err != nil {
			return err
		}
		bundle.Transfer = transfer

		for _, document := range params.Documents {
			document.TransferID = transfer.ID
			document.Status = DocumentStatusPending
			created, err := createDocument(tx, document)
			if err != nil {
				return err
			}
			bundle.Documents = append(bundle.Documents, created)
		}

		for _, recipient := range params.Recipients {
			recipient.TransferID = transfer.ID
			recipient.Status = RecipientStatusPending
			created, err := createRecipient(tx, recipient)
			if err != nil {
				return err
			}
			bundle.Recipients = append(bundle.Recipients, created)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("transfer_id", bundle.Transfer.ID).
		Int("documents", len(bundle.Documents)).
		Int("recipients", len(bundle.Recipients)).
		Msg("Transfer created")

	return bundle, nil
}

// SignDocumentsAndUpdateTransfer applies a batch of signature outcomes and
// re-derives the transfer status from the full current document set, all in
// one transaction. Signatures referencing documents that do not exist under
// the transfer are skipped without aborting the batch; the result reports
// them. Returns ErrTransferNotFound when the transfer id has no row.
func (w *Workflow) SignDocumentsAndUpdateTransfer(transferID string, signatures []DocumentSignature) (*SignResult, error) {
	result := &SignResult{}

	err := w.db.Transaction(func(tx *sql.Tx) error {
		transfer, err := getTransfer(tx, transferID)
		if err != nil {
			return err
		}
		if transfer == nil {
			return ErrTransferNotFound
		}

		for _, signature := range signatures {
			applied, err := applySignature(tx, transferID, signature)
			if err != nil {
				return err
			}
			if applied {
				result.Applied = append(result.Applied, signature.DocumentID)
			} else {
				log.Warn().
					Str("transfer_id", transferID).
					Str("document_id", signature.DocumentID).
					Msg("Signature references unknown document, skipping")
				result.Skipped = append(result.Skipped, signature.DocumentID)
			}
		}

		// Derivation reads the full current document set, so concurrent
		// batches always converge on a status consistent with whatever
		// writes actually committed
		documents, err := listDocumentsByTransfer(tx, transferID)
		if err != nil {
			return err
		}
		status := deriveTransferStatus(documents)

		if _, err := updateTransfer(tx, transferID, TransferUpdate{Status: &status}); err != nil {
			return err
		}
		result.TransferStatus = status

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("transfer_id", transferID).
		Str("status", string(result.TransferStatus)).
		Int("applied", len(result.Applied)).
		Int("skipped", len(result.Skipped)).
		Msg("Signature batch applied")

	return result, nil
}

// applySignature updates one document owned by the transfer. Reports false
// when no document matched.
func applySignature(q querier, transferID string, signature DocumentSignature) (bool, error) {
	setClauses := "status = ?, signed_by = ?, blockchain_tx_signed = COALESCE(?, blockchain_tx_signed)"
	args := []any{signature.Status, nullableString(signature.SignedBy), nullableString(signature.BlockchainTxSigned)}

	if signature.Status == DocumentStatusSigned {
		setClauses += ", signed_at = ?"
		args = append(args, toUnix(time.Now()))
	}

	args = append(args, signature.DocumentID, transferID)
	res, err := q.Exec("UPDATE documents SET "+setClauses+" WHERE id = ? AND transfer_id = ?", args...)
	if err != nil {
		return false, fmt.Errorf("failed to apply signature: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// deriveTransferStatus computes the aggregate transfer status from its
// documents. It is a pure function of document state; recipient state never
// participates. Precedence, in order: all signed, any rejected, any signed,
// otherwise ready. A transfer with no documents derives to ready.
func deriveTransferStatus(documents []*Document) TransferStatus {
	if len(documents) == 0 {
		return TransferStatusReady
	}

	allSigned := true
	anySigned := false
	anyRejected := false
	for _, document := range documents {
		switch document.Status {
		case DocumentStatusSigned:
			anySigned = true
		case DocumentStatusRejected:
			allSigned = false
			anyRejected = true
		default:
			allSigned = false
		}
	}

	switch {
	case allSigned:
		return TransferStatusCompleted
	case anyRejected:
		return TransferStatusCancelled
	case anySigned:
		return TransferStatusPartiallySigned
	default:
		return TransferStatusReady
	}
}

// DeleteTransferAndRelatedData removes a transfer and every document and
// recipient it owns in one transaction, reporting whether the transfer row
// existed. A failure anywhere leaves the store untouched.
func (w *Workflow) DeleteTransferAndRelatedData(transferID string) (bool, error) {
	var existed bool
	var documentCount, recipientCount int64

	err := w.db.Transaction(func(tx *sql.Tx) error {
		var err error
		if documentCount, err = deleteByTransfer(tx, "documents", transferID); err != nil {
			return err
		}
		if recipientCount, err = deleteByTransfer(tx, "recipients", transferID); err != nil {
			return err
		}
		if existed, err = deleteByID(tx, "transfers", transferID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if existed {
		log.Info().
			Str("transfer_id", transferID).
			Int64("documents", documentCount).
			Int64("recipients", recipientCount).
			Msg("Transfer deleted with related data")
	}

	return existed, nil
}

// MarkRecipientNotified records a delivery milestone reported by the transport layer
func (w *Workflow) MarkRecipientNotified(recipientID string) (*Recipient, error) {
	return w.db.MarkRecipientNotified(recipientID)
}

// MarkRecipientViewed records a view milestone reported by the transport layer
func (w *Workflow) MarkRecipientViewed(recipientID string) (*Recipient, error) {
	return w.db.MarkRecipientViewed(recipientID)
}

// MarkRecipientSigned records a signature milestone reported by the transport layer
func (w *Workflow) MarkRecipientSigned(recipientID string) (*Recipient, error) {
	return w.db.MarkRecipientSigned(recipientID)
}
