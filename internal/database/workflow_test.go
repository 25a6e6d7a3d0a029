package database

import (
	"errors"
	"testing"
	"time"
)

func seedBundle(t *testing.T, w *Workflow, transferID string) *TransferBundle {
	t.Helper()
	bundle, err := w.CreateTransferWithDocuments(CreateTransferParams{
		TransferID:    transferID,
		Type:          TransferTypeOutgoing,
		TransportType: "p2p",
		Documents: []*Document{
			{ID: transferID + "-d1", FileName: "one.pdf", FileSize: 100, FileHash: "h1"},
			{ID: transferID + "-d2", FileName: "two.pdf", FileSize: 200, FileHash: "h2"},
		},
		Recipients: []*Recipient{
			{ID: transferID + "-r1", Identifier: "r1@example.com", Transport: "email"},
			{ID: transferID + "-r2", Identifier: "r2@example.com", Transport: "email"},
		},
	})
	if err != nil {
		t.Fatalf("CreateTransferWithDocuments returned error: %v", err)
	}
	return bundle
}

func TestCreateTransferWithDocuments(t *testing.T) {
	db := newTestDB(t)
	w := NewWorkflow(db)

	bundle := seedBundle(t, w, "t1")

	if bundle.Transfer.Status != TransferStatusPending {
		t.Fatalf("expected transfer status pending, got %q", bundle.Transfer.Status)
	}
	if len(bundle.Documents) != 2 || len(bundle.Recipients) != 2 {
		t.Fatalf("expected 2 documents and 2 recipients, got %d/%d", len(bundle.Documents), len(bundle.Recipients))
	}
	for _, document := range bundle.Documents {
		if document.Status != DocumentStatusPending || document.TransferID != "t1" {
			t.Fatalf("unexpected document: %+v", document)
		}
	}
	for _, recipient := range bundle.Recipients {
		if recipient.Status != RecipientStatusPending || recipient.TransferID != "t1" {
			t.Fatalf("unexpected recipient: %+v", recipient)
		}
	}
}

func TestCreateTransferWithDocuments_AtomicOnFailure(t *testing.T) {
	db := newTestDB(t)
	w := NewWorkflow(db)

	// Duplicate document id forces the second insert to fail mid-batch
	_, err := w.CreateTransferWithDocuments(CreateTransferParams{
		TransferID: "t-fail",
		Type:       TransferTypeOutgoing,
		Documents: []*Document{
			{ID: "dup", FileName: "one.pdf"},
			{ID: "dup", FileName: "two.pdf"},
		},
		Recipients: []*Recipient{
			{Identifier: "r1@example.com", Transport: "email"},
		},
	})
	if err == nil {
		t.Fatal("expected constraint error for duplicate document id")
	}
	if !IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}

	// Nothing from the batch may persist
	transfer, err := db.GetTransfer("t-fail")
	if err != nil {
		t.Fatalf("GetTransfer returned error: %v", err)
	}
	if transfer != nil {
		t.Fatal("expected transfer rollback")
	}
	documents, err := db.ListDocuments()
	if err != nil {
		t.Fatalf("ListDocuments returned error: %v", err)
	}
	if len(documents) != 0 {
		t.Fatalf("expected no documents, got %d", len(documents))
	}
	recipients, err := db.ListRecipients()
	if err != nil {
		t.Fatalf("ListRecipients returned error: %v", err)
	}
	if len(recipients) != 0 {
		t.Fatalf("expected no recipients, got %d", len(recipients))
	}
}

func TestSignDocuments_PartialThenCompleted(t *testing.T) {
	db := newTestDB(t)
	w := NewWorkflow(db)
	seedBundle(t, w, "t1")

	// Signing one of two documents derives partially-signed
	result, err := w.SignDocumentsAndUpdateTransfer("t1", []DocumentSignature{
		{DocumentID: "t1-d1", Status: DocumentStatusSigned, SignedBy: "bob"},
	})
	if err != nil {
		t.Fatalf("SignDocumentsAndUpdateTransfer returned error: %v", err)
	}
	if result.TransferStatus != TransferStatusPartiallySigned {
		t.Fatalf("expected partially-signed, got %q", result.TransferStatus)
	}

	d1, err := db.GetDocument("t1-d1")
	if err != nil {
		t.Fatalf("GetDocument returned error: %v", err)
	}
	if d1.Status != DocumentStatusSigned || d1.SignedBy != "bob" || d1.SignedAt == nil {
		t.Fatalf("unexpected signed document: %+v", d1)
	}
	d2, err := db.GetDocument("t1-d2")
	if err != nil {
		t.Fatalf("GetDocument returned error: %v", err)
	}
	if d2.Status != DocumentStatusPending {
		t.Fatalf("expected d2 untouched, got %q", d2.Status)
	}

	// Signing the second derives completed
	result, err = w.SignDocumentsAndUpdateTransfer("t1", []DocumentSignature{
		{DocumentID: "t1-d2", Status: DocumentStatusSigned, SignedBy: "bob", BlockchainTxSigned: "tx-99"},
	})
	if err != nil {
		t.Fatalf("SignDocumentsAndUpdateTransfer returned error: %v", err)
	}
	if result.TransferStatus != TransferStatusCompleted {
		t.Fatalf("expected completed, got %q", result.TransferStatus)
	}

	d2, err = db.GetDocument("t1-d2")
	if err != nil {
		t.Fatalf("GetDocument returned error: %v", err)
	}
	if d2.BlockchainTxSigned != "tx-99" {
		t.Fatalf("expected signed blockchain ref recorded, got %+v", d2)
	}

	transfer, err := db.GetTransfer("t1")
	if err != nil {
		t.Fatalf("GetTransfer returned error: %v", err)
	}
	if transfer.Status != TransferStatusCompleted {
		t.Fatalf("expected transfer completed, got %q", transfer.Status)
	}
}

func TestSignDocuments_RejectionCancels(t *testing.T) {
	db := newTestDB(t)
	w := NewWorkflow(db)
	seedBundle(t, w, "t1")

	result, err := w.SignDocumentsAndUpdateTransfer("t1", []DocumentSignature{
		{DocumentID: "t1-d1", Status: DocumentStatusSigned, SignedBy: "bob"},
		{DocumentID: "t1-d2", Status: DocumentStatusRejected},
	})
	if err != nil {
		t.Fatalf("SignDocumentsAndUpdateTransfer returned error: %v", err)
	}
	if result.TransferStatus != TransferStatusCancelled {
		t.Fatalf("expected cancelled, got %q", result.TransferStatus)
	}

	// Re-signing the rejected document corrects the derivation
	result, err = w.SignDocumentsAndUpdateTransfer("t1", []DocumentSignature{
		{DocumentID: "t1-d2", Status: DocumentStatusSigned, SignedBy: "bob"},
	})
	if err != nil {
		t.Fatalf("SignDocumentsAndUpdateTransfer returned error: %v", err)
	}
	if result.TransferStatus != TransferStatusCompleted {
		t.Fatalf("expected completed after correction, got %q", result.TransferStatus)
	}
}

func TestSignDocuments_EmptyBatchDerivesReady(t *testing.T) {
	db := newTestDB(t)
	w := NewWorkflow(db)
	seedBundle(t, w, "t1")

	result, err := w.SignDocumentsAndUpdateTransfer("t1", nil)
	if err != nil {
		t.Fatalf("SignDocumentsAndUpdateTransfer returned error: %v", err)
	}
	if result.TransferStatus != TransferStatusReady {
		t.Fatalf("expected ready, got %q", result.TransferStatus)
	}
	if len(result.Applied) != 0 || len(result.Skipped) != 0 {
		t.Fatalf("expected empty result lists, got %+v", result)
	}
}

func TestSignDocuments_Deterministic(t *testing.T) {
	db := newTestDB(t)
	w := NewWorkflow(db)
	seedBundle(t, w, "t1")

	signatures := []DocumentSignature{
		{DocumentID: "t1-d1", Status: DocumentStatusSigned, SignedBy: "bob"},
	}
	first, err := w.SignDocumentsAndUpdateTransfer("t1", signatures)
	if err != nil {
		t.Fatalf("SignDocumentsAndUpdateTransfer returned error: %v", err)
	}
	second, err := w.SignDocumentsAndUpdateTransfer("t1", signatures)
	if err != nil {
		t.Fatalf("SignDocumentsAndUpdateTransfer returned error: %v", err)
	}
	if first.TransferStatus != second.TransferStatus {
		t.Fatalf("expected identical derivation, got %q then %q", first.TransferStatus, second.TransferStatus)
	}
}

func TestSignDocuments_UnknownDocumentSkipped(t *testing.T) {
	db := newTestDB(t)
	w := NewWorkflow(db)
	seedBundle(t, w, "t1")
	seedBundle(t, w, "t2")

	// Unknown ids and documents of other transfers are skipped, not applied
	result, err := w.SignDocumentsAndUpdateTransfer("t1", []DocumentSignature{
		{DocumentID: "t1-d1", Status: DocumentStatusSigned, SignedBy: "bob"},
		{DocumentID: "does-not-exist", Status: DocumentStatusSigned},
		{DocumentID: "t2-d1", Status: DocumentStatusSigned},
	})
	if err != nil {
		t.Fatalf("SignDocumentsAndUpdateTransfer returned error: %v", err)
	}
	if result.TransferStatus != TransferStatusPartiallySigned {
		t.Fatalf("expected partially-signed, got %q", result.TransferStatus)
	}
	if len(result.Applied) != 1 || result.Applied[0] != "t1-d1" {
		t.Fatalf("expected only t1-d1 applied, got %v", result.Applied)
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("expected 2 skipped, got %v", result.Skipped)
	}

	// The other transfer's document must be untouched
	foreign, err := db.GetDocument("t2-d1")
	if err != nil {
		t.Fatalf("GetDocument returned error: %v", err)
	}
	if foreign.Status != DocumentStatusPending {
		t.Fatalf("expected t2-d1 untouched, got %q", foreign.Status)
	}
}

func TestSignDocuments_MissingTransfer(t *testing.T) {
	db := newTestDB(t)
	w := NewWorkflow(db)

	_, err := w.SignDocumentsAndUpdateTransfer("does-not-exist", nil)
	if !errors.Is(err, ErrTransferNotFound) {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
}

func TestDeleteTransferAndRelatedData(t *testing.T) {
	db := newTestDB(t)
	w := NewWorkflow(db)
	seedBundle(t, w, "t1")
	seedBundle(t, w, "t2")

	existed, err := w.DeleteTransferAndRelatedData("t1")
	if err != nil {
		t.Fatalf("DeleteTransferAndRelatedData returned error: %v", err)
	}
	if !existed {
		t.Fatal("expected delete to report an existing transfer")
	}

	transfer, err := db.GetTransfer("t1")
	if err != nil {
		t.Fatalf("GetTransfer returned error: %v", err)
	}
	if transfer != nil {
		t.Fatal("expected transfer removed")
	}
	orphanDocs, err := db.ListDocumentsByTransfer("t1")
	if err != nil {
		t.Fatalf("ListDocumentsByTransfer returned error: %v", err)
	}
	if len(orphanDocs) != 0 {
		t.Fatalf("expected no documents left, got %d", len(orphanDocs))
	}
	orphanRecipients, err := db.ListRecipientsByTransfer("t1")
	if err != nil {
		t.Fatalf("ListRecipientsByTransfer returned error: %v", err)
	}
	if len(orphanRecipients) != 0 {
		t.Fatalf("expected no recipients left, got %d", len(orphanRecipients))
	}

	// The sibling transfer keeps its children
	siblingDocs, err := db.ListDocumentsByTransfer("t2")
	if err != nil {
		t.Fatalf("ListDocumentsByTransfer returned error: %v", err)
	}
	if len(siblingDocs) != 2 {
		t.Fatalf("expected sibling documents intact, got %d", len(siblingDocs))
	}

	// Deleting a missing transfer reports false and changes nothing
	existed, err = w.DeleteTransferAndRelatedData("does-not-exist")
	if err != nil {
		t.Fatalf("DeleteTransferAndRelatedData returned error: %v", err)
	}
	if existed {
		t.Fatal("expected false for missing transfer")
	}
}

func TestDeleteTransferAndRelatedData_RollsBackOnFailure(t *testing.T) {
	db := newTestDB(t)
	w := NewWorkflow(db)
	seedBundle(t, w, "t1")

	// Hide the transfers table so the final delete in the transaction fails
	// after the child deletes ran
	if _, err := db.Exec("ALTER TABLE transfers RENAME TO transfers_hidden"); err != nil {
		t.Fatalf("failed to hide transfers table: %v", err)
	}

	if _, err := w.DeleteTransferAndRelatedData("t1"); err == nil {
		t.Fatal("expected delete to fail with transfers table missing")
	}

	if _, err := db.Exec("ALTER TABLE transfers_hidden RENAME TO transfers"); err != nil {
		t.Fatalf("failed to restore transfers table: %v", err)
	}

	// Child rows must be fully intact after the rollback
	documents, err := db.ListDocumentsByTransfer("t1")
	if err != nil {
		t.Fatalf("ListDocumentsByTransfer returned error: %v", err)
	}
	if len(documents) != 2 {
		t.Fatalf("expected 2 documents after rollback, got %d", len(documents))
	}
	recipients, err := db.ListRecipientsByTransfer("t1")
	if err != nil {
		t.Fatalf("ListRecipientsByTransfer returned error: %v", err)
	}
	if len(recipients) != 2 {
		t.Fatalf("expected 2 recipients after rollback, got %d", len(recipients))
	}
}

func TestDeriveTransferStatus(t *testing.T) {
	doc := func(status DocumentStatus) *Document { return &Document{Status: status} }

	cases := []struct {
		name      string
		documents []*Document
		want      TransferStatus
	}{
		{"no documents", nil, TransferStatusReady},
		{"all pending", []*Document{doc(DocumentStatusPending), doc(DocumentStatusPending)}, TransferStatusReady},
		{"all signed", []*Document{doc(DocumentStatusSigned), doc(DocumentStatusSigned)}, TransferStatusCompleted},
		{"one signed", []*Document{doc(DocumentStatusSigned), doc(DocumentStatusPending)}, TransferStatusPartiallySigned},
		{"rejected wins over signed", []*Document{doc(DocumentStatusSigned), doc(DocumentStatusRejected)}, TransferStatusCancelled},
		{"rejected alone", []*Document{doc(DocumentStatusRejected), doc(DocumentStatusPending)}, TransferStatusCancelled},
	}

	for _, tc := range cases {
		if got := deriveTransferStatus(tc.documents); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestPruneTerminalTransfers(t *testing.T) {
	db := newTestDB(t)
	w := NewWorkflow(db)
	seedBundle(t, w, "t-old-done")
	seedBundle(t, w, "t-fresh-done")
	seedBundle(t, w, "t-old-pending")

	completed := TransferStatusCompleted
	for _, id := range []string{"t-old-done", "t-fresh-done"} {
		if _, err := db.UpdateTransfer(id, TransferUpdate{Status: &completed}); err != nil {
			t.Fatalf("UpdateTransfer returned error: %v", err)
		}
	}

	// Backdate the old transfers beyond the retention window
	stale := toUnix(time.Now().Add(-48 * time.Hour))
	for _, id := range []string{"t-old-done", "t-old-pending"} {
		if _, err := db.Exec("UPDATE transfers SET updated_at = ? WHERE id = ?", stale, id); err != nil {
			t.Fatalf("failed to backdate transfer: %v", err)
		}
	}

	pruned, err := w.PruneTerminalTransfers(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneTerminalTransfers returned error: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", pruned)
	}

	// Only the stale completed transfer goes; pending and fresh ones stay
	for _, tc := range []struct {
		id   string
		want bool
	}{
		{"t-old-done", false},
		{"t-fresh-done", true},
		{"t-old-pending", true},
	} {
		transfer, err := db.GetTransfer(tc.id)
		if err != nil {
			t.Fatalf("GetTransfer returned error: %v", err)
		}
		if (transfer != nil) != tc.want {
			t.Fatalf("transfer %s: expected present=%v", tc.id, tc.want)
		}
	}

	documents, err := db.ListDocumentsByTransfer("t-old-done")
	if err != nil {
		t.Fatalf("ListDocumentsByTransfer returned error: %v", err)
	}
	if len(documents) != 0 {
		t.Fatalf("expected pruned transfer's documents removed, got %d", len(documents))
	}
}

func TestWorkflowMarkRecipientMilestones(t *testing.T) {
	db := newTestDB(t)
	w := NewWorkflow(db)
	bundle := seedBundle(t, w, "t1")

	recipient, err := w.MarkRecipientNotified(bundle.Recipients[0].ID)
	if err != nil {
		t.Fatalf("MarkRecipientNotified returned error: %v", err)
	}
	if recipient.Status != RecipientStatusNotified {
		t.Fatalf("expected notified, got %q", recipient.Status)
	}
}
