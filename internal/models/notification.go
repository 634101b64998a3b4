package models

import (
	"encoding/json"
	"time"
)

// NotificationKind names a side effect of a state transition
type NotificationKind string

const (
	NotificationInvoicePaidReceipt NotificationKind = "invoice_paid_receipt"
	NotificationInvoicePaidAdmin   NotificationKind = "invoice_paid_admin"
	NotificationInvoiceReceiptDoc  NotificationKind = "invoice_receipt_document"
)

// NotificationStatus tracks outbox delivery
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSending NotificationStatus = "sending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is an outbox row. (SubjectID, Kind) is unique so a transition
// can only ever enqueue each side effect once.
type Notification struct {
	ID          string             `json:"id" db:"id"`
	SubjectID   string             `json:"subject_id" db:"subject_id"`
	Kind        NotificationKind   `json:"kind" db:"kind"`
	RecipientID string             `json:"recipient_id" db:"recipient_id"`
	Payload     json.RawMessage    `json:"payload" db:"payload"`
	Status      NotificationStatus `json:"status" db:"status"`
	Attempts    int                `json:"attempts" db:"attempts"`
	LastError   *string            `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" db:"updated_at"`
}
