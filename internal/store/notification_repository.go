package store

import (
	"context"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
)

const notificationColumns = `id, subject_id, kind, recipient_id, payload, status, attempts,
	last_error, created_at, updated_at`

// EnqueueNotifications inserts outbox rows, ignoring duplicates of (subject, kind)
func (t *pgTx) EnqueueNotifications(ctx context.Context, notifications []models.Notification) error {
	query := `INSERT INTO notifications (` + notificationColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			  ON CONFLICT (subject_id, kind) DO NOTHING`
	for _, n := range notifications {
		payload := string(n.Payload)
		if payload == "" {
			payload = "{}"
		}
		_, err := t.tx.ExecContext(ctx, query,
			n.ID, n.SubjectID, n.Kind, n.RecipientID, payload, n.Status, n.Attempts,
			n.LastError, n.CreatedAt, n.UpdatedAt)
		if err != nil {
			return translate(err)
		}
	}
	return nil
}

// ListNotificationsBySubject retrieves the outbox rows of one subject
func (t *pgTx) ListNotificationsBySubject(ctx context.Context, subjectID string) ([]models.Notification, error) {
	list := []models.Notification{}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE subject_id = $1 ORDER BY kind`
	err := t.tx.SelectContext(ctx, &list, query, subjectID)
	return list, translate(err)
}

// GetNotification retrieves an outbox row by ID
func (t *pgTx) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	n := &models.Notification{}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	if err := t.tx.GetContext(ctx, n, query, id); err != nil {
		return nil, translate(err)
	}
	return n, nil
}

// ClaimNotification marks an outbox row as being delivered
func (t *pgTx) ClaimNotification(ctx context.Context, id string, at, staleBefore time.Time) (bool, error) {
	query := `UPDATE notifications SET status = 'sending', attempts = attempts + 1, updated_at = $2
			  WHERE id = $1
			  AND (status IN ('pending', 'failed') OR (status = 'sending' AND updated_at < $3))`
	res, err := t.tx.ExecContext(ctx, query, id, at, staleBefore)
	if err != nil {
		return false, translate(err)
	}
	return t.changed(ctx, res, "notifications", id)
}

// CompleteNotification records the delivery outcome of an outbox row
func (t *pgTx) CompleteNotification(ctx context.Context, id string, status models.NotificationStatus, lastErr *string, at time.Time) error {
	query := `UPDATE notifications SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4`
	res, err := t.tx.ExecContext(ctx, query, status, lastErr, at, id)
	if err != nil {
		return translate(err)
	}
	_, err = t.changed(ctx, res, "notifications", id)
	return err
}

// ListRetryableNotifications retrieves outbox rows due for another delivery attempt
func (t *pgTx) ListRetryableNotifications(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]models.Notification, error) {
	list := []models.Notification{}
	query := `SELECT ` + notificationColumns + ` FROM notifications
			  WHERE attempts < $2
			  AND (status = 'failed' OR (status IN ('pending', 'sending') AND updated_at < $1))
			  ORDER BY created_at
			  LIMIT NULLIF($3::int, 0)`
	err := t.tx.SelectContext(ctx, &list, query, staleBefore, maxAttempts, limit)
	return list, translate(err)
}
