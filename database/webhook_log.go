package database

import (
	"context"
	"time"

	"github.com/kreatum/kreatum/internal/apierror"
	"github.com/kreatum/kreatum/model"
)

// LogWebhookEvent persists the raw event payload before any interpretation.
func (d Datasource) LogWebhookEvent(ctx context.Context, entry *model.WebhookLog) (*model.WebhookLog, error) {
	if entry.LogID == "" {
		entry.LogID = model.GenerateUUIDWithSuffix("log")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	payloadJSON, err := marshalMetaData(entry.Payload)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal webhook payload", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO webhook_logs (log_id, event_type, payload, processed, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.LogID, entry.EventType, payloadJSON, entry.Processed, entry.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to log webhook event", err)
	}
	return entry, nil
}

// MarkWebhookProcessed flips the processed flag after successful handling.
func (d Datasource) MarkWebhookProcessed(ctx context.Context, logID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE webhook_logs SET processed = TRUE WHERE log_id = $1
	`, logID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark webhook processed", err)
	}
	return nil
}
