package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

// HistoryRepositoryInterface is an append-only store. Records are never
// updated once written.
type HistoryRepositoryInterface interface {
	AppendDispatch(ctx context.Context, rec *model.DispatchHistoryRecord) error
	AppendClientNotification(ctx context.Context, log *model.ClientNotificationLog) error
	ListDispatch(ctx context.Context, ownerID string, offset, limit int) ([]*model.DispatchHistoryRecord, int, error)
}

type HistoryRepository struct {
	DB *sql.DB
}

func (r *HistoryRepository) AppendDispatch(ctx context.Context, rec *model.DispatchHistoryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	query := `
        INSERT INTO dispatch_history (id, owner_id, dispatch_type, target_type, total_recipients,
            success_count, failed_count, message_content, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := r.DB.ExecContext(ctx, query, rec.ID, rec.OwnerID, rec.DispatchType, rec.TargetType, rec.TotalRecipients,
		rec.SuccessCount, rec.FailedCount, rec.MessageContent, rec.CreatedAt)
	return err
}

func (r *HistoryRepository) AppendClientNotification(ctx context.Context, log *model.ClientNotificationLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	query := `
        INSERT INTO client_notification_logs (id, owner_id, client_id, scheduled_send_id, kind, status, message,
            error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := r.DB.ExecContext(ctx, query, log.ID, log.OwnerID, log.ClientID, log.ScheduledSendID, log.Kind, log.Status,
		log.Message, log.Error, log.CreatedAt)
	return err
}

func (r *HistoryRepository) ListDispatch(ctx context.Context, ownerID string, offset, limit int) ([]*model.DispatchHistoryRecord, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM dispatch_history WHERE owner_id=$1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, owner_id, dispatch_type, target_type, total_recipients, success_count, failed_count,
            message_content, created_at
        FROM dispatch_history
        WHERE owner_id=$1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3
    `, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := []*model.DispatchHistoryRecord{}
	for rows.Next() {
		var rec model.DispatchHistoryRecord
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.DispatchType, &rec.TargetType, &rec.TotalRecipients,
			&rec.SuccessCount, &rec.FailedCount, &rec.MessageContent, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		records = append(records, &rec)
	}
	return records, total, rows.Err()
}

var _ HistoryRepositoryInterface = (*HistoryRepository)(nil)
