package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
)

type ScheduledSendRepositoryInterface interface {
	// Create inserts a pending row. It returns false when a row with the
	// same DedupKey already exists.
	Create(ctx context.Context, s *model.ScheduledSend) (bool, error)
	GetByID(ctx context.Context, ownerID, id string) (*model.ScheduledSend, error)
	List(ctx context.Context, ownerID, status string, offset, limit int) ([]*model.ScheduledSend, int, error)
	Cancel(ctx context.Context, ownerID, id string) (bool, error)

	// Drain loop
	SelectDueScheduledSends(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*model.ScheduledSend, error)
	// Claim leases a single pending row, for synchronous dispatch outside a tick.
	Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error)
	Complete(ctx context.Context, id string, expectedScheduledAt time.Time, out model.SendOutcome) (bool, error)
	Release(ctx context.Context, id string) error
}

type ScheduledSendRepository struct {
	DB *sql.DB
}

const scheduledSendColumns = `id, owner_id, target_address, target_name, payload_kind, template_body, media_ref,
    scheduled_at, status, sent_at, error, recurrence, recurrence_days, recurrence_end,
    origin, client_id, created_at, updated_at`

func scanScheduledSend(row rowScanner) (*model.ScheduledSend, error) {
	var s model.ScheduledSend
	var days pq.Int64Array
	err := row.Scan(
		&s.ID, &s.OwnerID, &s.Target.Address, &s.Target.Name, &s.PayloadKind, &s.TemplateBody, &s.MediaRef,
		&s.ScheduledAt, &s.Status, &s.SentAt, &s.Error, &s.Recurrence, &days, &s.RecurrenceEnd,
		&s.Origin, &s.ClientID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.RecurrenceDays = arrayToWeekdays(days)
	return &s, nil
}

func (r *ScheduledSendRepository) Create(ctx context.Context, s *model.ScheduledSend) (bool, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	if s.Status == "" {
		s.Status = model.SendPending
	}
	if s.Origin == "" {
		s.Origin = model.OriginManual
	}
	query := `
        INSERT INTO scheduled_sends (id, owner_id, target_address, target_name, payload_kind, template_body, media_ref,
            scheduled_at, status, recurrence, recurrence_days, recurrence_end, origin, client_id, dedup_key,
            created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
        ON CONFLICT (dedup_key) DO NOTHING
    `
	res, err := r.DB.ExecContext(ctx, query,
		s.ID, s.OwnerID, s.Target.Address, s.Target.Name, s.PayloadKind, s.TemplateBody, s.MediaRef,
		s.ScheduledAt, s.Status, s.Recurrence, weekdaysToArray(s.RecurrenceDays), s.RecurrenceEnd,
		s.Origin, s.ClientID, s.DedupKey, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ScheduledSendRepository) GetByID(ctx context.Context, ownerID, id string) (*model.ScheduledSend, error) {
	query := `SELECT ` + scheduledSendColumns + ` FROM scheduled_sends WHERE id=$1 AND owner_id=$2`
	s, err := scanScheduledSend(r.DB.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewScheduledSendNotFound(id)
		}
		return nil, err
	}
	return s, nil
}

func (r *ScheduledSendRepository) List(ctx context.Context, ownerID, status string, offset, limit int) ([]*model.ScheduledSend, int, error) {
	where := ` WHERE owner_id=$1`
	args := []interface{}{ownerID}
	if status != "" {
		where += ` AND status=$2`
		args = append(args, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_sends`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + scheduledSendColumns + ` FROM scheduled_sends` + where +
		fmt.Sprintf(" ORDER BY scheduled_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sends := []*model.ScheduledSend{}
	for rows.Next() {
		s, err := scanScheduledSend(rows)
		if err != nil {
			return nil, 0, err
		}
		sends = append(sends, s)
	}
	return sends, total, rows.Err()
}

func (r *ScheduledSendRepository) Cancel(ctx context.Context, ownerID, id string) (bool, error) {
	query := `
        UPDATE scheduled_sends
        SET status='cancelled', claimed_until=NULL, updated_at=NOW()
        WHERE id=$1 AND owner_id=$2 AND status='pending'
    `
	res, err := r.DB.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SelectDueScheduledSends returns pending rows due at now, oldest first, and
// leases them until now+lease so a concurrent tick skips them. A lease that
// expires without a Complete makes the row due again.
func (r *ScheduledSendRepository) SelectDueScheduledSends(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*model.ScheduledSend, error) {
	query := `
        WITH due AS (
            SELECT id FROM scheduled_sends
            WHERE status = 'pending' AND scheduled_at <= $1
              AND (claimed_until IS NULL OR claimed_until < $1)
            ORDER BY scheduled_at ASC
            LIMIT $3
            FOR UPDATE SKIP LOCKED
        )
        UPDATE scheduled_sends s
        SET claimed_until = $2
        FROM due
        WHERE s.id = due.id
        RETURNING s.id, s.owner_id, s.target_address, s.target_name, s.payload_kind, s.template_body, s.media_ref,
            s.scheduled_at, s.status, s.sent_at, s.error, s.recurrence, s.recurrence_days, s.recurrence_end,
            s.origin, s.client_id, s.created_at, s.updated_at
    `
	rows, err := r.DB.QueryContext(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sends []*model.ScheduledSend
	for rows.Next() {
		s, err := scanScheduledSend(rows)
		if err != nil {
			return nil, err
		}
		sends = append(sends, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(sends, func(i, j int) bool { return sends[i].ScheduledAt.Before(sends[j].ScheduledAt) })
	return sends, nil
}

func (r *ScheduledSendRepository) Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	query := `
        UPDATE scheduled_sends SET claimed_until=$3
        WHERE id=$1 AND status='pending' AND (claimed_until IS NULL OR claimed_until < $2)
    `
	res, err := r.DB.ExecContext(ctx, query, id, now, now.Add(lease))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Complete commits an attempt's outcome. It only applies while the row is
// still pending at expectedScheduledAt, so a cancelled or already advanced
// row is left alone.
func (r *ScheduledSendRepository) Complete(ctx context.Context, id string, expectedScheduledAt time.Time, out model.SendOutcome) (bool, error) {
	query := `
        UPDATE scheduled_sends
        SET status=$3, scheduled_at=COALESCE($4, scheduled_at), sent_at=COALESCE($5, sent_at), error=$6,
            claimed_until=NULL, updated_at=NOW()
        WHERE id=$1 AND status='pending' AND scheduled_at=$2
    `
	res, err := r.DB.ExecContext(ctx, query, id, expectedScheduledAt, out.Status, out.NextAt, out.SentAt, out.Error)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *ScheduledSendRepository) Release(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE scheduled_sends SET claimed_until=NULL WHERE id=$1 AND status='pending'`, id)
	return err
}

var _ ScheduledSendRepositoryInterface = (*ScheduledSendRepository)(nil)
