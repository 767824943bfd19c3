package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
)

type StatusPostRepositoryInterface interface {
	Create(ctx context.Context, p *model.StatusPost) error
	GetByID(ctx context.Context, ownerID, id string) (*model.StatusPost, error)
	Cancel(ctx context.Context, ownerID, id string) (bool, error)

	// Drain loop, same lease and CAS rules as scheduled sends.
	SelectDueStatusPosts(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*model.StatusPost, error)
	Complete(ctx context.Context, id string, expectedScheduledAt time.Time, out model.SendOutcome) (bool, error)
	Release(ctx context.Context, id string) error
}

type StatusPostRepository struct {
	DB *sql.DB
}

const statusPostColumns = `id, owner_id, payload_kind, body, media_ref, targets, scheduled_at, status, sent_at, error,
    recurrence, recurrence_days, recurrence_end, created_at, updated_at`

func scanStatusPost(row rowScanner) (*model.StatusPost, error) {
	var p model.StatusPost
	var targets []byte
	var days pq.Int64Array
	err := row.Scan(&p.ID, &p.OwnerID, &p.PayloadKind, &p.Body, &p.MediaRef, &targets, &p.ScheduledAt, &p.Status,
		&p.SentAt, &p.Error, &p.Recurrence, &days, &p.RecurrenceEnd, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(targets) > 0 {
		if err := json.Unmarshal(targets, &p.Targets); err != nil {
			return nil, fmt.Errorf("decode targets for status post %s: %w", p.ID, err)
		}
	}
	p.RecurrenceDays = arrayToWeekdays(days)
	return &p, nil
}

func (r *StatusPostRepository) Create(ctx context.Context, p *model.StatusPost) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = model.SendPending
	}
	targets, err := json.Marshal(p.Targets)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO status_posts (id, owner_id, payload_kind, body, media_ref, targets, scheduled_at, status,
            recurrence, recurrence_days, recurrence_end, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `
	_, err = r.DB.ExecContext(ctx, query, p.ID, p.OwnerID, p.PayloadKind, p.Body, p.MediaRef, targets, p.ScheduledAt,
		p.Status, p.Recurrence, weekdaysToArray(p.RecurrenceDays), p.RecurrenceEnd, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *StatusPostRepository) GetByID(ctx context.Context, ownerID, id string) (*model.StatusPost, error) {
	query := `SELECT ` + statusPostColumns + ` FROM status_posts WHERE id=$1 AND owner_id=$2`
	p, err := scanStatusPost(r.DB.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("status post", id)
		}
		return nil, err
	}
	return p, nil
}

func (r *StatusPostRepository) Cancel(ctx context.Context, ownerID, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE status_posts SET status='cancelled', claimed_until=NULL, updated_at=NOW()
        WHERE id=$1 AND owner_id=$2 AND status='pending'
    `, id, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *StatusPostRepository) SelectDueStatusPosts(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*model.StatusPost, error) {
	query := `
        WITH due AS (
            SELECT id FROM status_posts
            WHERE status = 'pending' AND scheduled_at <= $1
              AND (claimed_until IS NULL OR claimed_until < $1)
            ORDER BY scheduled_at ASC
            LIMIT $3
            FOR UPDATE SKIP LOCKED
        )
        UPDATE status_posts p
        SET claimed_until = $2
        FROM due
        WHERE p.id = due.id
        RETURNING p.id, p.owner_id, p.payload_kind, p.body, p.media_ref, p.targets, p.scheduled_at, p.status,
            p.sent_at, p.error, p.recurrence, p.recurrence_days, p.recurrence_end, p.created_at, p.updated_at
    `
	rows, err := r.DB.QueryContext(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*model.StatusPost
	for rows.Next() {
		p, err := scanStatusPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].ScheduledAt.Before(posts[j].ScheduledAt) })
	return posts, nil
}

func (r *StatusPostRepository) Complete(ctx context.Context, id string, expectedScheduledAt time.Time, out model.SendOutcome) (bool, error) {
	query := `
        UPDATE status_posts
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

func (r *StatusPostRepository) Release(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE status_posts SET claimed_until=NULL WHERE id=$1 AND status='pending'`, id)
	return err
}

var _ StatusPostRepositoryInterface = (*StatusPostRepository)(nil)
