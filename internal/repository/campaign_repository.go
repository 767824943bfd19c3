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

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, ownerID, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, ownerID string, offset, limit int, status string) ([]*model.Campaign, int, error)
	Delete(ctx context.Context, ownerID, id string) (bool, error)
	SetStatus(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus, at time.Time) (bool, error)

	// Contacts
	AddContacts(ctx context.Context, campaignID string, contacts []*model.CampaignContact) error
	GetCampaignStats(ctx context.Context, campaignID string) (map[string]int, error)

	// Drain loop
	SelectRunningCampaignsWithPendingContacts(ctx context.Context) ([]*model.Campaign, error)
	// ClaimPendingContacts leases up to limit pending contacts in insertion
	// order. It returns nothing while another tick holds an unexpired lease
	// on any of the campaign's contacts.
	ClaimPendingContacts(ctx context.Context, campaignID string, now time.Time, limit int, lease time.Duration) ([]*model.CampaignContact, error)
	ReleaseContacts(ctx context.Context, campaignID string, ids []string) error
	// RecordContactOutcome finalizes a pending contact and bumps the campaign
	// counters in one transaction. It returns the updated campaign, or nil when
	// the contact was no longer pending.
	RecordContactOutcome(ctx context.Context, out model.ContactOutcome) (*model.Campaign, error)
	CompleteIfDone(ctx context.Context, id string, at time.Time) (bool, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, owner_id, channel_instance_id, name, message_template, status,
    total_contacts, sent_count, failed_count, processed_since_resume,
    min_delay_seconds, max_delay_seconds, pause_after_messages,
    created_at, started_at, completed_at, updated_at`

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.ChannelInstanceID, &c.Name, &c.MessageTemplate, &c.Status,
		&c.TotalContacts, &c.SentCount, &c.FailedCount, &c.ProcessedSinceResume,
		&c.MinDelaySeconds, &c.MaxDelaySeconds, &c.PauseAfterMessages,
		&c.CreatedAt, &c.StartedAt, &c.CompletedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (id, owner_id, channel_instance_id, name, message_template, status,
            min_delay_seconds, max_delay_seconds, pause_after_messages, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	_, err := r.DB.ExecContext(ctx, query, c.ID, c.OwnerID, c.ChannelInstanceID, c.Name, c.MessageTemplate, c.Status,
		c.MinDelaySeconds, c.MaxDelaySeconds, c.PauseAfterMessages, c.CreatedAt)
	return err
}

func (r *CampaignRepository) GetByID(ctx context.Context, ownerID, id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1 AND owner_id=$2`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, ownerID string, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE owner_id=$1`
	args := []interface{}{ownerID}
	argPos := 2

	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)

	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// Count total
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// Delete removes a campaign; its contacts go with it (ON DELETE CASCADE).
func (r *CampaignRepository) Delete(ctx context.Context, ownerID, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1 AND owner_id=$2`, id, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetStatus moves a campaign to `to` only if its current status is one of
// `from`. Entering running stamps started_at once and resets the
// pause-after counter; entering completed stamps completed_at.
func (r *CampaignRepository) SetStatus(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus, at time.Time) (bool, error) {
	fromArr := make(pq.StringArray, 0, len(from))
	for _, s := range from {
		fromArr = append(fromArr, string(s))
	}
	query := `
        UPDATE campaigns
        SET status = $2::text,
            started_at = CASE WHEN $2::text = 'running' THEN COALESCE(started_at, $4::timestamptz) ELSE started_at END,
            processed_since_resume = CASE WHEN $2::text = 'running' THEN 0 ELSE processed_since_resume END,
            completed_at = CASE WHEN $2::text = 'completed' THEN $4::timestamptz ELSE completed_at END,
            updated_at = $4::timestamptz
        WHERE id = $1 AND status = ANY($3)
    `
	res, err := r.DB.ExecContext(ctx, query, id, string(to), fromArr, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ====================== Contacts ======================

// AddContacts appends contacts in the given order and grows total_contacts.
func (r *CampaignRepository) AddContacts(ctx context.Context, campaignID string, contacts []*model.CampaignContact) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO campaign_contacts (id, campaign_id, target_address, target_name, variables, status, created_at)
        VALUES ($1, $2, $3, $4, $5, 'pending', $6)
        RETURNING position
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, ct := range contacts {
		if ct.ID == "" {
			ct.ID = uuid.NewString()
		}
		ct.CampaignID = campaignID
		ct.Status = model.ContactPending
		ct.CreatedAt = now
		vars, err := jsonMap(ct.Variables)
		if err != nil {
			return fmt.Errorf("encode variables for %s: %w", ct.Target.Address, err)
		}
		if err := stmt.QueryRowContext(ctx, ct.ID, campaignID, ct.Target.Address, ct.Target.Name, vars, now).Scan(&ct.Position); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE campaigns SET total_contacts = total_contacts + $2, updated_at = NOW() WHERE id = $1`,
		campaignID, len(contacts))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	return tx.Commit()
}

func (r *CampaignRepository) GetCampaignStats(ctx context.Context, campaignID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM campaign_contacts WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"pending": 0, "sent": 0, "failed": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// ====================== Drain loop ======================

// SelectRunningCampaignsWithPendingContacts also returns running campaigns
// whose counters already reached the total, so a completion lost to a crash
// is applied on the next tick.
func (r *CampaignRepository) SelectRunningCampaignsWithPendingContacts(ctx context.Context) ([]*model.Campaign, error) {
	query := `
        SELECT ` + campaignColumns + `
        FROM campaigns c
        WHERE c.status = 'running'
          AND (EXISTS (SELECT 1 FROM campaign_contacts cc WHERE cc.campaign_id = c.id AND cc.status = 'pending')
               OR (c.total_contacts > 0 AND c.sent_count + c.failed_count >= c.total_contacts))
        ORDER BY c.started_at ASC NULLS LAST, c.created_at ASC
    `
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) ClaimPendingContacts(ctx context.Context, campaignID string, now time.Time, limit int, lease time.Duration) ([]*model.CampaignContact, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// The campaign row lock serializes claimers; a locked row means another
	// tick is claiming or recording right now.
	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM campaigns WHERE id=$1 AND status='running' FOR UPDATE SKIP LOCKED`, campaignID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var held bool
	err = tx.QueryRowContext(ctx, `
        SELECT EXISTS (SELECT 1 FROM campaign_contacts
                       WHERE campaign_id=$1 AND status='pending' AND claimed_until >= $2)
    `, campaignID, now).Scan(&held)
	if err != nil || held {
		return nil, err
	}

	query := `
        WITH next AS (
            SELECT id FROM campaign_contacts
            WHERE campaign_id = $1 AND status = 'pending'
            ORDER BY position ASC
            LIMIT $2
        )
        UPDATE campaign_contacts cc
        SET claimed_until = $3
        FROM next
        WHERE cc.id = next.id
        RETURNING cc.id, cc.campaign_id, cc.target_address, cc.target_name, cc.variables, cc.status,
            cc.sent_at, cc.error, cc.position, cc.created_at
    `
	rows, err := tx.QueryContext(ctx, query, campaignID, limit, now.Add(lease))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*model.CampaignContact
	for rows.Next() {
		var ct model.CampaignContact
		var vars []byte
		if err := rows.Scan(&ct.ID, &ct.CampaignID, &ct.Target.Address, &ct.Target.Name, &vars, &ct.Status,
			&ct.SentAt, &ct.Error, &ct.Position, &ct.CreatedAt); err != nil {
			return nil, err
		}
		if ct.Variables, err = decodeMap(vars); err != nil {
			return nil, fmt.Errorf("decode variables for contact %s: %w", ct.ID, err)
		}
		contacts = append(contacts, &ct)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].Position < contacts[j].Position })
	return contacts, nil
}

func (r *CampaignRepository) ReleaseContacts(ctx context.Context, campaignID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.DB.ExecContext(ctx, `
        UPDATE campaign_contacts SET claimed_until=NULL
        WHERE campaign_id=$1 AND id = ANY($2) AND status='pending'
    `, campaignID, pq.Array(ids))
	return err
}

func (r *CampaignRepository) RecordContactOutcome(ctx context.Context, out model.ContactOutcome) (*model.Campaign, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var sentAt *time.Time
	sent, failed := 0, 1
	if out.Status == model.ContactSent {
		sentAt = &out.At
		sent, failed = 1, 0
	}

	res, err := tx.ExecContext(ctx, `
        UPDATE campaign_contacts SET status=$3, sent_at=$4, error=$5, claimed_until=NULL
        WHERE id=$1 AND campaign_id=$2 AND status='pending'
    `, out.ContactID, out.CampaignID, out.Status, sentAt, out.Error)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return nil, err
	}

	c, err := scanCampaign(tx.QueryRowContext(ctx, `
        UPDATE campaigns
        SET sent_count = sent_count + $2, failed_count = failed_count + $3,
            processed_since_resume = processed_since_resume + 1, updated_at = $4
        WHERE id = $1
        RETURNING `+campaignColumns, out.CampaignID, sent, failed, out.At))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(out.CampaignID)
		}
		return nil, err
	}
	return c, tx.Commit()
}

// CompleteIfDone marks the campaign completed once every contact has an
// outcome. completed_at is written by the same statement that leaves
// running/paused, so it is set exactly once.
func (r *CampaignRepository) CompleteIfDone(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaigns
        SET status='completed', completed_at=$2, updated_at=$2
        WHERE id=$1 AND status IN ('running', 'paused')
          AND total_contacts > 0 AND sent_count + failed_count >= total_contacts
    `, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
