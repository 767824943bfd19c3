package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

type ChannelRepositoryInterface interface {
	// ConnectedInstance returns the owner's connected instance, or nil when
	// there is none.
	ConnectedInstance(ctx context.Context, ownerID string) (*model.ChannelInstance, error)
	// Settings returns the instance's settings row, or the defaults when the
	// row does not exist.
	Settings(ctx context.Context, instanceID, ownerID string) (model.ChannelSettings, error)
	SaveSettings(ctx context.Context, s model.ChannelSettings) error
	SaveInstance(ctx context.Context, inst *model.ChannelInstance) error
}

type ChannelRepository struct {
	DB *sql.DB
}

func (r *ChannelRepository) ConnectedInstance(ctx context.Context, ownerID string) (*model.ChannelInstance, error) {
	query := `
        SELECT id, owner_id, status, credential_ref
        FROM channel_instances
        WHERE owner_id=$1 AND status='connected'
        ORDER BY updated_at DESC
        LIMIT 1
    `
	var inst model.ChannelInstance
	err := r.DB.QueryRowContext(ctx, query, ownerID).Scan(&inst.ID, &inst.OwnerID, &inst.Status, &inst.CredentialRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &inst, nil
}

func (r *ChannelRepository) Settings(ctx context.Context, instanceID, ownerID string) (model.ChannelSettings, error) {
	query := `
        SELECT instance_id, owner_id, dispatch_enabled, send_delay_ms, max_per_minute
        FROM channel_settings WHERE instance_id=$1
    `
	var s model.ChannelSettings
	err := r.DB.QueryRowContext(ctx, query, instanceID).Scan(&s.InstanceID, &s.OwnerID, &s.DispatchEnabled, &s.SendDelayMillis, &s.MaxPerMinute)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DefaultChannelSettings(instanceID, ownerID), nil
		}
		return model.ChannelSettings{}, err
	}
	return s, nil
}

func (r *ChannelRepository) SaveSettings(ctx context.Context, s model.ChannelSettings) error {
	query := `
        INSERT INTO channel_settings (instance_id, owner_id, dispatch_enabled, send_delay_ms, max_per_minute)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (instance_id) DO UPDATE
        SET dispatch_enabled=EXCLUDED.dispatch_enabled, send_delay_ms=EXCLUDED.send_delay_ms,
            max_per_minute=EXCLUDED.max_per_minute
    `
	_, err := r.DB.ExecContext(ctx, query, s.InstanceID, s.OwnerID, s.DispatchEnabled, s.SendDelayMillis, s.MaxPerMinute)
	return err
}

func (r *ChannelRepository) SaveInstance(ctx context.Context, inst *model.ChannelInstance) error {
	query := `
        INSERT INTO channel_instances (id, owner_id, status, credential_ref, updated_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (id) DO UPDATE
        SET status=EXCLUDED.status, credential_ref=EXCLUDED.credential_ref, updated_at=NOW()
    `
	_, err := r.DB.ExecContext(ctx, query, inst.ID, inst.OwnerID, inst.Status, inst.CredentialRef)
	return err
}

var _ ChannelRepositoryInterface = (*ChannelRepository)(nil)
