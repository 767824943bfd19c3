package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
)

type ClientRepositoryInterface interface {
	GetByID(ctx context.Context, ownerID, id string) (*model.Client, error)
	// ListExpiringBetween returns the owner's clients whose expires_at falls
	// in [from, to).
	ListExpiringBetween(ctx context.Context, ownerID string, from, to time.Time) ([]*model.Client, error)
	Upsert(ctx context.Context, c *model.Client) error
}

type ClientRepository struct {
	DB *sql.DB
}

const clientColumns = `id, owner_id, name, phone, email, plan, link, expires_at, custom`

func scanClient(row rowScanner) (*model.Client, error) {
	var c model.Client
	var custom []byte
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Phone, &c.Email, &c.Plan, &c.Link, &c.ExpiresAt, &custom); err != nil {
		return nil, err
	}
	m, err := decodeMap(custom)
	if err != nil {
		return nil, fmt.Errorf("decode custom fields for client %s: %w", c.ID, err)
	}
	c.Custom = m
	return &c, nil
}

func (r *ClientRepository) GetByID(ctx context.Context, ownerID, id string) (*model.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id=$1 AND owner_id=$2`
	c, err := scanClient(r.DB.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("client", id)
		}
		return nil, err
	}
	return c, nil
}

func (r *ClientRepository) ListExpiringBetween(ctx context.Context, ownerID string, from, to time.Time) ([]*model.Client, error) {
	query := `
        SELECT ` + clientColumns + `
        FROM clients
        WHERE owner_id=$1 AND expires_at >= $2 AND expires_at < $3
        ORDER BY expires_at ASC
    `
	rows, err := r.DB.QueryContext(ctx, query, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*model.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (r *ClientRepository) Upsert(ctx context.Context, c *model.Client) error {
	custom, err := jsonMap(c.Custom)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO clients (id, owner_id, name, phone, email, plan, link, expires_at, custom)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO UPDATE
        SET name=EXCLUDED.name, phone=EXCLUDED.phone, email=EXCLUDED.email, plan=EXCLUDED.plan,
            link=EXCLUDED.link, expires_at=EXCLUDED.expires_at, custom=EXCLUDED.custom
        WHERE clients.owner_id = EXCLUDED.owner_id
    `
	_, err = r.DB.ExecContext(ctx, query, c.ID, c.OwnerID, c.Name, c.Phone, c.Email, c.Plan, c.Link, c.ExpiresAt, custom)
	return err
}

var _ ClientRepositoryInterface = (*ClientRepository)(nil)
