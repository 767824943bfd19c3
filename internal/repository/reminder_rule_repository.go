package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

type ReminderRuleRepositoryInterface interface {
	Create(ctx context.Context, rule *model.ReminderRule) error
	// ListEnabled returns the enabled rules of every owner.
	ListEnabled(ctx context.Context) ([]*model.ReminderRule, error)
}

type ReminderRuleRepository struct {
	DB *sql.DB
}

func (r *ReminderRuleRepository) Create(ctx context.Context, rule *model.ReminderRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	query := `
        INSERT INTO reminder_rules (id, owner_id, days_before, template, send_at, enabled)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	_, err := r.DB.ExecContext(ctx, query, rule.ID, rule.OwnerID, rule.DaysBefore, rule.Template, rule.SendAt, rule.Enabled)
	return err
}

func (r *ReminderRuleRepository) ListEnabled(ctx context.Context) ([]*model.ReminderRule, error) {
	query := `
        SELECT id, owner_id, days_before, template, send_at, enabled
        FROM reminder_rules WHERE enabled ORDER BY owner_id, days_before DESC
    `
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*model.ReminderRule
	for rows.Next() {
		var rule model.ReminderRule
		if err := rows.Scan(&rule.ID, &rule.OwnerID, &rule.DaysBefore, &rule.Template, &rule.SendAt, &rule.Enabled); err != nil {
			return nil, err
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

var _ ReminderRuleRepositoryInterface = (*ReminderRuleRepository)(nil)
