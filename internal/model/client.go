// internal/model/client.go
package model

import "time"

// Client is a subscription client whose data feeds template placeholders.
type Client struct {
	ID        string            `db:"id" json:"id"`
	OwnerID   string            `db:"owner_id" json:"owner_id"`
	Name      string            `db:"name" json:"name"`
	Phone     string            `db:"phone" json:"phone"`
	Email     string            `db:"email" json:"email"`
	Plan      string            `db:"plan" json:"plan"`
	Link      string            `db:"link" json:"link"`
	ExpiresAt *time.Time        `db:"expires_at" json:"expires_at,omitempty"`
	Custom    map[string]string `db:"custom" json:"custom,omitempty"`
}

// ReminderRule enqueues a message DaysBefore days ahead of a client's
// expiration, at SendAt ("HH:MM") local time.
type ReminderRule struct {
	ID         string `db:"id" json:"id"`
	OwnerID    string `db:"owner_id" json:"owner_id"`
	DaysBefore int    `db:"days_before" json:"days_before"`
	Template   string `db:"template" json:"template"`
	SendAt     string `db:"send_at" json:"send_at"`
	Enabled    bool   `db:"enabled" json:"enabled"`
}
