// internal/model/status_post.go
package model

import "time"

// StatusPost is a scheduled status update broadcast to a list of targets.
// It shares Schedule and the re-arm rules with ScheduledSend.
type StatusPost struct {
	ID          string           `db:"id" json:"id"`
	OwnerID     string           `db:"owner_id" json:"owner_id"`
	PayloadKind PayloadKind      `db:"payload_kind" json:"payload_kind"`
	Body        string           `db:"body" json:"body"`
	MediaRef    *string          `db:"media_ref" json:"media_ref,omitempty"`
	Targets     []DispatchTarget `db:"targets" json:"targets"`
	Schedule
	Status    SendStatus `db:"status" json:"status"`
	SentAt    *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	Error     *string    `db:"error" json:"error,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}
