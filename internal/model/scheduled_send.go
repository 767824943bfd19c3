// internal/model/scheduled_send.go
package model

import "time"

type SendStatus string

const (
	SendPending   SendStatus = "pending"
	SendSent      SendStatus = "sent"
	SendFailed    SendStatus = "failed"
	SendCancelled SendStatus = "cancelled"
)

// Origin records which producer created a row.
type Origin string

const (
	OriginManual      Origin = "manual"
	OriginReminder    Origin = "reminder"
	OriginInteractive Origin = "interactive"
)

type ScheduledSend struct {
	ID           string         `db:"id" json:"id"`
	OwnerID      string         `db:"owner_id" json:"owner_id"`
	Target       DispatchTarget `json:"target"`
	PayloadKind  PayloadKind    `db:"payload_kind" json:"payload_kind"`
	TemplateBody string         `db:"template_body" json:"template_body"`
	MediaRef     *string        `db:"media_ref" json:"media_ref,omitempty"`
	Schedule
	Status    SendStatus `db:"status" json:"status"`
	SentAt    *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	Error     *string    `db:"error" json:"error,omitempty"`
	Origin    Origin     `db:"origin" json:"origin"`
	ClientID  *string    `db:"client_id" json:"client_id,omitempty"`
	DedupKey  *string    `db:"dedup_key" json:"-"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// SendOutcome is the single write the drain loop commits for a row after an
// attempt. Status is pending only when the row is re-armed at NextAt.
type SendOutcome struct {
	Status SendStatus
	NextAt *time.Time
	SentAt *time.Time
	Error  *string
}

// Terminal reports whether the outcome ends the row's life.
func (o SendOutcome) Terminal() bool {
	return o.Status != SendPending
}
