// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

type Campaign struct {
	ID                   string         `db:"id" json:"id"`
	OwnerID              string         `db:"owner_id" json:"owner_id"`
	ChannelInstanceID    string         `db:"channel_instance_id" json:"channel_instance_id"`
	Name                 string         `db:"name" json:"name"`
	MessageTemplate      string         `db:"message_template" json:"message_template"`
	Status               CampaignStatus `db:"status" json:"status"`
	TotalContacts        int            `db:"total_contacts" json:"total_contacts"`
	SentCount            int            `db:"sent_count" json:"sent_count"`
	FailedCount          int            `db:"failed_count" json:"failed_count"`
	ProcessedSinceResume int            `db:"processed_since_resume" json:"processed_since_resume"`
	MinDelaySeconds      int            `db:"min_delay_seconds" json:"min_delay_seconds"`
	MaxDelaySeconds      int            `db:"max_delay_seconds" json:"max_delay_seconds"`
	PauseAfterMessages   int            `db:"pause_after_messages" json:"pause_after_messages"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
	StartedAt            *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt          *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt            *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// Processed is the number of contacts with a final outcome.
func (c *Campaign) Processed() int {
	return c.SentCount + c.FailedCount
}

// Done reports whether every contact has an outcome.
func (c *Campaign) Done() bool {
	return c.TotalContacts > 0 && c.Processed() >= c.TotalContacts
}

// ShouldPause reports whether the pause-after-N threshold has been reached
// since the campaign was last started or resumed.
func (c *Campaign) ShouldPause() bool {
	return c.PauseAfterMessages > 0 && c.ProcessedSinceResume >= c.PauseAfterMessages
}

type ContactStatus string

const (
	ContactPending ContactStatus = "pending"
	ContactSent    ContactStatus = "sent"
	ContactFailed  ContactStatus = "failed"
)

type CampaignContact struct {
	ID         string            `db:"id" json:"id"`
	CampaignID string            `db:"campaign_id" json:"campaign_id"`
	Target     DispatchTarget    `json:"target"`
	Variables  map[string]string `db:"variables" json:"variables,omitempty"`
	Status     ContactStatus     `db:"status" json:"status"` // pending, sent, failed
	SentAt     *time.Time        `db:"sent_at" json:"sent_at,omitempty"`
	Error      *string           `db:"error" json:"error,omitempty"`
	Position   int               `db:"position" json:"position"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
}

// ContactOutcome is the result of one campaign send.
type ContactOutcome struct {
	ContactID  string
	CampaignID string
	Status     ContactStatus
	At         time.Time
	Error      *string
}
