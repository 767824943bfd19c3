// internal/model/history.go
package model

import "time"

type DispatchType string

const (
	DispatchScheduled   DispatchType = "scheduled"
	DispatchCampaign    DispatchType = "campaign"
	DispatchStatusPost  DispatchType = "status_post"
	DispatchInteractive DispatchType = "interactive"
)

type TargetType string

const (
	TargetSingle      TargetType = "single"
	TargetContactList TargetType = "contact_list"
	TargetBroadcast   TargetType = "broadcast"
)

// DispatchHistoryRecord is an append-only summary of one finished dispatch.
type DispatchHistoryRecord struct {
	ID              string       `db:"id" json:"id"`
	OwnerID         string       `db:"owner_id" json:"owner_id"`
	DispatchType    DispatchType `db:"dispatch_type" json:"dispatch_type"`
	TargetType      TargetType   `db:"target_type" json:"target_type"`
	TotalRecipients int          `db:"total_recipients" json:"total_recipients"`
	SuccessCount    int          `db:"success_count" json:"success_count"`
	FailedCount     int          `db:"failed_count" json:"failed_count"`
	MessageContent  string       `db:"message_content" json:"message_content"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
}

type NotificationKind string

const (
	NotificationReminder  NotificationKind = "reminder"
	NotificationRecurring NotificationKind = "recurring"
)

// ClientNotificationLog is the per-client audit trail for recurring and
// reminder sends.
type ClientNotificationLog struct {
	ID              string           `db:"id" json:"id"`
	OwnerID         string           `db:"owner_id" json:"owner_id"`
	ClientID        *string          `db:"client_id" json:"client_id,omitempty"`
	ScheduledSendID string           `db:"scheduled_send_id" json:"scheduled_send_id"`
	Kind            NotificationKind `db:"kind" json:"kind"`
	Status          SendStatus       `db:"status" json:"status"`
	Message         string           `db:"message" json:"message"`
	Error           *string          `db:"error" json:"error,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
}
