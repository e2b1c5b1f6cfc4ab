package models

import (
	"time"
)

type NotificationKind string

const (
	NotifyWarning           NotificationKind = "warning"
	NotifyChatSuspension    NotificationKind = "chat_suspension"
	NotifyAccountSuspension NotificationKind = "account_suspension"
	NotifyBan               NotificationKind = "ban"
	NotifySanctionLifted    NotificationKind = "sanction_lifted"
	NotifyModerationOutage  NotificationKind = "moderation_outage"
)

// AdminNotification is published to admins on enforcement transitions.
type AdminNotification struct {
	ID        string                 `json:"id"`
	Kind      NotificationKind       `json:"kind"`
	UserID    string                 `json:"user_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
