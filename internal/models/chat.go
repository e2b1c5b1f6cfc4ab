package models

import (
	"time"
)

// ChatMessage is one user-authored turn addressed to a persona.
type ChatMessage struct {
	UserID    string    `json:"user_id"`
	PersonaID string    `json:"persona_id,omitempty"`
	Text      string    `json:"text"`
	IPAddress string    `json:"-"`
	UserAgent string    `json:"-"`
	SentAt    time.Time `json:"sent_at"`
}

// ChatOutcome is what the chat pipeline decided for one message.
type ChatOutcome struct {
	// Delivered is true when the message may be forwarded to the persona.
	Delivered  bool              `json:"delivered"`
	Permission PermissionResult  `json:"permission"`
	Moderation *ModerationResult `json:"moderation,omitempty"`
	Violation  *ViolationRecord  `json:"violation,omitempty"`
	Sanction   *SanctionResult   `json:"sanction,omitempty"`
}
