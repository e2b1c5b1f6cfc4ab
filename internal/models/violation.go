package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ViolationType string

const (
	ViolationTypeBlockedWord    ViolationType = "blocked_word"
	ViolationTypeModerationFlag ViolationType = "moderation_flag"
)

// Valid reports whether t is one of the known violation types.
func (t ViolationType) Valid() bool {
	return t == ViolationTypeBlockedWord || t == ViolationTypeModerationFlag
}

// Severity levels assigned once when a violation is recorded.
const (
	SeverityLow    = 1
	SeverityMedium = 2
	SeverityHigh   = 3
)

// ViolationRecord is one detected incident. Only the resolution fields may
// change after insert.
type ViolationRecord struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`

	// User information
	UserID    string `bson:"user_id" json:"user_id"`
	IPAddress string `bson:"ip_address" json:"ip_address"`
	UserAgent string `bson:"user_agent" json:"user_agent"`

	// Violation details
	ViolationType        ViolationType      `bson:"violation_type" json:"violation_type"`
	DetectedWord         string             `bson:"detected_word,omitempty" json:"detected_word,omitempty"`
	Reason               string             `bson:"reason" json:"reason"`
	SeverityLevel        int                `bson:"severity_level" json:"severity_level"`
	MessageContent       string             `bson:"message_content" json:"message_content"`
	ModerationCategories map[string]float64 `bson:"moderation_categories,omitempty" json:"moderation_categories,omitempty"`

	// Admin annotation
	IsResolved bool       `bson:"is_resolved" json:"is_resolved"`
	ResolvedBy string     `bson:"resolved_by,omitempty" json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
}

// ViolationFilter narrows admin listings. Zero values match everything.
type ViolationFilter struct {
	UserID   string
	Type     ViolationType
	Resolved *bool
	Since    time.Time
}

// Page is skip/limit pagination.
type Page struct {
	Skip  int
	Limit int
}

// ViolationStats summarises the ledger over a time window.
type ViolationStats struct {
	Since           time.Time             `json:"since"`
	ByType          map[ViolationType]int `json:"by_type"`
	TotalCount      int                   `json:"total_count"`
	UniqueUserCount int                   `json:"unique_user_count"`
	AvgSeverity     float64               `json:"avg_severity"`
}
