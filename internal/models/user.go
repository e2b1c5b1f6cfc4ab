package models

import (
	"time"
)

// AccountStatus is the enforcement tier of a user.
type AccountStatus string

const (
	StatusActive           AccountStatus = "active"
	StatusWarned           AccountStatus = "warned"
	StatusChatSuspended    AccountStatus = "chat_suspended"
	StatusAccountSuspended AccountStatus = "account_suspended"
	StatusBanned           AccountStatus = "banned"
)

// Rank orders statuses by severity so escalation can compare tiers.
func (s AccountStatus) Rank() int {
	switch s {
	case StatusWarned:
		return 1
	case StatusChatSuspended:
		return 2
	case StatusAccountSuspended:
		return 3
	case StatusBanned:
		return 4
	default:
		return 0
	}
}

// Suspended reports whether s is one of the time-boxed suspension tiers.
func (s AccountStatus) Suspended() bool {
	return s == StatusChatSuspended || s == StatusAccountSuspended
}

// UserSanctionState is the enforcement subset of the user aggregate.
// The account subsystem owns the row; this service writes these columns.
type UserSanctionState struct {
	UserID            string        `json:"user_id"`
	AccountStatus     AccountStatus `json:"account_status"`
	ViolationCount    int           `json:"violation_count"`
	WarningCount      int           `json:"warning_count"`
	LastViolationDate *time.Time    `json:"last_violation_date,omitempty"`
	SuspensionEndDate *time.Time    `json:"suspension_end_date,omitempty"`
	BanReason         *string       `json:"ban_reason,omitempty"`

	// CountBaseline is subtracted from the ledger count when picking a tier.
	// It stays 0 unless lifts are configured to restart escalation.
	CountBaseline int `json:"count_baseline"`
	// Revision increments on every write; updates are conditional on it.
	Revision int64 `json:"-"`
}

// SanctionUpdate is the full set of columns written by one transition.
type SanctionUpdate struct {
	AccountStatus     AccountStatus
	ViolationCount    int
	WarningCount      int
	CountBaseline     int
	LastViolationDate *time.Time
	SuspensionEndDate *time.Time
	BanReason         *string
}

// UpdateFrom returns an update that leaves every column of s unchanged.
func UpdateFrom(s UserSanctionState) SanctionUpdate {
	return SanctionUpdate{
		AccountStatus:     s.AccountStatus,
		ViolationCount:    s.ViolationCount,
		WarningCount:      s.WarningCount,
		CountBaseline:     s.CountBaseline,
		LastViolationDate: s.LastViolationDate,
		SuspensionEndDate: s.SuspensionEndDate,
		BanReason:         s.BanReason,
	}
}

// SanctionAction is the outcome of one state machine evaluation.
type SanctionAction string

const (
	ActionNone              SanctionAction = "none"
	ActionRecordOnly        SanctionAction = "record_only"
	ActionWarning           SanctionAction = "warning"
	ActionChatSuspension    SanctionAction = "chat_suspension"
	ActionAccountSuspension SanctionAction = "account_suspension"
	ActionBan               SanctionAction = "ban"
)

// SanctionResult is returned by the state machine.
type SanctionResult struct {
	Action            SanctionAction   `json:"action"`
	Message           string           `json:"message"`
	ViolationCount    int              `json:"violation_count"`
	AccountStatus     AccountStatus    `json:"account_status"`
	SuspensionEndDate *time.Time       `json:"suspension_end_date,omitempty"`
	SkippedTiers      []SanctionAction `json:"skipped_tiers,omitempty"`
}

// PermissionResult is the chat gate decision.
type PermissionResult struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	Message    string        `json:"message,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// LiftResult is returned by the administrative override.
type LiftResult struct {
	PreviousStatus AccountStatus `json:"previous_status"`
	AccountStatus  AccountStatus `json:"account_status"`
	ViolationCount int           `json:"violation_count"`
	LiftedBy       string        `json:"lifted_by"`
}
