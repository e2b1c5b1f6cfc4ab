package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/AnshRaj112/persona-guard/internal/models"
	"go.uber.org/zap"
)

// Moderator classifies chat text. *Gateway implements it.
type Moderator interface {
	Classify(ctx context.Context, text string) models.ModerationResult
}

// ChatGuard runs every user-authored message through the enforcement
// pipeline: permission gate, blocked words, moderation, ledger, sanctions.
type ChatGuard struct {
	gate      *PermissionGate
	blocked   *BlockedWordFilter
	moderator Moderator
	ledger    *Ledger
	engine    *SanctionEngine
	logger    *zap.Logger
}

func NewChatGuard(gate *PermissionGate, blocked *BlockedWordFilter, moderator Moderator, ledger *Ledger, engine *SanctionEngine, logger *zap.Logger) *ChatGuard {
	return &ChatGuard{
		gate:      gate,
		blocked:   blocked,
		moderator: moderator,
		ledger:    ledger,
		engine:    engine,
		logger:    logger.Named("guard"),
	}
}

// CheckPermission is the pre-turn check used before a chat session opens.
func (c *ChatGuard) CheckPermission(ctx context.Context, userID string) (models.PermissionResult, error) {
	return c.gate.CheckPermission(ctx, userID)
}

// ProcessMessage decides whether msg may reach the persona. A denied user's
// message is not moderated or recorded. Errors from the ledger or the state
// machine are returned with the partial outcome; the message is never
// delivered in that case.
func (c *ChatGuard) ProcessMessage(ctx context.Context, msg models.ChatMessage) (models.ChatOutcome, error) {
	var outcome models.ChatOutcome

	permission, err := c.gate.CheckPermission(ctx, msg.UserID)
	outcome.Permission = permission
	if err != nil {
		return outcome, err
	}
	if !permission.Allowed {
		return outcome, nil
	}

	if strings.TrimSpace(msg.Text) == "" {
		outcome.Delivered = true
		return outcome, nil
	}

	violation, moderation := c.detect(ctx, msg)
	outcome.Moderation = &moderation
	if violation == nil {
		outcome.Delivered = true
		return outcome, nil
	}

	record, err := c.ledger.Record(ctx, *violation)
	if err != nil {
		return outcome, err
	}
	outcome.Violation = &record

	sanction, err := c.engine.Apply(ctx, msg.UserID)
	if err != nil {
		return outcome, fmt.Errorf("failed to apply sanction: %w", err)
	}
	outcome.Sanction = &sanction

	c.logger.Info("Chat message blocked",
		zap.String("userID", msg.UserID),
		zap.String("personaID", msg.PersonaID),
		zap.String("violationType", string(record.ViolationType)),
		zap.String("action", string(sanction.Action)))

	// A sanction issued for this message also governs the next turn.
	outcome.Permission = c.gate.Evaluate(ctx, models.UserSanctionState{
		UserID:            msg.UserID,
		AccountStatus:     sanction.AccountStatus,
		SuspensionEndDate: sanction.SuspensionEndDate,
	})
	return outcome, nil
}

// detect returns the violation to record for msg, if any. Blocked words are
// checked first and skip the classifier call.
func (c *ChatGuard) detect(ctx context.Context, msg models.ChatMessage) (*models.ViolationRecord, models.ModerationResult) {
	base := models.ViolationRecord{
		UserID:         msg.UserID,
		IPAddress:      msg.IPAddress,
		UserAgent:      msg.UserAgent,
		MessageContent: msg.Text,
	}

	if word, ok := c.blocked.FindBlockedWord(msg.Text); ok {
		result := models.SafeResult()
		result.Safe = false
		result.Flagged = true
		result.Categories = []string{"blocked_word"}
		result.Message = "Your message contains a blocked word."

		base.ViolationType = models.ViolationTypeBlockedWord
		base.DetectedWord = word
		base.Reason = fmt.Sprintf("Message contains blocked word %q", word)
		return &base, result
	}

	result := c.moderator.Classify(ctx, msg.Text)
	if !result.Flagged {
		return nil, result
	}

	scores := make(map[string]float64, len(result.Categories))
	for _, category := range result.Categories {
		scores[category] = result.Scores[category]
	}
	base.ViolationType = models.ViolationTypeModerationFlag
	base.ModerationCategories = scores
	base.Reason = "Flagged by moderation"
	if len(result.Categories) > 0 {
		base.Reason += ": " + strings.Join(result.Categories, ", ")
	}
	if len(result.LocalMatches) > 0 {
		base.Reason += " (matched " + strings.Join(result.LocalMatches, ", ") + ")"
	}
	return &base, result
}
