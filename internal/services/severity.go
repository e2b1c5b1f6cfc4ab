package services

import (
	"strings"

	"github.com/AnshRaj112/persona-guard/internal/models"
)

// Tier 3: violence, self-harm and terror vocabulary.
var severityTier3 = NewKeywordSet(
	"kill", "murder", "suicide", "self harm", "selfharm", "shoot you", "shoot him",
	"shoot her", "shoot them", "mass shooting", "school shooting", "shooting spree",
	"stabbing", "stab you", "strangle", "massacre", "behead", "bomb", "explosive",
	"terrorist", "terrorism", "genocide", "hostage", "unalive",
)

// Tier 2: sexual solicitation, drugs and hate.
var severityTier2 = NewKeywordSet(
	"nude", "sexting", "sex", "porn", "escort", "cocaine", "heroin",
	"crystal meth", "methamphetamine", "fentanyl", "buy drugs", "sell drugs",
	"nazi", "white power", "subhuman", "racist", "ethnic cleansing",
)

// Classifier categories that on their own imply a severity.
var (
	categorySeverity3 = []string{"sexual/minors", "violence/graphic", "self-harm/intent", "self-harm/instructions", "violence", "self-harm"}
	categorySeverity2 = []string{"sexual", "hate", "illicit", "harassment/threatening"}
)

// ClassifySeverity maps message content to 1, 2 or 3. The most severe tier
// that matches wins.
func ClassifySeverity(content string) int {
	cleaned := CleanText(content)
	switch {
	case severityTier3.ContainsAny(cleaned):
		return models.SeverityHigh
	case severityTier2.ContainsAny(cleaned):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// SeverityFor combines the content tiers with classifier categories and
// returns the higher of the two.
func SeverityFor(content string, categories []string) int {
	level := ClassifySeverity(content)
	if level == models.SeverityHigh {
		return level
	}
	for _, c := range categories {
		switch {
		case hasCategory(categorySeverity3, c):
			return models.SeverityHigh
		case hasCategory(categorySeverity2, c):
			level = models.SeverityMedium
		}
	}
	return level
}

// hasCategory matches exact names and sub-categories ("hate" covers "hate/threatening").
func hasCategory(list []string, category string) bool {
	category = strings.ToLower(strings.TrimSpace(category))
	for _, c := range list {
		if category == c || strings.HasPrefix(category, c+"/") {
			return true
		}
	}
	return false
}
