package models

// ModerationResult is the normalised verdict for one piece of text.
type ModerationResult struct {
	Safe       bool               `json:"safe"`
	Flagged    bool               `json:"flagged"`
	Categories []string           `json:"categories"`
	Scores     map[string]float64 `json:"scores"`
	Message    string             `json:"message,omitempty"`
	// LocalMatches lists the local rule phrases found in the text.
	LocalMatches []string `json:"local_matches,omitempty"`
	// Degraded is set when the external classifier could not be reached and
	// the verdict fell back to local rules only.
	Degraded bool `json:"degraded,omitempty"`
}

// SafeResult is the verdict for content nobody objected to.
func SafeResult() ModerationResult {
	return ModerationResult{
		Safe:       true,
		Categories: []string{},
		Scores:     map[string]float64{},
	}
}
