package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// obfuscation maps look-alike characters to the letter they stand for.
var obfuscation = strings.NewReplacer(
	"@", "a",
	"4", "a",
	"3", "e",
	"!", "i",
	"1", "i",
	"0", "o",
	"$", "s",
	"5", "s",
	"7", "t",
	"+", "t",
	"а", "a", // Cyrillic
	"е", "e", // Cyrillic
	"і", "i", // Cyrillic
	"о", "o", // Cyrillic
	"р", "p", // Cyrillic
)

// CleanText normalizes text to the canonical form every keyword list is
// compared in: lower case, accents stripped, look-alikes replaced and
// non-letters turned into single spaces. Repeated letters are kept, so
// "shoot" and "shot" stay distinct words.
func CleanText(text string) string {
	// A fresh chain per call: transformers carry state and are not safe to share.
	decompose := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(decompose, text); err == nil {
		text = stripped
	}

	// Sentence punctuation at the end of a token is punctuation, not a
	// look-alike: "you!!" must stay "you".
	tokens := strings.Fields(strings.ToLower(text))
	for i, tok := range tokens {
		tokens[i] = obfuscation.Replace(strings.TrimRightFunc(tok, isTrailingPunct))
	}
	cleaned := strings.Join(tokens, " ")

	var b strings.Builder
	b.Grow(len(cleaned))
	for _, r := range cleaned {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

func isTrailingPunct(r rune) bool {
	switch r {
	case '!', '?', '.', ',', ';', ':', ')', '"', '\'':
		return true
	}
	return false
}

// stretchedRun is the run length that marks a word as deliberately
// stretched ("kiiill"). Shorter runs are ordinary spelling.
const stretchedRun = 3

// collapseRepeats reduces runs of the same letter to one letter:
// "kiiilll" -> "kil".
func collapseRepeats(word string) string {
	var b strings.Builder
	b.Grow(len(word))

	var last rune
	for i, r := range word {
		if i > 0 && r == last {
			continue
		}
		b.WriteRune(r)
		last = r
	}
	return b.String()
}

func isStretched(word string) bool {
	var last rune
	run := 0
	for _, r := range word {
		if r == last {
			run++
		} else {
			last, run = r, 1
		}
		if run >= stretchedRun {
			return true
		}
	}
	return false
}

// KeywordSet matches canonical words and phrases against cleaned text.
// Single words must match a whole word ("skill" never matches "kill");
// phrases match as a contiguous run of words. A stretched word only matches
// through its collapsed form, so "kiiill" matches "kill" but "shot" never
// matches "shoot".
type KeywordSet struct {
	entries []keywordEntry
}

type keywordEntry struct {
	original string
	words    []string
}

// NewKeywordSet canonicalises every word once up front.
func NewKeywordSet(words ...string) *KeywordSet {
	set := &KeywordSet{entries: make([]keywordEntry, 0, len(words))}
	for _, w := range words {
		canonical := strings.Fields(CleanText(w))
		if len(canonical) == 0 {
			continue
		}
		set.entries = append(set.entries, keywordEntry{
			original: strings.ToLower(strings.TrimSpace(w)),
			words:    canonical,
		})
	}
	return set
}

// Len returns the number of usable entries.
func (s *KeywordSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Match returns every entry found in cleanedText, in list order. The last
// word of an entry may carry an inflection ("kill" matches "killing").
func (s *KeywordSet) Match(cleanedText string) []string {
	if s.Len() == 0 || cleanedText == "" {
		return nil
	}
	words := strings.Fields(cleanedText)

	var matched []string
	for _, e := range s.entries {
		if containsEntry(words, e.words, true) {
			matched = append(matched, e.original)
		}
	}
	return matched
}

// First returns the first entry found in cleanedText as exact words.
func (s *KeywordSet) First(cleanedText string) (string, bool) {
	if s.Len() == 0 || cleanedText == "" {
		return "", false
	}
	words := strings.Fields(cleanedText)
	for _, e := range s.entries {
		if containsEntry(words, e.words, false) {
			return e.original, true
		}
	}
	return "", false
}

// inflections are the word endings tolerated after the last word of an entry.
var inflections = []string{"", "s", "es", "ed", "er", "ers", "ing", "y"}

// ContainsAny reports whether any entry occurs in cleanedText as a whole
// word or an inflected form of it: "kill" matches "killing" and "killers"
// but not "skill" or "kilogram".
func (s *KeywordSet) ContainsAny(cleanedText string) bool {
	if s.Len() == 0 || cleanedText == "" {
		return false
	}
	words := strings.Fields(cleanedText)
	for _, e := range s.entries {
		if containsEntry(words, e.words, true) {
			return true
		}
	}
	return false
}

func containsEntry(words, entry []string, inflected bool) bool {
	n := len(entry)
	for i := 0; i+n <= len(words); i++ {
		match := true
		for j := 0; j < n-1; j++ {
			if !sameWord(words[i+j], entry[j]) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		last := words[i+n-1]
		if sameWord(last, entry[n-1]) || (inflected && isInflectionOf(last, entry[n-1])) {
			return true
		}
	}
	return false
}

func sameWord(word, keyword string) bool {
	if word == keyword {
		return true
	}
	return isStretched(word) && collapseRepeats(word) == collapseRepeats(keyword)
}

func isInflectionOf(word, stem string) bool {
	if hasInflection(word, stem) {
		return true
	}
	return isStretched(word) && hasInflection(collapseRepeats(word), collapseRepeats(stem))
}

func hasInflection(word, stem string) bool {
	if !strings.HasPrefix(word, stem) {
		return false
	}
	rest := word[len(stem):]
	for _, suffix := range inflections {
		if rest == suffix {
			return true
		}
	}
	return false
}

// CategoryRule is one deterministic local moderation rule.
type CategoryRule struct {
	Category string
	Words    *KeywordSet
}

// Base canonical phrases for the local pass. Kept to explicit threats so
// ordinary role-play vocabulary ("attack", "die") does not trip it.
var baseViolenceWords = []string{
	"i will kill you",
	"gonna kill you",
	"going to kill you",
	"kill you",
	"murder you",
	"shoot you",
	"stab you",
	"strangle you",
	"rape",
	"massacre",
	"slaughter",
	"bomb threat",
}

var baseSelfHarmWords = []string{
	"suicide",
	"kill myself",
	"end my life",
	"take my life",
	"end it all",
	"self harm",
	"cut myself",
	"hurt myself",
	"harm myself",
	"want to die",
	"wish i was dead",
	"not worth living",
	"better off dead",
	"unalive",
}

// DefaultCategoryRules returns the built-in local rules.
func DefaultCategoryRules() []CategoryRule {
	return []CategoryRule{
		{Category: "violence", Words: NewKeywordSet(baseViolenceWords...)},
		{Category: "self-harm", Words: NewKeywordSet(baseSelfHarmWords...)},
	}
}

// BlockedWordFilter finds configured blocked words in a message.
type BlockedWordFilter struct {
	words *KeywordSet
}

func NewBlockedWordFilter(words []string) *BlockedWordFilter {
	return &BlockedWordFilter{words: NewKeywordSet(words...)}
}

// FindBlockedWord returns the first blocked word present in text.
func (f *BlockedWordFilter) FindBlockedWord(text string) (string, bool) {
	if f == nil {
		return "", false
	}
	return f.words.First(CleanText(text))
}
