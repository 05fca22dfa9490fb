package voice

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/kavach-app/kavach/pkg/provider/speech"
)

const (
	// DefaultConfidenceThreshold gates recognition alternatives.
	DefaultConfidenceThreshold = 0.6
	// fuzzyJWThreshold accepts near-miss tokens ("halp" for "help") via
	// Jaro-Winkler similarity. Only tokens of fuzzyMinLen+ are considered,
	// short words produce too many collisions.
	fuzzyJWThreshold = 0.92
	fuzzyMinLen      = 4
)

// Match is a recognized distress command.
type Match struct {
	Transcript string  // normalized transcript of the winning alternative
	Keyword    string  // the keyword that matched
	Language   string  // language set the keyword came from
	Confidence float64 // the winning alternative's confidence
}

// MatcherOption is a functional option for configuring a Matcher.
type MatcherOption func(*Matcher)

// WithConfidenceThreshold overrides the minimum alternative confidence.
func WithConfidenceThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) {
		if threshold > 0 {
			m.threshold = threshold
		}
	}
}

// WithFuzzyMatching toggles Jaro-Winkler token matching for STT near-misses.
func WithFuzzyMatching(enabled bool) MatcherOption {
	return func(m *Matcher) {
		m.fuzzy = enabled
	}
}

// Matcher checks finalized utterances for distress keywords. Read-only after
// construction, safe for concurrent use.
type Matcher struct {
	threshold float64
	fuzzy     bool
}

// NewMatcher returns a Matcher with the supplied options.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{threshold: DefaultConfidenceThreshold, fuzzy: true}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match scans the utterance's alternatives in order. An alternative below
// the confidence threshold is skipped entirely. The first alternative whose
// text contains a keyword of the active language wins; the fallback
// language's keywords are tried on a miss.
func (m *Matcher) Match(utt speech.Utterance, language string) (Match, bool) {
	active := Keywords(language)
	fallback := Keywords(FallbackLanguage)

	for _, alt := range utt.Alternatives {
		if alt.Confidence < m.threshold {
			continue
		}
		text := normalize(alt.Text)
		if text == "" {
			continue
		}

		if kw, ok := m.matchSet(text, active); ok {
			return Match{Transcript: text, Keyword: kw, Language: language, Confidence: alt.Confidence}, true
		}
		if language != FallbackLanguage {
			if kw, ok := m.matchSet(text, fallback); ok {
				return Match{Transcript: text, Keyword: kw, Language: FallbackLanguage, Confidence: alt.Confidence}, true
			}
		}
	}
	return Match{}, false
}

func (m *Matcher) matchSet(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	if !m.fuzzy {
		return "", false
	}

	tokens := strings.Fields(text)
	for _, kw := range keywords {
		if len([]rune(kw)) < fuzzyMinLen || strings.ContainsRune(kw, ' ') {
			continue
		}
		for _, tok := range tokens {
			if len([]rune(tok)) < fuzzyMinLen {
				continue
			}
			if matchr.JaroWinkler(tok, kw, false) >= fuzzyJWThreshold {
				return kw, true
			}
		}
	}
	return "", false
}

// normalize lower-cases and trims a transcript.
func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
