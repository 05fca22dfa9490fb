// Package voice implements the multilingual voice command recognizer: a
// continuous speech session whose finalized transcripts are matched against
// per-language distress keyword sets.
package voice

// FallbackLanguage is checked whenever the active language set misses, so a
// user who configured Hindi but shouts "help me" still triggers.
const FallbackLanguage = "en-IN"

// helpKeywords maps BCP-47 language tags to their distress phrases. Matching
// is substring-based on the lower-cased transcript, so "please help me now"
// matches "help me". Romanized forms are listed alongside native script
// because recognizers frequently emit either.
var helpKeywords = map[string][]string{
	"en-IN": {"help", "help me", "save me", "emergency", "bachao"},
	"hi-IN": {"बचाओ", "मदद", "मदद करो", "bachao", "madad", "help"},
	"bn-IN": {"বাঁচাও", "সাহায্য", "bachao", "shahajjo", "help"},
	"ta-IN": {"காப்பாற்று", "உதவி", "kapathunga", "udhavi", "help"},
	"te-IN": {"కాపాడండి", "సహాయం", "kapadandi", "sahayam", "help"},
	"mr-IN": {"वाचवा", "मदत", "vachva", "madat", "help"},
	"kn-IN": {"ಕಾಪಾಡಿ", "ಸಹಾಯ", "kapadi", "sahaya", "help"},
}

// Keywords returns the distress phrases for a language tag, or nil when the
// language has no set.
func Keywords(language string) []string {
	return helpKeywords[language]
}

// SupportedLanguages lists every language with a keyword set.
func SupportedLanguages() []string {
	out := make([]string, 0, len(helpKeywords))
	for lang := range helpKeywords {
		out = append(out, lang)
	}
	return out
}
