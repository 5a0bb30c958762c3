// Package dialogue holds per-session conversational state: the voice mode,
// the phrases that switch it, and follow-up tracking between turns.
package dialogue

import (
	"strings"
	"unicode"

	"ghostquant/internal/domain"
)

// Default phrases are checked first so "exit mission mode" is not read as a mission request.
var (
	defaultModePhrases = []string{
		"exit mission mode",
		"end mission mode",
		"leave mission mode",
		"mission complete",
		"stand down",
		"default mode",
		"normal mode",
		"switch to default",
		"back to normal",
	}
	missionModePhrases = []string{
		"mission mode",
		"enter mission",
		"switch to mission",
		"go tactical",
		"battle stations",
	}
)

// NormalizeCommand lowercases text, strips punctuation and collapses whitespace.
func NormalizeCommand(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'':
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ParseModeCommand reports whether text asks to change the voice mode.
func ParseModeCommand(text string) (domain.VoiceMode, bool) {
	normalized := NormalizeCommand(text)
	if normalized == "" {
		return "", false
	}
	if containsAny(normalized, defaultModePhrases) {
		return domain.VoiceModeDefault, true
	}
	if containsAny(normalized, missionModePhrases) {
		return domain.VoiceModeMission, true
	}
	return "", false
}

func containsAny(text string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// ModeAnnouncement is the confirmation spoken after a mode change.
func ModeAnnouncement(mode domain.VoiceMode) string {
	if mode == domain.VoiceModeMission {
		return "Mission mode engaged. Keeping it short."
	}
	return "Back to default mode."
}
