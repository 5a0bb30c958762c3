package wake

import (
	"strings"

	"github.com/rs/zerolog"
)

// Match describes where a wake alias was found in a transcript.
type Match struct {
	Alias      Alias
	Start      int
	End        int
	Confidence float64
}

// Normalizer matches transcripts against a Table.
type Normalizer struct {
	table  *Table
	logger zerolog.Logger
}

func NewNormalizer(table *Table, logger zerolog.Logger) *Normalizer {
	if table == nil {
		table = DefaultTable()
	}
	return &Normalizer{
		table:  table,
		logger: logger.With().Str("component", "wake").Logger(),
	}
}

// Table returns the alias table in use.
func (n *Normalizer) Table() *Table {
	return n.table
}

// Match finds the longest alias contained in text, case-insensitively.
func (n *Normalizer) Match(text string) (Match, bool) {
	if strings.TrimSpace(text) == "" {
		return Match{}, false
	}

	// aliases are ordered longest first, so the first hit is the longest.
	for _, alias := range n.table.aliases {
		start := indexFold(text, alias.Phrase)
		if start < 0 {
			continue
		}
		match := Match{
			Alias:      alias,
			Start:      start,
			End:        start + len(alias.Phrase),
			Confidence: alias.Confidence,
		}
		n.logger.Debug().
			Str("alias", alias.Phrase).
			Str("tier", string(alias.Tier)).
			Float64("confidence", alias.Confidence).
			Msg("wake alias matched")
		return match, true
	}
	return Match{}, false
}

// Matches reports whether text contains the wake phrase or any alias.
func (n *Normalizer) Matches(text string) bool {
	_, ok := n.Match(text)
	return ok
}

// Confidence returns the tier score of the matched alias, or 0.
func (n *Normalizer) Confidence(text string) float64 {
	match, ok := n.Match(text)
	if !ok {
		return 0
	}
	return match.Confidence
}

// Normalize replaces the first occurrence of the matched alias with the canonical phrase.
func (n *Normalizer) Normalize(text string) string {
	match, ok := n.Match(text)
	if !ok {
		return text
	}
	return text[:match.Start] + n.table.canonical + text[match.End:]
}

// ExtractQuery returns the text following the longest matched alias.
func (n *Normalizer) ExtractQuery(text string) (string, bool) {
	match, ok := n.Match(text)
	if !ok {
		return "", false
	}
	return trimQuery(text[match.End:]), true
}

func trimQuery(tail string) string {
	return strings.TrimSpace(strings.TrimLeft(tail, " \t\n,.!?:;-"))
}

// indexFold is strings.Index with ASCII case folding on the needle.
func indexFold(s, substr string) int {
	n := len(substr)
	if n == 0 || n > len(s) {
		return -1
	}
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}
