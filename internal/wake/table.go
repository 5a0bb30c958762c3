// Package wake detects the copilot wake phrase in noisy transcripts.
package wake

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CanonicalPhrase is the wake phrase every alias normalizes to.
const CanonicalPhrase = "hey ghostquant"

// Tier groups aliases by how they were misheard.
type Tier string

const (
	TierCanonical Tier = "canonical"
	TierPhonetic  Tier = "phonetic"
	TierPlatform  Tier = "platform"
	TierCatchAll  Tier = "catchall"
)

// Alias is one known transcription of the wake phrase.
type Alias struct {
	Phrase     string  `yaml:"phrase"`
	Tier       Tier    `yaml:"tier"`
	Confidence float64 `yaml:"confidence"`
}

// Table is an immutable set of aliases ordered longest first.
type Table struct {
	canonical string
	aliases   []Alias
}

var errEmptyCanonical = errors.New("canonical wake phrase cannot be empty")

// NewTable validates and orders aliases. The canonical phrase is always included.
func NewTable(canonical string, aliases []Alias) (*Table, error) {
	canonical = strings.ToLower(strings.TrimSpace(canonical))
	if canonical == "" {
		return nil, errEmptyCanonical
	}

	seen := map[string]struct{}{canonical: {}}
	ordered := []Alias{{Phrase: canonical, Tier: TierCanonical, Confidence: 1.0}}
	for i, alias := range aliases {
		phrase := strings.ToLower(strings.Join(strings.Fields(alias.Phrase), " "))
		if phrase == "" {
			return nil, fmt.Errorf("alias %d: phrase cannot be empty", i+1)
		}
		if _, dup := seen[phrase]; dup {
			continue
		}
		seen[phrase] = struct{}{}

		tier := alias.Tier
		if tier == "" {
			tier = TierPhonetic
		}
		confidence, err := tierConfidence(tier, alias.Confidence)
		if err != nil {
			return nil, fmt.Errorf("alias %q: %w", phrase, err)
		}
		ordered = append(ordered, Alias{Phrase: phrase, Tier: tier, Confidence: confidence})
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Phrase) > len(ordered[j].Phrase)
	})
	return &Table{canonical: canonical, aliases: ordered}, nil
}

// tierConfidence clamps a configured score into the band allowed for its tier.
func tierConfidence(tier Tier, configured float64) (float64, error) {
	switch tier {
	case TierCanonical:
		return 1.0, nil
	case TierPhonetic:
		if configured == 0 {
			return 0.9, nil
		}
		return clamp(configured, 0.9, 0.98), nil
	case TierPlatform:
		return 0.95, nil
	case TierCatchAll:
		return 0.8, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", tier)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Canonical returns the canonical wake phrase.
func (t *Table) Canonical() string {
	return t.canonical
}

// Aliases returns a copy of the aliases, longest first.
func (t *Table) Aliases() []Alias {
	out := make([]Alias, len(t.aliases))
	copy(out, t.aliases)
	return out
}

// DefaultAliases are the misrecognitions observed for "hey ghostquant".
func DefaultAliases() []Alias {
	return []Alias{
		{Phrase: "hey ghost quant", Tier: TierPhonetic, Confidence: 0.98},
		{Phrase: "hey ghost kwant", Tier: TierPhonetic, Confidence: 0.95},
		{Phrase: "hey ghostkwant", Tier: TierPhonetic, Confidence: 0.95},
		{Phrase: "hey ghost want", Tier: TierPhonetic, Confidence: 0.92},
		{Phrase: "hey ghostwant", Tier: TierPhonetic, Confidence: 0.92},
		{Phrase: "hey ghost count", Tier: TierPhonetic, Confidence: 0.9},
		{Phrase: "hey goes quant", Tier: TierPhonetic, Confidence: 0.9},
		{Phrase: "hey ghost client", Tier: TierPhonetic, Confidence: 0.9},
		{Phrase: "hey google", Tier: TierPlatform},
		{Phrase: "ok google", Tier: TierPlatform},
		{Phrase: "hey ghost", Tier: TierCatchAll},
	}
}

// DefaultTable returns the built-in alias table.
func DefaultTable() *Table {
	table, err := NewTable(CanonicalPhrase, DefaultAliases())
	if err != nil {
		panic(err)
	}
	return table
}

type tableFile struct {
	Canonical string  `yaml:"canonical"`
	Aliases   []Alias `yaml:"aliases"`
}

// LoadTable reads an alias table from YAML. An empty path or missing file yields the default table.
func LoadTable(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTable(), nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultTable(), nil
		}
		return nil, fmt.Errorf("failed to read wake alias file %q: %w", path, err)
	}

	var file tableFile
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return nil, fmt.Errorf("failed to parse wake alias file %q: %w", path, err)
	}
	if strings.TrimSpace(file.Canonical) == "" {
		file.Canonical = CanonicalPhrase
	}

	table, err := NewTable(file.Canonical, file.Aliases)
	if err != nil {
		return nil, fmt.Errorf("invalid wake alias file %q: %w", path, err)
	}
	return table, nil
}
