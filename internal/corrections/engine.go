// Package corrections rewrites committed transcripts with user substitution rules
// before wake matching, so recurring misspellings of tickers and entities can be
// fixed without touching the alias table.
package corrections

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const defaultPassLimit = 30

// Rule is one compiled substitution.
type Rule interface {
	Rewrite(input string) (output string, changed bool)
	Source() string
}

// RuleParser compiles one rules-file line.
type RuleParser interface {
	Accepts(line string) bool
	Compile(line string) (Rule, error)
}

// Engine applies rules repeatedly until the text stops changing or the pass limit is hit.
type Engine struct {
	rules     []Rule
	passLimit int
	logger    zerolog.Logger
}

// Load reads a rules file with the built-in literal and sed-style parsers.
// An empty path or a missing file yields an engine that returns text unchanged.
func Load(path string, passLimit int, logger zerolog.Logger) (*Engine, error) {
	return LoadWithParsers(path, passLimit, logger, DefaultParsers())
}

// LoadWithParsers is Load with a custom parser chain, tried in order.
func LoadWithParsers(path string, passLimit int, logger zerolog.Logger, parsers []RuleParser) (*Engine, error) {
	engine := &Engine{
		passLimit: passLimit,
		logger:    logger.With().Str("component", "corrections").Logger(),
	}
	if engine.passLimit <= 0 {
		engine.passLimit = defaultPassLimit
	}
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}
	if strings.TrimSpace(path) == "" {
		return engine, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			engine.logger.Debug().Str("path", path).Msg("no corrections file, rules disabled")
			return engine, nil
		}
		return nil, fmt.Errorf("failed to read corrections file %q: %w", path, err)
	}

	rules, err := Parse(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse corrections file %q: %w", path, err)
	}
	engine.rules = rules
	engine.logger.Info().Str("path", path).Int("rules", len(rules)).Msg("corrections loaded")
	return engine, nil
}

// New builds an engine from already compiled rules.
func New(rules []Rule, passLimit int, logger zerolog.Logger) *Engine {
	if passLimit <= 0 {
		passLimit = defaultPassLimit
	}
	return &Engine{
		rules:     rules,
		passLimit: passLimit,
		logger:    logger.With().Str("component", "corrections").Logger(),
	}
}

// Len returns the number of loaded rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply rewrites text. It never fails for a loaded engine; the error return
// satisfies ports.TranscriptCorrector.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.rules) == 0 || text == "" {
		return text, nil
	}

	result := text
	for pass := 0; pass < e.passLimit; pass++ {
		changed := false
		for _, rule := range e.rules {
			next, ok := rule.Rewrite(result)
			if !ok {
				continue
			}
			e.logger.Debug().Str("rule", rule.Source()).Int("pass", pass).Msg("correction applied")
			result = next
			changed = true
		}
		if !changed {
			return result, nil
		}
	}

	e.logger.Warn().Int("passLimit", e.passLimit).Msg("corrections did not settle")
	return result, nil
}

// Parse compiles a rules document. Blank lines and # comments are skipped.
func Parse(contents string, parsers []RuleParser) ([]Rule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]Rule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule, err := compileLine(line, parsers)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

func compileLine(line string, parsers []RuleParser) (Rule, error) {
	for _, parser := range parsers {
		if parser.Accepts(line) {
			return parser.Compile(line)
		}
	}
	return nil, errors.New("unsupported rule format")
}

// DefaultParsers returns the sed-style parser followed by the literal parser.
func DefaultParsers() []RuleParser {
	return []RuleParser{SedParser{}, LiteralParser{}}
}
