// Package expansion varies the wording of canned copilot answers so
// consecutive responses do not sound identical.
package expansion

import (
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// Context describes the turn being expanded.
type Context struct {
	FollowUp         bool
	PreviousResponse string
	Detailed         bool
	SkipOpening      bool
}

// Config tunes how often variation is applied.
type Config struct {
	SynonymRate      float64
	OpeningRate      float64
	OverlapThreshold float64
}

// DefaultConfig returns the stock variation rates.
func DefaultConfig() Config {
	return Config{
		SynonymRate:      0.35,
		OpeningRate:      0.6,
		OverlapThreshold: 0.8,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithSeed makes the engine deterministic.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.rng = rand.New(rand.NewSource(seed))
	}
}

var wordPattern = regexp.MustCompile(`[A-Za-z']+`)

// Engine is safe for concurrent use. Its only state is the last opening and
// closing it chose.
type Engine struct {
	cfg    Config
	book   Phrasebook
	logger zerolog.Logger

	mu          sync.Mutex
	rng         *rand.Rand
	lastOpening map[Category]int
	lastText    string
	lastClosing int
}

func New(cfg Config, book Phrasebook, logger zerolog.Logger, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if cfg.SynonymRate < 0 || cfg.SynonymRate > 1 {
		cfg.SynonymRate = defaults.SynonymRate
	}
	if cfg.OpeningRate < 0 || cfg.OpeningRate > 1 {
		cfg.OpeningRate = defaults.OpeningRate
	}
	if cfg.OverlapThreshold <= 0 || cfg.OverlapThreshold > 1 {
		cfg.OverlapThreshold = defaults.OverlapThreshold
	}
	if len(book.allOpenings()) == 0 {
		book = DefaultPhrasebook()
	}

	e := &Engine{
		cfg:         cfg,
		book:        book,
		logger:      logger.With().Str("component", "expansion").Logger(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		lastOpening: map[Category]int{},
		lastClosing: -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns a varied restatement of text.
func (e *Engine) Expand(text string, ctx Context) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	body := e.substitute(text, e.cfg.SynonymRate)

	var opening string
	if !ctx.SkipOpening && (ctx.FollowUp || e.rng.Float64() < e.cfg.OpeningRate) {
		opening = e.pickOpening(e.categoryFor(ctx))
	}

	var closing string
	if ctx.Detailed && len(e.book.Closings) > 0 {
		closing = e.pickClosing()
	}

	result := compose(opening, body, closing)
	if ctx.PreviousResponse != "" && e.tooSimilar(result, ctx.PreviousResponse) {
		result = e.rephrase(text, ctx.PreviousResponse, closing, ctx.SkipOpening)
		e.logger.Debug().Msg("forced rephrase to avoid repeating previous response")
	}
	return result
}

func (e *Engine) categoryFor(ctx Context) Category {
	var choices []Category
	if ctx.FollowUp {
		choices = []Category{CategoryAcknowledging, CategoryContextual}
	} else {
		choices = []Category{CategoryDirect, CategoryTransitional}
	}
	return choices[e.rng.Intn(len(choices))]
}

// pickIndex returns a random index in [0,n) that differs from last when n > 1.
func (e *Engine) pickIndex(n, last int) int {
	if n <= 1 {
		return 0
	}
	if last < 0 || last >= n {
		return e.rng.Intn(n)
	}
	return (last + 1 + e.rng.Intn(n-1)) % n
}

func (e *Engine) pickOpening(category Category) string {
	options := e.book.Openings[category]
	if len(options) == 0 {
		return ""
	}
	last, ok := e.lastOpening[category]
	if !ok {
		last = -1
	}
	idx := e.pickIndex(len(options), last)
	if options[idx] == e.lastText && len(options) > 1 {
		idx = (idx + 1) % len(options)
	}
	e.lastOpening[category] = idx
	e.lastText = options[idx]
	return options[idx]
}

func (e *Engine) pickClosing() string {
	idx := e.pickIndex(len(e.book.Closings), e.lastClosing)
	e.lastClosing = idx
	return e.book.Closings[idx]
}

// substitute swaps known words for synonyms, each with probability rate.
func (e *Engine) substitute(text string, rate float64) string {
	if rate <= 0 || len(e.book.Synonyms) == 0 {
		return text
	}
	return wordPattern.ReplaceAllStringFunc(text, func(word string) string {
		options, ok := e.book.Synonyms[strings.ToLower(word)]
		if !ok || len(options) == 0 || e.rng.Float64() >= rate {
			return word
		}
		return matchCase(word, options[e.rng.Intn(len(options))])
	})
}

// rephrase rebuilds the answer with every synonym applied and an opening the
// previous response did not use.
// rephrase forces every synonym and a fresh opening. Without openings it
// falls back to a different closing when synonyms alone change nothing.
func (e *Engine) rephrase(text, previous, closing string, skipOpening bool) string {
	body := e.substitute(stripOpening(text, e.book.allOpenings()), 1)
	if skipOpening {
		result := compose(body, closing)
		if result == strings.TrimSpace(previous) && len(e.book.Closings) > 0 {
			result = compose(body, e.pickClosing())
		}
		return result
	}
	used := leadingOpening(previous, e.book.allOpenings())

	candidates := e.book.allOpenings()
	start := e.rng.Intn(len(candidates))
	for i := range candidates {
		opening := candidates[(start+i)%len(candidates)]
		if opening == used {
			continue
		}
		result := compose(opening, body, closing)
		if result != previous {
			e.lastText = opening
			return result
		}
	}
	return compose(body, "", closing)
}

func (e *Engine) tooSimilar(candidate, previous string) bool {
	if candidate == strings.TrimSpace(previous) {
		return true
	}
	return Jaccard(candidate, previous) >= e.cfg.OverlapThreshold
}

func compose(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

func leadingOpening(text string, openings []string) string {
	for _, opening := range openings {
		if strings.HasPrefix(text, opening) {
			return opening
		}
	}
	return ""
}

func stripOpening(text string, openings []string) string {
	if opening := leadingOpening(text, openings); opening != "" {
		return strings.TrimSpace(strings.TrimPrefix(text, opening))
	}
	return text
}

func matchCase(original, replacement string) string {
	if original == "" || replacement == "" {
		return replacement
	}
	if unicode.IsUpper(rune(original[0])) {
		return strings.ToUpper(replacement[:1]) + replacement[1:]
	}
	return replacement
}

// Jaccard returns the word-set overlap of a and b in [0,1].
func Jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	intersection := 0
	for word := range setA {
		if _, ok := setB[word]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		set[word] = struct{}{}
	}
	return set
}
