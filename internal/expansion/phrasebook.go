package expansion

// Category groups opening phrases by conversational intent.
type Category string

const (
	CategoryDirect        Category = "direct"
	CategoryAcknowledging Category = "acknowledging"
	CategoryTransitional  Category = "transitional"
	CategoryContextual    Category = "contextual"
)

// Phrasebook holds the wording an Engine draws from.
// No opening may be a prefix of another; forced rephrasing relies on it.
type Phrasebook struct {
	Openings map[Category][]string
	Closings []string
	Synonyms map[string][]string
}

// DefaultPhrasebook returns the copilot's stock wording.
func DefaultPhrasebook() Phrasebook {
	return Phrasebook{
		Openings: map[Category][]string{
			CategoryDirect: {
				"Here's the read.",
				"Straight answer.",
				"Quick take.",
			},
			CategoryAcknowledging: {
				"Got it.",
				"Understood.",
				"Sure thing.",
				"Copy that.",
			},
			CategoryTransitional: {
				"Looking at the board now.",
				"Checking the tape.",
				"Pulling that up.",
			},
			CategoryContextual: {
				"Building on that.",
				"Following up.",
				"On the same thread.",
			},
		},
		Closings: []string{
			"Want me to dig deeper?",
			"I'll keep watching it.",
			"Say the word if you want specifics.",
			"I can break that down further.",
		},
		Synonyms: map[string][]string{
			"significant": {"notable", "meaningful", "material"},
			"increase":    {"rise", "uptick", "climb"},
			"increased":   {"risen", "climbed", "ticked up"},
			"decrease":    {"drop", "decline", "pullback"},
			"decreased":   {"dropped", "declined", "pulled back"},
			"large":       {"sizable", "heavy", "outsized"},
			"currently":   {"right now", "at the moment", "presently"},
			"shows":       {"indicates", "points to", "suggests"},
			"detected":    {"spotted", "picked up", "flagged"},
			"elevated":    {"heightened", "raised", "above normal"},
			"unusual":     {"atypical", "abnormal", "out of pattern"},
			"quickly":     {"fast", "rapidly", "sharply"},
		},
	}
}

func (b Phrasebook) allOpenings() []string {
	var out []string
	for _, category := range []Category{CategoryDirect, CategoryAcknowledging, CategoryTransitional, CategoryContextual} {
		out = append(out, b.Openings[category]...)
	}
	return out
}
