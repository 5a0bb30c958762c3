package dialogue

import (
	"strings"
	"sync"
	"time"

	"ghostquant/internal/domain"
	"ghostquant/internal/expansion"
)

const defaultFollowUpWindow = 45 * time.Second

var followUpCues = []string{
	"what about", "how about", "and", "also", "again", "more",
	"that", "it", "those", "why", "tell me more", "go on",
}

// Conversation remembers the previous turn so answers can be phrased as follow-ups.
type Conversation struct {
	window time.Duration
	now    func() time.Time

	mu           sync.Mutex
	lastQuery    string
	lastResponse string
	lastAt       time.Time
}

func NewConversation(window time.Duration) *Conversation {
	if window <= 0 {
		window = defaultFollowUpWindow
	}
	return &Conversation{window: window, now: time.Now}
}

// Record stores the latest exchange.
func (c *Conversation) Record(query, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastQuery = query
	c.lastResponse = response
	c.lastAt = c.now()
}

// PreviousResponse returns the last spoken answer, or "" once the window has passed.
func (c *Conversation) PreviousResponse() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiredLocked() {
		return ""
	}
	return c.lastResponse
}

// IsFollowUp reports whether query continues the previous exchange.
func (c *Conversation) IsFollowUp(query string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastResponse == "" || c.expiredLocked() {
		return false
	}

	words := " " + NormalizeCommand(query) + " "
	for _, cue := range followUpCues {
		if strings.Contains(words, " "+cue+" ") {
			return true
		}
	}
	return false
}

// Reset forgets the previous exchange.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastQuery, c.lastResponse, c.lastAt = "", "", time.Time{}
}

func (c *Conversation) expiredLocked() bool {
	return c.lastAt.IsZero() || c.now().Sub(c.lastAt) > c.window
}

var detailCues = []string{"explain", "detail", "tell me more", "break it down", "walk me through"}

// ExpansionContext builds the expansion context for answering query in mode.
func (c *Conversation) ExpansionContext(query string, mode domain.VoiceMode) expansion.Context {
	ctx := Style(mode)
	ctx.FollowUp = c.IsFollowUp(query)
	ctx.PreviousResponse = c.PreviousResponse()
	if mode != domain.VoiceModeMission && containsAny(NormalizeCommand(query), detailCues) {
		ctx.Detailed = true
	}
	return ctx
}

// Style maps a voice mode onto expansion settings. Mission mode drops openings.
func Style(mode domain.VoiceMode) expansion.Context {
	if mode == domain.VoiceModeMission {
		return expansion.Context{SkipOpening: true}
	}
	return expansion.Context{}
}
