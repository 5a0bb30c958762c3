package usecase

import (
	"strings"
	"sync"
)

// commitTracker drops a committed transcript that repeats the previous commit
// with no partial in between. Providers occasionally resend a commit when a
// timestamped variant follows the plain one.
type commitTracker struct {
	mu         sync.Mutex
	lastCommit string
	sawPartial bool
	lastSpoken string
}

func newCommitTracker() *commitTracker {
	return &commitTracker{}
}

func (c *commitTracker) Partial(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.sawPartial = true
	c.lastSpoken = text
}

// Commit reports whether text is a new utterance.
func (c *commitTracker) Commit(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if !c.sawPartial && strings.EqualFold(text, c.lastCommit) {
		return false
	}
	c.lastCommit = text
	c.lastSpoken = text
	c.sawPartial = false
	return true
}

// LastSpoken returns the most recent partial or committed text.
func (c *commitTracker) LastSpoken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSpoken
}
