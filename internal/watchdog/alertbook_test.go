package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostquant/internal/domain"
)

func TestAlertBookDedupWindow(t *testing.T) {
	t.Parallel()

	now := testNow()
	book := NewAlertBook(time.Minute, 5*time.Minute, func() time.Time { return now })

	first := alert("pressure_buy", "BTC", domain.SeverityMedium, 0.7, "first")
	_, ok := book.Offer(first)
	require.True(t, ok)

	now = now.Add(10 * time.Second)
	_, ok = book.Offer(alert("pressure_buy", "BTC", domain.SeverityMedium, 0.9, "same severity"))
	assert.False(t, ok)

	stored, ok := book.Offer(alert("pressure_buy", "BTC", domain.SeverityHigh, 0.9, "escalated"))
	require.True(t, ok)
	assert.Equal(t, "escalated", stored.Narrative)

	_, ok = book.Offer(alert("pressure_buy", "ETH", domain.SeverityLow, 0.5, "other entity"))
	assert.True(t, ok)
	assert.Equal(t, 2, book.Len())

	now = now.Add(61 * time.Second)
	stored, ok = book.Offer(alert("pressure_buy", "BTC", domain.SeverityLow, 0.5, "refreshed"))
	require.True(t, ok)
	assert.Equal(t, "refreshed", stored.Narrative)
	assert.Equal(t, now.Add(5*time.Minute), stored.ExpiresAt)
}

func TestAlertBookPurgeAndActive(t *testing.T) {
	t.Parallel()

	now := testNow()
	book := NewAlertBook(0, time.Minute, func() time.Time { return now })

	book.Offer(alert("a", "x", domain.SeverityLow, 0.9, "low"))
	book.Offer(alert("b", "x", domain.SeverityCritical, 0.9, "critical"))
	book.Offer(alert("c", "x", domain.SeverityHigh, 0.6, "high"))

	active := book.Active()
	require.Len(t, active, 3)
	assert.Equal(t, "critical", active[0].Narrative)
	assert.Equal(t, "high", active[1].Narrative)

	now = now.Add(time.Minute)
	assert.Empty(t, book.Active())
	assert.Equal(t, 3, book.Purge())
	assert.Zero(t, book.Len())
}
