package syncstatus

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestTrackerPhases(t *testing.T) {
	tracker := NewTracker(testLogger())
	tag := "BINANCE_BTC_USDT"

	assert.False(t, tracker.IsReadyForExecution(tag))

	tracker.MarkBasicSynced(tag)
	status := tracker.Status(tag)
	assert.True(t, status.BasicSynced)
	assert.False(t, status.ExtendedSynced)
	assert.False(t, tracker.IsReadyForExecution(tag), "basic alone is not enough")

	tracker.MarkExtendedSynced(tag)
	assert.True(t, tracker.IsReadyForExecution(tag))

	status = tracker.Status(tag)
	assert.False(t, status.BasicSyncedAt.IsZero())
	assert.False(t, status.ExtendedSyncedAt.IsZero())
}

func TestTrackerTransitionTimestampsAreSticky(t *testing.T) {
	tracker := NewTracker(testLogger())
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	current := base
	tracker.now = func() time.Time { return current }

	tracker.MarkBasicSynced("BINANCE_BTC_USDT")
	current = base.Add(time.Hour)
	tracker.MarkBasicSynced("BINANCE_BTC_USDT")

	status := tracker.Status("BINANCE_BTC_USDT")
	assert.Equal(t, base, status.BasicSyncedAt, "first transition time is kept")
	assert.Equal(t, base.Add(time.Hour), status.UpdatedAt)
}

func TestTrackerCanonicalizesTags(t *testing.T) {
	tracker := NewTracker(testLogger())
	tracker.MarkBasicSynced("binance_btc_usdt")
	tracker.MarkExtendedSynced("BINANCE_BTC_USDT")

	assert.True(t, tracker.IsReadyForExecution("Binance_Btc_Usdt"))
}

func TestTrackerReset(t *testing.T) {
	tracker := NewTracker(testLogger())
	tag := "BINANCE_BTC_USDT"

	tracker.MarkBasicSynced(tag)
	tracker.MarkExtendedSynced(tag)
	tracker.Reset(tag)

	assert.False(t, tracker.IsReadyForExecution(tag))
	assert.True(t, tracker.Status(tag).UpdatedAt.IsZero())
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tracker := NewTracker(testLogger())
	tags := []string{"A_B_C", "D_E_F", "G_H_I", "J_K_L"}

	var wg sync.WaitGroup
	for _, tag := range tags {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				tracker.MarkBasicSynced(tag)
				tracker.MarkExtendedSynced(tag)
				_ = tracker.IsReadyForExecution(tag)
			}
		}(tag)
	}
	wg.Wait()

	for _, tag := range tags {
		assert.True(t, tracker.IsReadyForExecution(tag))
	}
}
