package reembed

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances by step on every reading.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestTracker(buf *bytes.Buffer, total, every int) *ProgressTracker {
	tracker := NewProgressTracker(buf, total, every)
	clock := &fakeClock{t: time.Unix(0, 0), step: time.Second}
	tracker.now = clock.now
	return tracker
}

func TestProgress(t *testing.T) {
	p := Progress{Done: 25, Total: 100, Elapsed: 5 * time.Second}

	assert.InDelta(t, 25.0, p.Percent(), 1e-9)
	assert.InDelta(t, 5.0, p.Rate(), 1e-9)
	assert.Equal(t, 15*time.Second, p.Remaining())
	assert.Equal(t, "Progress: 25/100 (25.0%) - 5.0 chunks/s, eta 15s", p.String())
}

func TestProgress_ZeroValues(t *testing.T) {
	var p Progress
	assert.Zero(t, p.Percent())
	assert.Zero(t, p.Rate())
	assert.Zero(t, p.Remaining())

	done := Progress{Done: 10, Total: 10, Elapsed: time.Second}
	assert.Zero(t, done.Remaining())
}

func TestProgressTracker_ReportsEveryInterval(t *testing.T) {
	var buf bytes.Buffer
	tracker := newTestTracker(&buf, 100, 10)
	tracker.Start()

	tracker.Advance(5)
	assert.Empty(t, buf.String(), "below the interval nothing is written")

	tracker.Advance(5)
	assert.Contains(t, buf.String(), "10/100 (10.0%)")

	tracker.Set(35)
	assert.Contains(t, buf.String(), "35/100 (35.0%)")
	assert.Equal(t, 2, strings.Count(buf.String(), "\r"))
}

func TestProgressTracker_CapsAtTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := newTestTracker(&buf, 10, 1)
	tracker.Start()

	tracker.Set(50)
	assert.Equal(t, 10, tracker.Snapshot().Done)

	tracker.Advance(5)
	assert.Equal(t, 10, tracker.Snapshot().Done)
}

func TestProgressTracker_Finish(t *testing.T) {
	var buf bytes.Buffer
	tracker := newTestTracker(&buf, 100, 1000)
	tracker.Start()
	tracker.Set(75)
	assert.Empty(t, buf.String())

	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "100/100 (100.0%)", "finish should set to total")
	assert.True(t, strings.HasSuffix(output, "\n"), "finish should end the line")

	// A finished tracker ignores further updates.
	tracker.Advance(1)
	tracker.Finish()
	assert.Equal(t, output, buf.String())
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 1)

	tracker.Advance(50)
	tracker.Set(60)
	tracker.Finish()

	assert.Empty(t, buf.String(), "should not write before Start")
	assert.Zero(t, tracker.Elapsed())
	assert.Zero(t, tracker.Snapshot().Done)
}

func TestProgressTracker_Elapsed(t *testing.T) {
	var buf bytes.Buffer
	tracker := newTestTracker(&buf, 10, 1)
	tracker.Start()

	elapsed := tracker.Elapsed()
	require.Positive(t, elapsed)
	assert.Greater(t, tracker.Elapsed(), elapsed, "clock keeps moving")
}

func TestProgressTracker_NonPositiveInterval(t *testing.T) {
	var buf bytes.Buffer
	tracker := newTestTracker(&buf, 3, 0)
	tracker.Start()

	tracker.Advance(1)
	tracker.Advance(1)
	assert.Equal(t, 2, strings.Count(buf.String(), "\r"))
}

func TestProgressTracker_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 1000, 100)
	tracker.Start()

	done := make(chan struct{})
	for range 10 {
		go func() {
			defer func() { done <- struct{}{} }()
			for range 100 {
				tracker.Advance(1)
			}
		}()
	}
	for range 10 {
		<-done
	}

	assert.Equal(t, 1000, tracker.Snapshot().Done)
	assert.Contains(t, buf.String(), "1000/1000")
}
