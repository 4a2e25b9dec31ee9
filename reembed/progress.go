package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Progress is a point-in-time view of a reembedding run.
type Progress struct {
	Done    int
	Total   int
	Elapsed time.Duration
}

// Percent returns the completed share of the run, 0..100.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total) * 100
}

// Rate returns chunks processed per second.
func (p Progress) Rate() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.Done) / p.Elapsed.Seconds()
}

// Remaining estimates the time left at the current rate. Zero until the
// first chunk completes.
func (p Progress) Remaining() time.Duration {
	rate := p.Rate()
	if rate == 0 || p.Done >= p.Total {
		return 0
	}
	return time.Duration(float64(p.Total-p.Done) / rate * float64(time.Second))
}

func (p Progress) String() string {
	return fmt.Sprintf("Progress: %d/%d (%.1f%%) - %.1f chunks/s, eta %v",
		p.Done, p.Total, p.Percent(), p.Rate(), p.Remaining().Round(time.Second))
}

// ProgressTracker writes a progress line every time another reportEvery
// chunks complete. The line is rewritten in place with a carriage return.
type ProgressTracker struct {
	mu          sync.Mutex
	out         io.Writer
	total       int
	reportEvery int
	done        int
	reported    int
	start       time.Time
	running     bool
	now         func() time.Time
}

// NewProgressTracker creates a tracker for total chunks. A non-positive
// reportEvery reports on every update.
func NewProgressTracker(out io.Writer, total, reportEvery int) *ProgressTracker {
	return &ProgressTracker{
		out:         out,
		total:       total,
		reportEvery: max(reportEvery, 1),
		now:         time.Now,
	}
}

// Start resets the counters and the clock.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = p.now()
	p.running = true
	p.done = 0
	p.reported = 0
}

// Set records that done chunks have completed. Values above the total are capped.
func (p *ProgressTracker) Set(done int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.done = min(done, p.total)
	p.maybeReport()
}

// Advance records n more completed chunks.
func (p *ProgressTracker) Advance(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.done = min(p.done+n, p.total)
	p.maybeReport()
}

// Snapshot returns the current progress.
func (p *ProgressTracker) Snapshot() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

// Finish marks every chunk done, writes the final line and ends it.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.done = p.total
	fmt.Fprintf(p.out, "\r%s\n", p.snapshot())
	p.running = false
}

// Elapsed returns the time since Start, or zero before Start.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start.IsZero() {
		return 0
	}
	return p.now().Sub(p.start)
}

// Caller holds p.mu.
func (p *ProgressTracker) maybeReport() {
	if p.done-p.reported < p.reportEvery {
		return
	}
	fmt.Fprintf(p.out, "\r%s", p.snapshot())
	p.reported = p.done
}

func (p *ProgressTracker) snapshot() Progress {
	var elapsed time.Duration
	if !p.start.IsZero() {
		elapsed = p.now().Sub(p.start)
	}
	return Progress{Done: p.done, Total: p.total, Elapsed: elapsed}
}
