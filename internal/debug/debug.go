package debug

import (
	"fmt"
	"log"
	"time"
)

// Output prints debug output if debugging is enabled
func Output(enabled bool, format string, args ...interface{}) {
	if enabled {
		timestamp := time.Now().Format("15:04:05.000")
		message := fmt.Sprintf(format, args...)
		log.Printf("[%s] %s", timestamp, message)
	}
}

// Timing measures and logs execution time if debugging is enabled
func Timing(enabled bool, operation string) func() {
	if !enabled {
		return func() {}
	}

	start := time.Now()
	Output(enabled, "Starting: %s", operation)

	return func() {
		duration := time.Since(start)
		Output(enabled, "Completed: %s (took %v)", operation, duration)
	}
}

// Progress logs a running counter every interval items. Used by the
// enrichment loops so long runs show signs of life.
type Progress struct {
	label    string
	interval int
	count    int
	start    time.Time
}

// NewProgress creates a progress counter logging every interval items.
func NewProgress(label string, interval int) *Progress {
	return &Progress{label: label, interval: interval, start: time.Now()}
}

// Tick advances the counter and logs on interval boundaries.
func (p *Progress) Tick() {
	p.count++
	if p.interval > 0 && p.count%p.interval == 0 {
		rate := float64(p.count) / time.Since(p.start).Seconds()
		log.Printf("Processed %d %s (%.1f/sec)...", p.count, p.label, rate)
	}
}

// Count returns the number of ticks so far.
func (p *Progress) Count() int {
	return p.count
}
