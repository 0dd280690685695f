// Package raid flags coordinated mass joins against a single guild.
package raid

import (
	"sync"
	"time"

	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/metrics"
)

// window is how far back joins count toward a raid.
const window = 60 * time.Second

// Detector keeps a per-guild sliding window of join timestamps. Entries
// older than the window are evicted lazily on each check, never by a
// background sweep.
type Detector struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewDetector() *Detector {
	return &Detector{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check records a join for the guild and reports whether the trimmed
// window has reached the threshold. Guilds are independent.
func (d *Detector) Check(guildID string, threshold int) bool {
	now := d.now()
	cutoff := now.Add(-window)

	d.mu.Lock()
	joins := append(d.windows[guildID], now)
	trimmed := joins[:0]
	for _, t := range joins {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}
	d.windows[guildID] = trimmed
	size := len(trimmed)
	d.mu.Unlock()

	if size >= threshold {
		metrics.RaidsDetectedTotal.Inc()
		return true
	}
	return false
}

// WindowSize reports the current join count for a guild without
// recording a join. Eviction still applies.
func (d *Detector) WindowSize(guildID string) int {
	cutoff := d.now().Add(-window)

	d.mu.Lock()
	defer d.mu.Unlock()

	joins := d.windows[guildID]
	trimmed := joins[:0]
	for _, t := range joins {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}
	if len(trimmed) == 0 {
		delete(d.windows, guildID)
		return 0
	}
	d.windows[guildID] = trimmed
	return len(trimmed)
}
