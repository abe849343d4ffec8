package window

import (
	"time"
)

const (
	Hourly = time.Hour
	Daily  = 24 * time.Hour
)

// Bucket tracks occurrences of a single event category over two trailing
// windows. The hourly and daily slices are independent: an event is appended
// to both, but each slice is pruned against its own window, so expiry of an
// hourly entry never disturbs the daily count.
type Bucket struct {
	Hourly []time.Time
	Daily  []time.Time
}

// Trim drops entries at or older than now minus window, in place, preserving
// relative order. Entries are appended in chronological order, so the survivors
// are always a suffix.
func Trim(entries []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	idx := 0
	for idx < len(entries) && !entries[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return entries
	}
	return append(entries[:0], entries[idx:]...)
}

func (b *Bucket) Prune(now time.Time) {
	b.Hourly = Trim(b.Hourly, now, Hourly)
	b.Daily = Trim(b.Daily, now, Daily)
}

func (b *Bucket) Add(now time.Time) {
	b.Hourly = append(b.Hourly, now)
	b.Daily = append(b.Daily, now)
}

func (b *Bucket) CountHourly() int {
	return len(b.Hourly)
}

func (b *Bucket) CountDaily() int {
	return len(b.Daily)
}

// Empty reports whether the bucket holds no entries in either window.
func (b *Bucket) Empty() bool {
	return len(b.Hourly) == 0 && len(b.Daily) == 0
}
