package main

import (
	"context"
	"sync"
	"time"

	"github.com/cwsl/ubersdr_subcar/subcar"
)

// RecentEntry is one distinct key heard recently
type RecentEntry struct {
	Packet    subcar.Packet `json:"packet"`
	Count     int           `json:"count"`
	Age       int           `json:"age"` // seconds since last heard
	FirstSeen time.Time     `json:"first_seen"`
	LastSeen  time.Time     `json:"last_seen"`
}

// recentKey identifies a key fob regardless of how often it repeats
func recentKey(p subcar.Packet) uint64 {
	return p.Data ^ uint64(p.Protocol)
}

// RecentEntries is the most-recently-heard table, newest first
type RecentEntries struct {
	mu         sync.RWMutex
	entries    []*RecentEntry
	maxEntries int
	maxAge     int
	metrics    *PrometheusMetrics
}

// NewRecentEntries creates an empty table
func NewRecentEntries(cfg RecentConfig, metrics *PrometheusMetrics) *RecentEntries {
	return &RecentEntries{
		entries:    make([]*RecentEntry, 0, cfg.MaxEntries),
		maxEntries: cfg.MaxEntries,
		maxAge:     cfg.MaxAge,
		metrics:    metrics,
	}
}

// HandlePacket records ev. A repeat moves its entry to the front and
// resets its age; a new key pushes out the oldest entry when full.
func (re *RecentEntries) HandlePacket(ev PacketEvent) {
	re.mu.Lock()
	defer re.mu.Unlock()

	key := recentKey(ev.Packet)
	for i, e := range re.entries {
		if recentKey(e.Packet) != key {
			continue
		}
		e.Packet = ev.Packet
		e.Count++
		e.Age = 0
		e.LastSeen = ev.Time
		copy(re.entries[1:i+1], re.entries[:i])
		re.entries[0] = e
		return
	}

	if len(re.entries) == re.maxEntries {
		re.entries = re.entries[:len(re.entries)-1]
	}
	re.entries = append(re.entries, nil)
	copy(re.entries[1:], re.entries)
	re.entries[0] = &RecentEntry{
		Packet:    ev.Packet,
		Count:     1,
		FirstSeen: ev.Time,
		LastSeen:  ev.Time,
	}
	re.metrics.SetRecentKeys(len(re.entries))
}

// Tick ages every entry by one second and drops those past max_age
func (re *RecentEntries) Tick() {
	re.mu.Lock()
	defer re.mu.Unlock()

	kept := re.entries[:0]
	for _, e := range re.entries {
		e.Age++
		if re.maxAge > 0 && e.Age > re.maxAge {
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(re.entries); i++ {
		re.entries[i] = nil
	}
	re.entries = kept
	re.metrics.SetRecentKeys(len(re.entries))
}

// Run ticks once a second until ctx is done
func (re *RecentEntries) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			re.Tick()
		}
	}
}

// Snapshot returns copies of the entries, newest first
func (re *RecentEntries) Snapshot() []RecentEntry {
	re.mu.RLock()
	defer re.mu.RUnlock()
	out := make([]RecentEntry, len(re.entries))
	for i, e := range re.entries {
		out[i] = *e
	}
	return out
}

// Len returns the number of entries
func (re *RecentEntries) Len() int {
	re.mu.RLock()
	defer re.mu.RUnlock()
	return len(re.entries)
}
