// Package identity tracks where every relayed message ended up: for each
// origin message, the id of its copy on each target endpoint. Edits and
// deletes consult this map to find what to update. State is sharded by
// origin key so unrelated messages never contend on a lock.
package identity

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"bridgex/internal/domain"
)

const shardCount = 32

// Target is one recorded copy of an origin message.
type Target struct {
	Endpoint  domain.Endpoint
	MessageID string
}

type entry struct {
	targets     []Target
	overflowRef string
	createdAt   time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[domain.OriginKey]*entry
}

// Map is the cross-platform identity store. All methods are safe for
// concurrent use; operations on different origin keys never block each
// other beyond shard granularity.
type Map struct {
	shards     [shardCount]shard
	ttl        time.Duration
	sweepEvery time.Duration
	maxEntries int
	journal    *Journal // optional, best-effort
	logger     *slog.Logger
}

// Options configures a Map.
type Options struct {
	TTL        time.Duration
	SweepEvery time.Duration
	MaxEntries int
	Journal    *Journal
	Logger     *slog.Logger
}

// NewMap creates an identity map. If a journal is given, surviving entries
// are restored from it before the map is returned.
func NewMap(opts Options) *Map {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = 10 * time.Minute
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 65536
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Map{
		ttl:        opts.TTL,
		sweepEvery: opts.SweepEvery,
		maxEntries: opts.MaxEntries,
		journal:    opts.Journal,
		logger:     opts.Logger,
	}
	for i := range m.shards {
		m.shards[i].entries = make(map[domain.OriginKey]*entry)
	}
	if m.journal != nil {
		m.restore()
	}
	return m
}

func (m *Map) shardFor(key domain.OriginKey) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return &m.shards[h.Sum32()%shardCount]
}

// RecordSend records that the origin message has a copy on target with the
// given id. Idempotent: re-recording the same target overwrites (last write
// wins), which makes duplicate retries harmless. The entry is created on
// first success, so a fully filtered event never appears in the map.
func (m *Map) RecordSend(origin domain.OriginKey, target domain.Endpoint, messageID string) {
	s := m.shardFor(origin)
	s.mu.Lock()
	e, ok := s.entries[origin]
	if !ok {
		e = &entry{createdAt: time.Now()}
		s.entries[origin] = e
	}
	replaced := false
	for i := range e.targets {
		if e.targets[i].Endpoint == target {
			e.targets[i].MessageID = messageID
			replaced = true
			break
		}
	}
	if !replaced {
		e.targets = append(e.targets, Target{Endpoint: target, MessageID: messageID})
	}
	created := e.createdAt
	s.mu.Unlock()

	if m.journal != nil {
		if err := m.journal.recordSend(origin, target, messageID, created); err != nil {
			m.logger.Warn("identity journal write failed", "origin", origin, "err", err)
		}
	}
}

// LookupTargets returns the recorded copies of an origin message in record
// order. Unknown or expired keys return an empty slice, never an error:
// stale edits and deletes are expected and dropped by the caller.
func (m *Map) LookupTargets(origin domain.OriginKey) []Target {
	s := m.shardFor(origin)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[origin]
	if !ok {
		return nil
	}
	out := make([]Target, len(e.targets))
	copy(out, e.targets)
	return out
}

// RemoveTarget drops a single stale target mapping, e.g. after a not-found
// response from an adapter.
func (m *Map) RemoveTarget(origin domain.OriginKey, target domain.Endpoint) {
	s := m.shardFor(origin)
	s.mu.Lock()
	if e, ok := s.entries[origin]; ok {
		for i := range e.targets {
			if e.targets[i].Endpoint == target {
				e.targets = append(e.targets[:i], e.targets[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if m.journal != nil {
		if err := m.journal.removeTarget(origin, target); err != nil {
			m.logger.Warn("identity journal remove failed", "origin", origin, "err", err)
		}
	}
}

// Forget removes the whole entry, after a delete has been propagated or by
// the eviction sweep.
func (m *Map) Forget(origin domain.OriginKey) {
	s := m.shardFor(origin)
	s.mu.Lock()
	delete(s.entries, origin)
	s.mu.Unlock()

	if m.journal != nil {
		if err := m.journal.forget(origin); err != nil {
			m.logger.Warn("identity journal forget failed", "origin", origin, "err", err)
		}
	}
}

// SetOverflow attaches the pastebin reference of an externalized text.
func (m *Map) SetOverflow(origin domain.OriginKey, ref string) {
	s := m.shardFor(origin)
	s.mu.Lock()
	if e, ok := s.entries[origin]; ok {
		e.overflowRef = ref
	}
	s.mu.Unlock()

	if m.journal != nil {
		if err := m.journal.setOverflow(origin, ref); err != nil {
			m.logger.Warn("identity journal overflow failed", "origin", origin, "err", err)
		}
	}
}

// Overflow returns the pastebin reference recorded for the key, if any.
func (m *Map) Overflow(origin domain.OriginKey) string {
	s := m.shardFor(origin)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[origin]; ok {
		return e.overflowRef
	}
	return ""
}

// Len returns the number of tracked origin messages.
func (m *Map) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Run performs periodic eviction sweeps until ctx is done.
func (m *Map) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(time.Now())
		}
	}
}

// Sweep evicts entries older than the TTL and, if the map is still over its
// size bound, the oldest entries beyond it. Eviction takes the same shard
// locks as mutation, so it never races an in-flight dispatch.
func (m *Map) Sweep(now time.Time) int {
	cutoff := now.Add(-m.ttl)
	evicted := 0
	perShardMax := m.maxEntries / shardCount

	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for key, e := range s.entries {
			if e.createdAt.Before(cutoff) {
				delete(s.entries, key)
				evicted++
			}
		}
		// Size bound: evict oldest first until the shard fits.
		for len(s.entries) > perShardMax {
			var oldestKey domain.OriginKey
			var oldest time.Time
			first := true
			for key, e := range s.entries {
				if first || e.createdAt.Before(oldest) {
					oldestKey, oldest = key, e.createdAt
					first = false
				}
			}
			delete(s.entries, oldestKey)
			evicted++
		}
		s.mu.Unlock()
	}

	if evicted > 0 {
		m.logger.Debug("identity sweep", "evicted", evicted, "remaining", m.Len())
	}
	if m.journal != nil {
		if err := m.journal.purgeBefore(cutoff); err != nil {
			m.logger.Warn("identity journal purge failed", "err", err)
		}
	}
	return evicted
}

// restore loads surviving entries from the journal at startup. The TTL is
// applied on load so a long-stopped bridge comes back empty-handed rather
// than with ancient mappings.
func (m *Map) restore() {
	records, err := m.journal.loadAll(time.Now().Add(-m.ttl))
	if err != nil {
		m.logger.Warn("identity journal restore failed", "err", err)
		return
	}
	for _, rec := range records {
		s := m.shardFor(rec.origin)
		s.mu.Lock()
		e, ok := s.entries[rec.origin]
		if rec.overflowRef != "" {
			// Overflow refs only attach to keys that still have targets.
			if ok {
				e.overflowRef = rec.overflowRef
			}
			s.mu.Unlock()
			continue
		}
		if !ok {
			e = &entry{createdAt: rec.createdAt}
			s.entries[rec.origin] = e
		}
		e.targets = append(e.targets, Target{Endpoint: rec.target, MessageID: rec.messageID})
		s.mu.Unlock()
	}
	if len(records) > 0 {
		m.logger.Info("identity map restored", "entries", m.Len())
	}
}
