package identity

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bridgex/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func originKey(id string) domain.OriginKey {
	return domain.OriginKey{Platform: domain.PlatformTelegram, GroupID: "-100111", MessageID: id}
}

var (
	ircTarget = domain.Endpoint{Platform: domain.PlatformIRC, GroupID: "#test"}
	dcTarget  = domain.Endpoint{Platform: domain.PlatformDiscord, GroupID: "4242"}
)

func TestMap_RecordAndLookup(t *testing.T) {
	m := NewMap(Options{Logger: testLogger()})
	key := originKey("55")

	m.RecordSend(key, ircTarget, "irc-1")
	m.RecordSend(key, dcTarget, "900")

	targets := m.LookupTargets(key)
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
	if targets[0].Endpoint != ircTarget || targets[0].MessageID != "irc-1" {
		t.Errorf("unexpected first target: %+v", targets[0])
	}
	if targets[1].Endpoint != dcTarget || targets[1].MessageID != "900" {
		t.Errorf("unexpected second target: %+v", targets[1])
	}
}

func TestMap_LookupUnknownIsEmpty(t *testing.T) {
	m := NewMap(Options{Logger: testLogger()})
	if got := m.LookupTargets(originKey("nope")); len(got) != 0 {
		t.Fatalf("expected empty lookup, got %v", got)
	}
}

func TestMap_RecordSendLastWriteWins(t *testing.T) {
	m := NewMap(Options{Logger: testLogger()})
	key := originKey("55")

	m.RecordSend(key, ircTarget, "first")
	m.RecordSend(key, ircTarget, "second")

	targets := m.LookupTargets(key)
	if len(targets) != 1 {
		t.Fatalf("duplicate target recorded: %v", targets)
	}
	if targets[0].MessageID != "second" {
		t.Errorf("expected last write to win, got %q", targets[0].MessageID)
	}
}

func TestMap_RemoveTargetAndForget(t *testing.T) {
	m := NewMap(Options{Logger: testLogger()})
	key := originKey("55")
	m.RecordSend(key, ircTarget, "irc-1")
	m.RecordSend(key, dcTarget, "900")

	m.RemoveTarget(key, ircTarget)
	targets := m.LookupTargets(key)
	if len(targets) != 1 || targets[0].Endpoint != dcTarget {
		t.Fatalf("expected only discord target left, got %v", targets)
	}

	m.Forget(key)
	if got := m.LookupTargets(key); len(got) != 0 {
		t.Fatalf("expected key forgotten, got %v", got)
	}
}

func TestMap_OverflowRef(t *testing.T) {
	m := NewMap(Options{Logger: testLogger()})
	key := originKey("55")
	m.RecordSend(key, ircTarget, "irc-1")

	m.SetOverflow(key, "https://paste.example/abc")
	if got := m.Overflow(key); got != "https://paste.example/abc" {
		t.Errorf("overflow ref not stored: %q", got)
	}
	if got := m.Overflow(originKey("other")); got != "" {
		t.Errorf("unknown key must have no overflow ref, got %q", got)
	}
}

func TestMap_KeyIsolationUnderConcurrency(t *testing.T) {
	m := NewMap(Options{Logger: testLogger()})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := originKey(fmt.Sprintf("%d", i))
			m.RecordSend(key, ircTarget, fmt.Sprintf("irc-%d", i))
			m.RecordSend(key, dcTarget, fmt.Sprintf("dc-%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		key := originKey(fmt.Sprintf("%d", i))
		targets := m.LookupTargets(key)
		if len(targets) != 2 {
			t.Fatalf("key %v: expected 2 targets, got %v", key, targets)
		}
		if targets[0].MessageID != fmt.Sprintf("irc-%d", i) {
			t.Fatalf("key %v: crosstalk between keys: %v", key, targets)
		}
	}
}

func TestMap_SweepEvictsExpired(t *testing.T) {
	m := NewMap(Options{TTL: time.Hour, Logger: testLogger()})
	old := originKey("old")
	fresh := originKey("fresh")
	m.RecordSend(old, ircTarget, "a")
	m.RecordSend(fresh, ircTarget, "b")

	// Age the first entry past the TTL.
	s := m.shardFor(old)
	s.mu.Lock()
	s.entries[old].createdAt = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	if evicted := m.Sweep(time.Now()); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if len(m.LookupTargets(old)) != 0 {
		t.Error("expired entry survived sweep")
	}
	if len(m.LookupTargets(fresh)) != 1 {
		t.Error("fresh entry evicted")
	}
}

func TestJournal_RoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "identity.db")
	j, err := OpenJournal(dbPath, testLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	m := NewMap(Options{Journal: j, Logger: testLogger()})
	key := originKey("55")
	m.RecordSend(key, ircTarget, "irc-1")
	m.RecordSend(key, dcTarget, "900")
	m.SetOverflow(key, "https://paste.example/abc")

	gone := originKey("56")
	m.RecordSend(gone, ircTarget, "irc-2")
	m.Forget(gone)
	j.Close()

	// Reopen: the map restores from the journal.
	j2, err := OpenJournal(dbPath, testLogger())
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer j2.Close()

	m2 := NewMap(Options{Journal: j2, Logger: testLogger()})
	targets := m2.LookupTargets(key)
	if len(targets) != 2 {
		t.Fatalf("expected 2 restored targets, got %v", targets)
	}
	if got := m2.Overflow(key); got != "https://paste.example/abc" {
		t.Errorf("overflow ref not restored: %q", got)
	}
	if got := m2.LookupTargets(gone); len(got) != 0 {
		t.Errorf("forgotten key restored: %v", got)
	}
}
