package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"bridgex/internal/domain"
)

func testBusLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(4, testBusLogger())
	defer b.Close()

	ev := domain.Event{
		Kind:   domain.KindSend,
		Origin: domain.Endpoint{Platform: domain.PlatformIRC, GroupID: "#test"},
		Text:   "hello",
	}
	b.Publish(ev)

	select {
	case got := <-b.Subscribe():
		if got.Text != "hello" || got.Origin.GroupID != "#test" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestInMemoryBus_PublishAfterClose(t *testing.T) {
	b := New(1, testBusLogger())
	b.Close()
	// Must not panic.
	b.Publish(domain.Event{Kind: domain.KindSend})
}

func TestInMemoryBus_CloseDrains(t *testing.T) {
	b := New(4, testBusLogger())
	b.Publish(domain.Event{Kind: domain.KindSend, Text: "a"})
	b.Publish(domain.Event{Kind: domain.KindSend, Text: "b"})
	b.Close()

	var texts []string
	for ev := range b.Subscribe() {
		texts = append(texts, ev.Text)
	}
	if len(texts) != 2 {
		t.Fatalf("expected 2 drained events, got %d", len(texts))
	}
}

func TestNotifier_EmitAndReceive(t *testing.T) {
	n := NewNotifier(testBusLogger())

	var received int32
	n.OnOutcome(func(o domain.Outcome) {
		atomic.AddInt32(&received, 1)
	})

	n.Emit(domain.Outcome{Status: domain.OutcomeOK})
	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 outcome received, got %d", received)
	}
}

func TestNotifier_HandlerPanicIsContained(t *testing.T) {
	n := NewNotifier(testBusLogger())

	n.OnOutcome(func(o domain.Outcome) { panic("boom") })
	var after int32
	n.OnOutcome(func(o domain.Outcome) { atomic.AddInt32(&after, 1) })

	n.Emit(domain.Outcome{Status: domain.OutcomeFailed})
	if atomic.LoadInt32(&after) != 1 {
		t.Errorf("handler after panicking one not called")
	}
}

func TestNotifier_ReplaySince(t *testing.T) {
	n := NewNotifier(testBusLogger())

	n.Emit(domain.Outcome{Status: domain.OutcomeOK, At: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	n.Emit(domain.Outcome{Status: domain.OutcomeOK})

	if got := len(n.Replay(threshold)); got != 1 {
		t.Errorf("expected 1 outcome since threshold, got %d", got)
	}
	if n.HistoryLen() != 2 {
		t.Errorf("expected 2 in history, got %d", n.HistoryLen())
	}
}

func TestNotifier_HistoryLimit(t *testing.T) {
	n := NewNotifier(testBusLogger())
	n.maxHistory = 5

	for i := 0; i < 10; i++ {
		n.Emit(domain.Outcome{Status: domain.OutcomeOK})
	}
	if n.HistoryLen() != 5 {
		t.Errorf("expected history capped at 5, got %d", n.HistoryLen())
	}
}
