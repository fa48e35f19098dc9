package bus

import (
	"log/slog"
	"sync"
	"time"

	"bridgex/internal/domain"
)

// OutcomeHandler is a callback for dispatch outcomes.
type OutcomeHandler func(domain.Outcome)

// Notifier fans dispatch outcomes out to in-process observers (metrics,
// web console feed). It keeps a bounded history so a console connecting
// late can backfill.
type Notifier struct {
	handlers   []OutcomeHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []domain.Outcome
	maxHistory int
}

// NewNotifier creates a Notifier with a bounded replay buffer.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		logger:     logger,
		maxHistory: 500,
	}
}

// OnOutcome registers a handler. Handlers run synchronously on the
// dispatching goroutine and must not block.
func (n *Notifier) OnOutcome(h OutcomeHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, h)
}

// Emit publishes an outcome to all registered handlers.
func (n *Notifier) Emit(o domain.Outcome) {
	if o.At.IsZero() {
		o.At = time.Now()
	}

	n.mu.Lock()
	if len(n.history) >= n.maxHistory {
		n.history = n.history[1:]
	}
	n.history = append(n.history, o)
	handlers := make([]OutcomeHandler, len(n.handlers))
	copy(handlers, n.handlers)
	n.mu.Unlock()

	for _, h := range handlers {
		func(h OutcomeHandler) {
			defer func() {
				if r := recover(); r != nil {
					n.logger.Error("outcome handler panic", "panic", r)
				}
			}()
			h(o)
		}(h)
	}
}

// Replay returns historical outcomes recorded since the given time.
func (n *Notifier) Replay(since time.Time) []domain.Outcome {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var result []domain.Outcome
	for _, o := range n.history {
		if o.At.Before(since) {
			continue
		}
		result = append(result, o)
	}
	return result
}

// HistoryLen returns the current number of outcomes in the history buffer.
func (n *Notifier) HistoryLen() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.history)
}
