package domain

import "time"

// Outcome statuses.
const (
	OutcomeOK      = "ok"
	OutcomeDropped = "dropped"
	OutcomeFailed  = "failed"
	OutcomeStale   = "stale"
)

// Outcome records the result of one per-target dispatch. The router emits
// one per target attempt; the web console feed and the metrics collector
// consume them.
type Outcome struct {
	Kind            EventKind     `json:"kind"`
	Origin          OriginKey     `json:"origin"`
	Target          Endpoint      `json:"target"`
	TargetMessageID string        `json:"target_message_id,omitempty"`
	Status          string        `json:"status"`
	Error           string        `json:"error,omitempty"`
	Attempts        int           `json:"attempts,omitempty"`
	Elapsed         time.Duration `json:"elapsed,omitempty"`
	At              time.Time     `json:"at"`
}
