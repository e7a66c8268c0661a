package tracker

import (
	"fmt"
	"time"

	"github.com/nftwatch/nftwatch/internal/events"
)

// AgeFilter suppresses events older than MaxAge unless backfill is allowed.
type AgeFilter struct {
	MaxAge        time.Duration
	AllowBackfill bool
}

type Decision struct {
	Emit   bool
	Reason string
}

func (f AgeFilter) Decide(ev events.Event, now time.Time) Decision {
	if f.AllowBackfill {
		return Decision{Emit: true, Reason: "backfill allowed"}
	}
	if f.MaxAge <= 0 {
		return Decision{Emit: true, Reason: "age filter disabled"}
	}
	if ev.OccurredAt.IsZero() {
		return Decision{Emit: true, Reason: "time unknown"}
	}
	age := now.Sub(ev.OccurredAt)
	if age > f.MaxAge {
		return Decision{Reason: fmt.Sprintf("too old: %s > %s", age.Truncate(time.Second), f.MaxAge)}
	}
	return Decision{Emit: true, Reason: "fresh"}
}
