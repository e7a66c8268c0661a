package watcher

import (
	"sort"
	"time"

	"github.com/nftwatch/nftwatch/internal/events"
)

type StreamStatus struct {
	Stream            string     `json:"stream"`
	Status            string     `json:"status"`
	Anchor            string     `json:"anchor"`
	SeenCount         int        `json:"seen_count"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastPoll          *time.Time `json:"last_poll,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	NextDelaySeconds  float64    `json:"next_delay_seconds"`
}

func (w *Watcher) publish(r *runner) {
	s := StreamStatus{
		Stream:            string(r.source.Kind()),
		Status:            string(r.stream.Status()),
		Anchor:            r.stream.Anchor(),
		SeenCount:         r.stream.SeenCount(),
		ConsecutiveErrors: r.errors,
		NextDelaySeconds:  r.pending.Seconds(),
	}
	if !r.lastPoll.IsZero() {
		t := r.lastPoll.UTC()
		s.LastPoll = &t
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.status[r.source.Kind()] = s
}

// Status returns the latest status of every stream, ordered by name.
func (w *Watcher) Status() []StreamStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]StreamStatus, 0, len(w.status))
	for _, s := range w.status {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

func (w *Watcher) StreamStatus(kind events.Kind) (StreamStatus, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.status[kind]
	return s, ok
}
