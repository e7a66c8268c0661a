package tracker

import (
	"github.com/nftwatch/nftwatch/internal/dedup"
	"github.com/nftwatch/nftwatch/internal/events"
	"github.com/nftwatch/nftwatch/internal/state"
)

type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusSeeded        Status = "seeded"
	StatusSteady        Status = "steady"
)

type Action int

const (
	ActionIdle Action = iota
	ActionSeed
	ActionProcess
	ActionAnchorMissing
)

func (a Action) String() string {
	switch a {
	case ActionSeed:
		return "seed"
	case ActionProcess:
		return "process"
	case ActionAnchorMissing:
		return "anchor_missing"
	}
	return "idle"
}

// Plan is what a stream intends to do with one fetched batch.
type Plan struct {
	Action Action
	// Sorted is the whole batch, oldest first.
	Sorted []events.Event
	// Candidates are the events to hand to the age filter, oldest first.
	Candidates []events.Event
	Duplicates int
}

// Stream tracks the anchor and the recently seen hashes of one event kind.
// It is not safe for concurrent use; the watcher owns it.
type Stream struct {
	kind            events.Kind
	anchor          string
	seeded          bool
	steady          bool
	misses          int
	anchorMissLimit int
	seen            *dedup.Store
}

func NewStream(kind events.Kind, capacity, anchorMissLimit int) *Stream {
	if anchorMissLimit <= 0 {
		anchorMissLimit = 1
	}
	return &Stream{
		kind:            kind,
		anchorMissLimit: anchorMissLimit,
		seen:            dedup.New(capacity),
	}
}

func (s *Stream) Kind() events.Kind {
	return s.kind
}

func (s *Stream) Anchor() string {
	return s.anchor
}

func (s *Stream) SeenCount() int {
	return s.seen.Len()
}

func (s *Stream) Status() Status {
	switch {
	case !s.seeded:
		return StatusUninitialized
	case s.steady:
		return StatusSteady
	}
	return StatusSeeded
}

// Restore loads persisted state. A restored stream that was seeded counts as
// seeded again; it becomes steady after its next successful poll.
func (s *Stream) Restore(snap state.StreamSnapshot) {
	s.anchor = snap.Anchor
	s.seeded = snap.Seeded || snap.Anchor != ""
	s.steady = false
	s.misses = 0
	s.seen.Restore(snap.Seen)
}

func (s *Stream) Snapshot() state.StreamSnapshot {
	return state.StreamSnapshot{
		Anchor: s.anchor,
		Seeded: s.seeded,
		Seen:   s.seen.Snapshot(),
	}
}

// Plan decides what to do with batch without changing the stream.
func (s *Stream) Plan(batch []events.Event) Plan {
	sorted := events.SortAscending(batch)
	p := Plan{Sorted: sorted}
	if !s.seeded {
		p.Action = ActionSeed
		return p
	}
	if len(sorted) == 0 {
		p.Action = ActionIdle
		return p
	}

	start := 0
	if s.anchor != "" {
		idx := -1
		for i, ev := range sorted {
			if ev.Hash == s.anchor {
				idx = i
			}
		}
		if idx < 0 {
			p.Action = ActionAnchorMissing
			return p
		}
		start = idx + 1
	}

	p.Action = ActionProcess
	for _, ev := range sorted[start:] {
		if s.seen.Seen(ev.Hash) {
			p.Duplicates++
			continue
		}
		p.Candidates = append(p.Candidates, ev)
	}
	return p
}

// Seed marks the stream as observed. Every hash in sorted is remembered and
// the newest becomes the anchor, so none of them is ever emitted.
func (s *Stream) Seed(sorted []events.Event) {
	for _, ev := range sorted {
		s.seen.Remember(ev.Hash)
	}
	if len(sorted) > 0 {
		s.anchor = sorted[len(sorted)-1].Hash
	}
	s.seeded = true
	s.misses = 0
}

func (s *Stream) Commit(hash string) {
	s.seen.Remember(hash)
	s.anchor = hash
	s.misses = 0
}

// AnchorMissing records a batch that did not contain the anchor. Once the
// limit of consecutive misses is reached the stream re-seeds from sorted and
// reports true.
func (s *Stream) AnchorMissing(sorted []events.Event) bool {
	s.misses++
	if s.misses < s.anchorMissLimit {
		return false
	}
	s.Seed(sorted)
	return true
}

func (s *Stream) Misses() int {
	return s.misses
}

func (s *Stream) MarkSteady() {
	if s.seeded {
		s.steady = true
	}
}
