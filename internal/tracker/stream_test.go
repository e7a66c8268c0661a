package tracker

import (
	"fmt"
	"testing"
	"time"

	"github.com/nftwatch/nftwatch/internal/events"
	"github.com/nftwatch/nftwatch/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// batch builds n sale events h0..h(n-1), one minute apart, newest first as
// the APIs return them.
func batch(n int) []events.Event {
	out := make([]events.Event, n)
	for i := 0; i < n; i++ {
		out[n-1-i] = events.Event{
			Hash:       fmt.Sprintf("h%d", i),
			Kind:       events.KindSale,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
			Sale:       &events.SalePayload{NFTokenID: fmt.Sprintf("t%d", i)},
		}
	}
	return out
}

func hashes(evs []events.Event) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Hash)
	}
	return out
}

func TestStream_SeedEmitsNothing(t *testing.T) {
	s := NewStream(events.KindSale, 100, 3)
	assert.Equal(t, StatusUninitialized, s.Status())

	p := s.Plan(batch(5))
	require.Equal(t, ActionSeed, p.Action)
	assert.Empty(t, p.Candidates)
	assert.Equal(t, []string{"h0", "h1", "h2", "h3", "h4"}, hashes(p.Sorted))

	s.Seed(p.Sorted)
	assert.Equal(t, "h4", s.Anchor())
	assert.Equal(t, StatusSeeded, s.Status())
	assert.Equal(t, 5, s.SeenCount())

	// same batch again yields nothing new
	p = s.Plan(batch(5))
	assert.Equal(t, ActionProcess, p.Action)
	assert.Empty(t, p.Candidates)
}

func TestStream_EmptySeed(t *testing.T) {
	s := NewStream(events.KindMint, 100, 3)
	p := s.Plan(nil)
	require.Equal(t, ActionSeed, p.Action)
	s.Seed(p.Sorted)
	assert.Equal(t, StatusSeeded, s.Status())
	assert.Equal(t, "", s.Anchor())

	assert.Equal(t, ActionIdle, s.Plan(nil).Action)

	// seeded without anchor: everything is new
	p = s.Plan(batch(3))
	require.Equal(t, ActionProcess, p.Action)
	assert.Equal(t, []string{"h0", "h1", "h2"}, hashes(p.Candidates))
}

func TestStream_CandidatesAfterAnchor(t *testing.T) {
	s := NewStream(events.KindSale, 100, 3)
	s.Seed(events.SortAscending(batch(3)))
	require.Equal(t, "h2", s.Anchor())

	p := s.Plan(batch(6))
	require.Equal(t, ActionProcess, p.Action)
	assert.Equal(t, []string{"h3", "h4", "h5"}, hashes(p.Candidates))
	assert.Zero(t, p.Duplicates)

	for _, ev := range p.Candidates {
		s.Commit(ev.Hash)
	}
	assert.Equal(t, "h5", s.Anchor())
	assert.Empty(t, s.Plan(batch(6)).Candidates)
}

func TestStream_LastAnchorOccurrenceWins(t *testing.T) {
	s := NewStream(events.KindSale, 100, 3)
	s.Restore(state.StreamSnapshot{Anchor: "a", Seeded: true})

	in := []events.Event{
		{Hash: "a", OccurredAt: base},
		{Hash: "b", OccurredAt: base.Add(time.Minute)},
		{Hash: "a", OccurredAt: base.Add(2 * time.Minute)},
		{Hash: "c", OccurredAt: base.Add(3 * time.Minute)},
	}
	p := s.Plan(in)
	assert.Equal(t, []string{"c"}, hashes(p.Candidates))
}

func TestStream_DuplicatesDropped(t *testing.T) {
	s := NewStream(events.KindSale, 100, 3)
	s.Restore(state.StreamSnapshot{Anchor: "h1", Seeded: true, Seen: []string{"h0", "h1", "h3"}})

	p := s.Plan(batch(5))
	assert.Equal(t, []string{"h2", "h4"}, hashes(p.Candidates))
	assert.Equal(t, 1, p.Duplicates)
}

func TestStream_AnchorMissing(t *testing.T) {
	s := NewStream(events.KindSale, 100, 3)
	s.Restore(state.StreamSnapshot{Anchor: "gone", Seeded: true})

	b := events.SortAscending(batch(4))
	p := s.Plan(b)
	require.Equal(t, ActionAnchorMissing, p.Action)
	assert.Empty(t, p.Candidates)

	assert.False(t, s.AnchorMissing(p.Sorted))
	assert.False(t, s.AnchorMissing(p.Sorted))
	assert.Equal(t, 2, s.Misses())
	assert.True(t, s.AnchorMissing(p.Sorted))
	assert.Equal(t, "h3", s.Anchor())
	assert.Zero(t, s.Misses())

	assert.Empty(t, s.Plan(b).Candidates)
}

func TestStream_CommitResetsMisses(t *testing.T) {
	s := NewStream(events.KindSale, 100, 2)
	s.Restore(state.StreamSnapshot{Anchor: "gone", Seeded: true})
	assert.False(t, s.AnchorMissing(nil))
	s.Commit("x")
	assert.Zero(t, s.Misses())
	assert.False(t, s.AnchorMissing(nil))
}

func TestStream_SnapshotRestore(t *testing.T) {
	s := NewStream(events.KindSale, 3, 3)
	s.Seed(events.SortAscending(batch(5)))
	s.MarkSteady()
	assert.Equal(t, StatusSteady, s.Status())

	snap := s.Snapshot()
	assert.Equal(t, state.StreamSnapshot{Anchor: "h4", Seeded: true, Seen: []string{"h2", "h3", "h4"}}, snap)

	r := NewStream(events.KindSale, 3, 3)
	r.Restore(snap)
	assert.Equal(t, StatusSeeded, r.Status())
	assert.Equal(t, snap, r.Snapshot())
}

func TestStream_MarkSteadyNeedsSeed(t *testing.T) {
	s := NewStream(events.KindSale, 3, 3)
	s.MarkSteady()
	assert.Equal(t, StatusUninitialized, s.Status())
}

func TestStream_PlanIsPure(t *testing.T) {
	s := NewStream(events.KindSale, 100, 3)
	s.Seed(events.SortAscending(batch(2)))
	before := s.Snapshot()
	s.Plan(batch(4))
	s.Plan([]events.Event{{Hash: "other"}})
	assert.Equal(t, before, s.Snapshot())
	assert.Zero(t, s.Misses())
}
