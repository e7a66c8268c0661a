package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nftwatch/nftwatch/internal/events"
	"github.com/nftwatch/nftwatch/internal/metadata"
	"github.com/nftwatch/nftwatch/internal/metrics"
	"github.com/nftwatch/nftwatch/internal/notify"
	"github.com/nftwatch/nftwatch/internal/state"
	"github.com/nftwatch/nftwatch/internal/tracker"
	"go.uber.org/zap"
)

type Resolver interface {
	Resolve(ctx context.Context, hexURI string) metadata.Metadata
}

type Renderer interface {
	Render(ev events.Event, md metadata.Metadata) (string, error)
}

type Options struct {
	Interval        time.Duration
	BackoffMax      time.Duration
	ErrorThreshold  int
	Capacity        int
	AnchorMissLimit int
	Filter          tracker.AgeFilter
	Now             func() time.Time
}

type Deps struct {
	Resolver Resolver
	Renderer Renderer
	Notifier notify.Notifier
	Store    state.Store
	Metrics  *metrics.Metrics
}

// CycleResult summarizes one poll of one stream.
type CycleResult struct {
	Stream     events.Kind
	Action     tracker.Action
	Fetched    int
	Emitted    int
	Suppressed int
	Duplicates int
	Reanchored bool
	Err        error
}

type runner struct {
	source  Source
	stream  *tracker.Stream
	backoff *backoff.ExponentialBackOff

	errors   int
	pending  time.Duration
	lastPoll time.Time
	lastErr  error
}

// Watcher polls every source in turn and turns new events into
// notifications. All stream state is owned by the goroutine calling RunOnce
// or Run; Status may be called from anywhere.
type Watcher struct {
	opts    Options
	deps    Deps
	runners []*runner

	mu     sync.RWMutex
	status map[events.Kind]StreamStatus
}

func New(ctx context.Context, opts Options, deps Deps, sources ...Source) *Watcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.BackoffMax < opts.Interval {
		opts.BackoffMax = opts.Interval
	}
	if opts.ErrorThreshold <= 0 {
		opts.ErrorThreshold = 1
	}

	w := &Watcher{opts: opts, deps: deps, status: map[events.Kind]StreamStatus{}}
	for _, src := range sources {
		r := &runner{
			source:  src,
			stream:  tracker.NewStream(src.Kind(), opts.Capacity, opts.AnchorMissLimit),
			backoff: w.newBackOff(),
		}
		w.restore(ctx, r)
		w.runners = append(w.runners, r)
		w.publish(r)
	}
	return w
}

func (w *Watcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.opts.Interval
	b.MaxInterval = w.opts.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (w *Watcher) restore(ctx context.Context, r *runner) {
	if w.deps.Store == nil {
		return
	}
	name := string(r.source.Kind())
	snap, found, err := w.deps.Store.Load(ctx, name)
	if err != nil {
		zap.L().Error("Failed to load stream state, starting fresh", zap.String("stream", name), zap.Error(err))
		return
	}
	if !found {
		zap.L().Info("No saved state, stream will be seeded", zap.String("stream", name))
		return
	}
	r.stream.Restore(snap)
	zap.L().Info("Restored stream state",
		zap.String("stream", name),
		zap.String("anchor", snap.Anchor),
		zap.Int("seen", r.stream.SeenCount()),
	)
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	zap.L().Info("Starting watcher",
		zap.Int("streams", len(w.runners)),
		zap.Duration("interval", w.opts.Interval),
	)
	for {
		w.RunOnce(ctx)
		if sleepInterrupted(ctx, w.NextDelay()) {
			zap.L().Info("Watcher stopped")
			return nil
		}
	}
}

// NextDelay is the poll interval, stretched by the longest pending backoff.
func (w *Watcher) NextDelay() time.Duration {
	d := w.opts.Interval
	for _, r := range w.runners {
		if r.pending > d {
			d = r.pending
		}
	}
	return d
}

// RunOnce polls every stream once, sequentially.
func (w *Watcher) RunOnce(ctx context.Context) []CycleResult {
	results := make([]CycleResult, 0, len(w.runners))
	for _, r := range w.runners {
		if ctx.Err() != nil {
			break
		}
		res := w.poll(ctx, r)
		w.publish(r)
		results = append(results, res)
	}
	return results
}

func (w *Watcher) poll(ctx context.Context, r *runner) CycleResult {
	kind := r.source.Kind()
	name := string(kind)
	res := CycleResult{Stream: kind}

	start := w.opts.Now()
	batch, err := r.source.Fetch(ctx)
	r.lastPoll = w.opts.Now()
	elapsed := r.lastPoll.Sub(start).Seconds()
	if err != nil {
		w.pollFailed(ctx, r, err)
		w.deps.Metrics.RecordPoll(name, "error", elapsed)
		res.Err = err
		return res
	}
	w.deps.Metrics.RecordPoll(name, "ok", elapsed)
	r.errors = 0
	r.pending = 0
	r.lastErr = nil
	r.backoff.Reset()
	w.deps.Metrics.SetConsecutiveErrors(name, 0)

	res.Fetched = len(batch)
	plan := r.stream.Plan(batch)
	res.Action = plan.Action
	res.Duplicates = plan.Duplicates
	w.deps.Metrics.RecordEvents(name, "duplicate", plan.Duplicates)

	switch plan.Action {
	case tracker.ActionSeed:
		r.stream.Seed(plan.Sorted)
		w.persist(ctx, r)
		w.deps.Metrics.RecordEvents(name, "seeded", len(plan.Sorted))
		zap.L().Info("Stream seeded, existing backlog will not be announced",
			zap.String("stream", name),
			zap.Int("backlog", len(plan.Sorted)),
			zap.String("anchor", r.stream.Anchor()),
		)
		return res

	case tracker.ActionIdle:
		zap.L().Debug("Empty batch", zap.String("stream", name))

	case tracker.ActionAnchorMissing:
		w.deps.Metrics.RecordAnchorMiss(name)
		res.Reanchored = r.stream.AnchorMissing(plan.Sorted)
		if res.Reanchored {
			w.persist(ctx, r)
			zap.L().Warn("Anchor missing too many times, stream re-anchored without announcing",
				zap.String("stream", name),
				zap.String("anchor", r.stream.Anchor()),
			)
		} else {
			zap.L().Warn("Anchor not in batch, nothing announced",
				zap.String("stream", name),
				zap.String("anchor", r.stream.Anchor()),
				zap.Int("misses", r.stream.Misses()),
			)
		}

	case tracker.ActionProcess:
		for _, ev := range plan.Candidates {
			if ctx.Err() != nil {
				break
			}
			emitted, ok := w.handle(ctx, r, ev)
			if !ok {
				break
			}
			if emitted {
				res.Emitted++
			} else {
				res.Suppressed++
			}
		}
		w.deps.Metrics.RecordEvents(name, "emitted", res.Emitted)
		w.deps.Metrics.RecordEvents(name, "suppressed", res.Suppressed)
		if res.Emitted+res.Suppressed > 0 {
			zap.L().Info("Processed new events",
				zap.String("stream", name),
				zap.Int("emitted", res.Emitted),
				zap.Int("suppressed", res.Suppressed),
				zap.Int("duplicates", res.Duplicates),
			)
		}
	}

	r.stream.MarkSteady()
	return res
}

func (w *Watcher) pollFailed(ctx context.Context, r *runner, err error) {
	name := string(r.source.Kind())
	r.errors++
	r.lastErr = err
	// jitter can push NextBackOff past MaxInterval
	r.pending = min(r.backoff.NextBackOff(), w.opts.BackoffMax)
	w.deps.Metrics.SetConsecutiveErrors(name, r.errors)

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	fields := []zap.Field{
		zap.String("stream", name),
		zap.Int("consecutive_errors", r.errors),
		zap.Duration("next_delay", r.pending),
		zap.Error(err),
	}
	if r.errors >= w.opts.ErrorThreshold {
		zap.L().Error("Stream keeps failing", fields...)
		return
	}
	zap.L().Warn("Poll failed", fields...)
}

// handle takes one candidate through filter, enrichment and delivery, then
// commits it. ok is false when ctx ended before the event was delivered; the
// event is left uncommitted so it is picked up again after a restart.
func (w *Watcher) handle(ctx context.Context, r *runner, ev events.Event) (emitted, ok bool) {
	name := string(ev.Kind)
	decision := w.opts.Filter.Decide(ev, w.opts.Now())
	if decision.Emit {
		md := metadata.Metadata{}
		if w.deps.Resolver != nil {
			md = w.deps.Resolver.Resolve(ctx, ev.TokenURIHex())
		}
		text, err := w.deps.Renderer.Render(ev, md)
		if err != nil {
			zap.L().Error("Failed to render message", zap.String("stream", name), zap.String("hash", ev.Hash), zap.Error(err))
		} else {
			n := notify.Notification{Event: ev, Meta: md, Text: text, ImageURL: md.ImageURL}
			if err := w.deps.Notifier.Notify(ctx, n); err != nil {
				if ctx.Err() != nil {
					return false, false
				}
				zap.L().Warn("Notification dropped", zap.String("stream", name), zap.String("hash", ev.Hash), zap.Error(err))
			}
		}
	} else {
		zap.L().Debug("Event suppressed",
			zap.String("stream", name),
			zap.String("hash", ev.Hash),
			zap.String("reason", decision.Reason),
		)
	}

	r.stream.Commit(ev.Hash)
	w.persist(ctx, r)
	return decision.Emit, true
}

func (w *Watcher) persist(ctx context.Context, r *runner) {
	name := string(r.source.Kind())
	w.deps.Metrics.SetSeenHashes(name, r.stream.SeenCount())
	if w.deps.Store == nil {
		return
	}
	if err := w.deps.Store.Save(context.WithoutCancel(ctx), name, r.stream.Snapshot()); err != nil {
		w.deps.Metrics.RecordPersistError(name)
		zap.L().Error("Failed to persist stream state", zap.String("stream", name), zap.Error(err))
	}
}

func sleepInterrupted(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
