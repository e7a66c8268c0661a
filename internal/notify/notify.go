package notify

import (
	"context"
	"errors"

	"github.com/nftwatch/nftwatch/internal/events"
	"github.com/nftwatch/nftwatch/internal/metadata"
	"github.com/nftwatch/nftwatch/internal/metrics"
	"go.uber.org/zap"
)

// Notification is one rendered event ready to be delivered.
type Notification struct {
	Event    events.Event
	Meta     metadata.Metadata
	Text     string
	ImageURL string
}

type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Multi delivers every notification to all of its sinks. A failing sink does
// not stop delivery to the others.
type Multi struct {
	sinks   []Notifier
	metrics *metrics.Metrics
}

func NewMulti(m *metrics.Metrics, sinks ...Notifier) *Multi {
	return &Multi{sinks: sinks, metrics: m}
}

func (m *Multi) Name() string {
	return "multi"
}

func (m *Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, n); err != nil {
			zap.L().Warn("Notification failed",
				zap.String("sink", s.Name()),
				zap.String("hash", n.Event.Hash),
				zap.Error(err),
			)
			m.metrics.RecordNotification(s.Name(), "error")
			errs = append(errs, err)
			continue
		}
		m.metrics.RecordNotification(s.Name(), "ok")
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
