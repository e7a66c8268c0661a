package watcher

import (
	"context"
	"fmt"

	"github.com/nftwatch/nftwatch/internal/bithomp"
	"github.com/nftwatch/nftwatch/internal/events"
	"github.com/nftwatch/nftwatch/internal/metrics"
	"github.com/nftwatch/nftwatch/internal/xrpl"
	"go.uber.org/zap"
)

// Source fetches the current batch of one event stream. Batches are returned
// oldest first.
type Source interface {
	Kind() events.Kind
	Fetch(ctx context.Context) ([]events.Event, error)
}

type SalesClient interface {
	LastSold(ctx context.Context) ([]bithomp.Sale, error)
}

type MintsClient interface {
	AccountTx(ctx context.Context, account string, limit int) ([]xrpl.Entry, error)
}

type SalesSource struct {
	client  SalesClient
	metrics *metrics.Metrics
}

func NewSalesSource(client SalesClient, m *metrics.Metrics) *SalesSource {
	return &SalesSource{client: client, metrics: m}
}

func (s *SalesSource) Kind() events.Kind {
	return events.KindSale
}

func (s *SalesSource) Fetch(ctx context.Context) ([]events.Event, error) {
	sales, err := s.client.LastSold(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sales: %w", err)
	}
	evs, skipped := events.NormalizeSales(sales)
	report(s.metrics, events.KindSale, len(evs), skipped)
	return events.Reverse(evs), nil
}

type MintsSource struct {
	client  MintsClient
	account string
	limit   int
	metrics *metrics.Metrics
}

func NewMintsSource(client MintsClient, account string, limit int, m *metrics.Metrics) *MintsSource {
	return &MintsSource{client: client, account: account, limit: limit, metrics: m}
}

func (s *MintsSource) Kind() events.Kind {
	return events.KindMint
}

func (s *MintsSource) Fetch(ctx context.Context) ([]events.Event, error) {
	entries, err := s.client.AccountTx(ctx, s.account, s.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mints: %w", err)
	}
	evs, skipped := events.NormalizeMints(entries)
	report(s.metrics, events.KindMint, len(evs), skipped)
	return events.Reverse(evs), nil
}

func report(m *metrics.Metrics, kind events.Kind, fetched, skipped int) {
	if skipped > 0 {
		zap.L().Debug("Skipped malformed records", zap.String("stream", string(kind)), zap.Int("skipped", skipped))
	}
	m.RecordFetched(string(kind), fetched, skipped)
}
