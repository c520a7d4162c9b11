package consignment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/cardpos/stockledger/internal/shared"
)

// ErrInvalidRange is returned when the filter window ends before it starts.
var ErrInvalidRange = errors.New("consignment: to must not precede from")

// RepositoryPort abstracts the ledger reads the projections need.
type RepositoryPort interface {
	GetClient(ctx context.Context, id int64) (Client, error)
	StreamSaleEntries(ctx context.Context, filter TransactionStatsFilter, fn func(SaleEntry) error) error
	ProductStats(ctx context.Context, clientID int64) (ProductStats, error)
}

// Service computes consignor rollups on demand. Nothing here is stored; results are
// cached under a version that ledger movements bump.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewService wires the repository with an optional cache.
func NewService(repo RepositoryPort, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// GetTransactionStats totals consignment sales for the filter, netting returns out.
func (s *Service) GetTransactionStats(ctx context.Context, actor shared.Actor, filter TransactionStatsFilter) (TransactionStats, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return TransactionStats{}, ErrInvalidRange
	}
	if _, err := s.client(ctx, actor, filter.ClientID); err != nil {
		return TransactionStats{}, err
	}
	loader := func(ctx context.Context) (any, error) {
		stats := newTransactionStats()
		err := s.repo.StreamSaleEntries(ctx, filter, func(e SaleEntry) error {
			stats.Add(e)
			return nil
		})
		return stats, err
	}
	var stats TransactionStats
	if err := s.cached(ctx, keyTransactionStats(filter), &stats, loader); err != nil {
		return TransactionStats{}, err
	}
	return stats, nil
}

// GetProductStats sums the consignor's remaining on-hand stock.
func (s *Service) GetProductStats(ctx context.Context, actor shared.Actor, clientID int64) (ProductStats, error) {
	if _, err := s.client(ctx, actor, clientID); err != nil {
		return ProductStats{}, err
	}
	loader := func(ctx context.Context) (any, error) {
		return s.repo.ProductStats(ctx, clientID)
	}
	var stats ProductStats
	if err := s.cached(ctx, keyProductStats(clientID), &stats, loader); err != nil {
		return ProductStats{}, err
	}
	return stats, nil
}

// GetClientSummary combines both projections and the payout owed to the consignor.
func (s *Service) GetClientSummary(ctx context.Context, actor shared.Actor, filter TransactionStatsFilter) (ClientSummary, error) {
	client, err := s.client(ctx, actor, filter.ClientID)
	if err != nil {
		return ClientSummary{}, err
	}
	tx, err := s.GetTransactionStats(ctx, actor, filter)
	if err != nil {
		return ClientSummary{}, err
	}
	products, err := s.GetProductStats(ctx, actor, filter.ClientID)
	if err != nil {
		return ClientSummary{}, err
	}
	return ClientSummary{
		ClientID:         client.ID,
		DisplayName:      client.DisplayName,
		TransactionStats: tx,
		ProductStats:     products,
		PayoutPrice:      tx.TotalSalePrice.Sub(tx.TotalCommissionPrice),
	}, nil
}

func (s *Service) client(ctx context.Context, actor shared.Actor, clientID int64) (Client, error) {
	if actor.StoreID == 0 {
		return Client{}, shared.ErrActorRequired
	}
	client, err := s.repo.GetClient(ctx, clientID)
	if err != nil {
		return Client{}, err
	}
	if client.StoreID != actor.StoreID {
		return Client{}, ErrClientNotFound
	}
	return client, nil
}

// cached coalesces concurrent identical requests before they reach Redis or Postgres.
// Callers share the encoded payload and each decodes its own copy.
func (s *Service) cached(ctx context.Context, base string, dest any, loader func(context.Context) (any, error)) error {
	cache := s.cache
	key, err := cache.BuildKey(ctx, base)
	if err != nil {
		s.logger.Warn("consignment cache unavailable", slog.String("key", base), slog.Any("error", err))
		cache, key = nil, base
	}
	// The flight is shared, so one caller's cancellation must not fail the others.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		var raw json.RawMessage
		if err := cache.FetchJSON(flightCtx, key, &raw, loader); err != nil {
			return nil, err
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.(json.RawMessage), dest)
	}
}
