package consignment

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cardpos/stockledger/internal/ledger"
	"github.com/cardpos/stockledger/internal/shared"
)

var testActor = shared.Actor{StoreID: 1, StaffAccountID: 7}

type mockRepo struct {
	clients      map[int64]Client
	entries      []SaleEntry
	productStats ProductStats
	lastFilter   TransactionStatsFilter
	streamCalls  int
	productCalls int
}

func (m *mockRepo) GetClient(ctx context.Context, id int64) (Client, error) {
	client, ok := m.clients[id]
	if !ok {
		return Client{}, ErrClientNotFound
	}
	return client, nil
}

func (m *mockRepo) StreamSaleEntries(ctx context.Context, filter TransactionStatsFilter, fn func(SaleEntry) error) error {
	m.streamCalls++
	m.lastFilter = filter
	for _, e := range m.entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockRepo) ProductStats(ctx context.Context, clientID int64) (ProductStats, error) {
	m.productCalls++
	return m.productStats, nil
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		clients: map[int64]Client{
			3: {ID: 3, StoreID: 1, DisplayName: "Card Shop Tanaka"},
			4: {ID: 4, StoreID: 2, DisplayName: "Other Store Consignor"},
		},
		entries: []SaleEntry{
			sale(ledger.SourceConsignmentSale, -2, 1000, 100),
			sale(ledger.SourceConsignmentSale, -1, 500, 60),
			sale(ledger.SourceConsignmentSaleReturn, 1, 1000, 100),
		},
		productStats: ProductStats{TotalStockNumber: 12, ProductCount: 3},
	}
}

func sale(kind ledger.SourceKind, delta int64, price, commission int64) SaleEntry {
	return SaleEntry{
		Kind:                kind,
		ItemCountDelta:      delta,
		SaleUnitPrice:       decimal.NewFromInt(price),
		CommissionUnitPrice: decimal.NewFromInt(commission),
	}
}

func newTestService(t *testing.T, repo RepositoryPort) (*Service, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)
	return NewService(repo, cache, nil), cache
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s got %s", want, got)
}

func TestTransactionStatsNetsReturns(t *testing.T) {
	repo := newMockRepo()
	svc, _ := newTestService(t, repo)

	stats, err := svc.GetTransactionStats(context.Background(), testActor, TransactionStatsFilter{ClientID: 3, ProductID: 9})
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalSaleItemCount)
	requireDecimal(t, "1500", stats.TotalSalePrice)
	requireDecimal(t, "160", stats.TotalCommissionPrice)
	require.Equal(t, int64(9), repo.lastFilter.ProductID)
}

func TestTransactionStatsCachesUntilBump(t *testing.T) {
	repo := newMockRepo()
	svc, cache := newTestService(t, repo)
	ctx := context.Background()
	filter := TransactionStatsFilter{ClientID: 3}

	_, err := svc.GetTransactionStats(ctx, testActor, filter)
	require.NoError(t, err)
	_, err = svc.GetTransactionStats(ctx, testActor, filter)
	require.NoError(t, err)
	require.Equal(t, 1, repo.streamCalls)

	invalidator := NewInvalidator(cache)
	require.NoError(t, invalidator.HandleMovementPosted(ctx, ledger.MovementPostedEvent{ProductID: 1, StoreID: 1}))
	_, err = svc.GetTransactionStats(ctx, testActor, filter)
	require.NoError(t, err)
	require.Equal(t, 1, repo.streamCalls, "non consignment movement must not invalidate")

	require.NoError(t, invalidator.HandleMovementPosted(ctx, ledger.MovementPostedEvent{ProductID: 2, StoreID: 1, ConsignmentClientID: 3}))
	stats, err := svc.GetTransactionStats(ctx, testActor, filter)
	require.NoError(t, err)
	require.Equal(t, 2, repo.streamCalls)
	requireDecimal(t, "1500", stats.TotalSalePrice)
}

func TestProductStatsAndSummary(t *testing.T) {
	repo := newMockRepo()
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	stats, err := svc.GetProductStats(ctx, testActor, 3)
	require.NoError(t, err)
	require.Equal(t, int64(12), stats.TotalStockNumber)
	require.Equal(t, int64(3), stats.ProductCount)

	summary, err := svc.GetClientSummary(ctx, testActor, TransactionStatsFilter{ClientID: 3})
	require.NoError(t, err)
	require.Equal(t, "Card Shop Tanaka", summary.DisplayName)
	requireDecimal(t, "1340", summary.PayoutPrice)
	require.Equal(t, int64(12), summary.TotalStockNumber)
	require.Equal(t, 1, repo.productCalls)
}

func TestStatsRejectForeignAndUnknownClients(t *testing.T) {
	svc, _ := newTestService(t, newMockRepo())
	ctx := context.Background()

	_, err := svc.GetTransactionStats(ctx, testActor, TransactionStatsFilter{ClientID: 4})
	require.ErrorIs(t, err, ErrClientNotFound)
	_, err = svc.GetProductStats(ctx, testActor, 99)
	require.ErrorIs(t, err, ErrClientNotFound)
	_, err = svc.GetProductStats(ctx, shared.Actor{}, 3)
	require.ErrorIs(t, err, shared.ErrActorRequired)

	from := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	_, err = svc.GetTransactionStats(ctx, testActor, TransactionStatsFilter{ClientID: 3, From: from, To: from.Add(-time.Hour)})
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestStatsWithoutCache(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		stats, err := svc.GetTransactionStats(ctx, testActor, TransactionStatsFilter{ClientID: 3})
		require.NoError(t, err)
		require.Equal(t, int64(2), stats.TotalSaleItemCount)
	}
	require.Equal(t, 2, repo.streamCalls)
	require.NoError(t, NewInvalidator(nil).HandleMovementPosted(ctx, ledger.MovementPostedEvent{ConsignmentClientID: 3}))
}

func TestSharedLoadSurvivesFirstCallerCancel(t *testing.T) {
	svc := NewService(newMockRepo(), nil, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var loads atomic.Int32
	loader := func(ctx context.Context) (any, error) {
		loads.Add(1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return ProductStats{TotalStockNumber: 5}, nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		var dest ProductStats
		firstErr <- svc.cached(firstCtx, "consignment:product_stats:3", &dest, loader)
	}()
	<-started

	type outcome struct {
		stats ProductStats
		err   error
	}
	second := make(chan outcome, 1)
	go func() {
		var dest ProductStats
		err := svc.cached(context.Background(), "consignment:product_stats:3", &dest, loader)
		second <- outcome{stats: dest, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, int64(5), got.stats.TotalStockNumber)
	require.Equal(t, int32(1), loads.Load())
}
