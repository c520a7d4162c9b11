package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCostSummaryOverOpenLots(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	id := mustProduct(t, svc, Product{})
	stock(t, svc, id, 3, 10)
	stock(t, svc, id, 5, 20)
	_, err := svc.ApplyMovement(ctx, testActor, MovementInput{ProductID: id, ItemCount: -4, Kind: SourceSale})
	require.NoError(t, err)

	summary, err := svc.CostSummary(ctx, testActor, id)
	require.NoError(t, err)
	require.Equal(t, int64(4), summary.OpenQuantity)
	require.Equal(t, 1, summary.OpenLotCount)
	requireDecimal(t, "80", summary.TotalCost)
	requireDecimal(t, "20", summary.AveragePrice)
	requireDecimal(t, "20", summary.MinPrice)
	requireDecimal(t, "20", summary.MaxPrice)
}

func TestListEntriesPagesByID(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	id := mustProduct(t, svc, Product{})
	for i := 0; i < 5; i++ {
		stock(t, svc, id, 1, 10)
	}

	page, err := svc.ListEntries(ctx, testActor, EntryFilter{ProductID: id, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	rest, err := svc.ListEntries(ctx, testActor, EntryFilter{ProductID: id, AfterID: page[1].ID})
	require.NoError(t, err)
	require.Len(t, rest, 3)
	require.Equal(t, int64(3), rest[0].ResultStockNumber)
}

func TestReplayDetectsDrift(t *testing.T) {
	svc, repo := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	id := mustProduct(t, svc, Product{})
	stock(t, svc, id, 4, 10)

	report, err := svc.Replay(ctx, testActor, id)
	require.NoError(t, err)
	require.True(t, report.Consistent())

	p := repo.state.products[id]
	p.StockNumber = 9
	repo.state.products[id] = p

	report, err = svc.Replay(ctx, testActor, id)
	require.NoError(t, err)
	require.False(t, report.LedgerConsistent)
	require.False(t, report.LotsConsistent)
	require.Equal(t, int64(4), report.DeltaSum)
}

func TestReconcileReportsInconsistentProducts(t *testing.T) {
	anomalies := &anomalyRecorder{}
	svc, _ := newTestService(t, ServiceConfig{Anomalies: anomalies})
	ctx := context.Background()
	good := mustProduct(t, svc, Product{})
	bad := mustProduct(t, svc, Product{})
	stock(t, svc, good, 2, 10)
	stock(t, svc, bad, 2, 10)
	_, err := svc.ApplyMovement(ctx, testActor, MovementInput{ProductID: bad, ItemCount: -1, Kind: SourceProduct, SpecificWholesalePrice: price(5)})
	require.NoError(t, err)

	issues, err := svc.Reconcile(ctx, testActor.StoreID)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, bad, issues[0].ProductID)
	require.True(t, issues[0].LedgerConsistent)
	require.False(t, issues[0].LotsConsistent)
	require.Equal(t, 1, anomalies.counts["ledger_discrepancy"])

	_, err = svc.Reconcile(ctx, 0)
	require.Error(t, err)
}
