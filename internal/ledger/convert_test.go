package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPackOpeningSplitsCostAcrossSingles(t *testing.T) {
	svc, repo := newTestService(t, ServiceConfig{})
	pack := mustProduct(t, svc, Product{})
	single := mustProduct(t, svc, Product{})
	stock(t, svc, pack, 2, 1000)

	res, err := svc.Convert(context.Background(), testActor, ConvertInput{
		Kind:     SourcePackOpening,
		Inputs:   []ConvertLine{{ProductID: pack, ItemCount: 1}},
		Outputs:  []ConvertLine{{ProductID: single, ItemCount: 3}},
		SourceID: "open-1",
	})
	require.NoError(t, err)
	requireDecimal(t, "1000", res.ConsumedCost)
	require.Equal(t, int64(1), repo.state.products[pack].StockNumber)
	require.Equal(t, int64(3), repo.state.products[single].StockNumber)

	lots := repo.lotsOf(single)
	require.Len(t, lots, 2)
	require.Equal(t, int64(1), lots[0].OriginalQuantity)
	requireDecimal(t, "334", lots[0].UnitPrice)
	require.Equal(t, int64(2), lots[1].OriginalQuantity)
	requireDecimal(t, "333", lots[1].UnitPrice)

	total := decimal.Zero
	for _, lot := range lots {
		total = total.Add(lot.UnitPrice.Mul(decimal.NewFromInt(lot.OriginalQuantity)))
	}
	requireDecimal(t, "1000", total)
}

func TestBundleKeepsPricedOutputs(t *testing.T) {
	svc, repo := newTestService(t, ServiceConfig{})
	childA := mustProduct(t, svc, Product{})
	childB := mustProduct(t, svc, Product{})
	bundle := mustProduct(t, svc, Product{})
	promo := mustProduct(t, svc, Product{})
	stock(t, svc, childA, 2, 400)
	stock(t, svc, childB, 1, 300)

	res, err := svc.Convert(context.Background(), testActor, ConvertInput{
		Kind: SourceBundle,
		Inputs: []ConvertLine{
			{ProductID: childA, ItemCount: 2},
			{ProductID: childB, ItemCount: 1},
		},
		Outputs: []ConvertLine{
			{ProductID: bundle, ItemCount: 1},
			{ProductID: promo, ItemCount: 1, UnitPrice: price(100)},
		},
	})
	require.NoError(t, err)
	requireDecimal(t, "1100", res.ConsumedCost)
	require.Len(t, res.Inputs, 2)
	require.Len(t, res.Outputs, 2)
	requireDecimal(t, "1000", repo.lotsOf(bundle)[0].UnitPrice)
	requireDecimal(t, "100", repo.lotsOf(promo)[0].UnitPrice)
}

func TestConvertFailureRollsBackAllLegs(t *testing.T) {
	svc, repo := newTestService(t, ServiceConfig{})
	pack := mustProduct(t, svc, Product{})
	single := mustProduct(t, svc, Product{})
	stock(t, svc, pack, 1, 900)

	_, err := svc.Convert(context.Background(), testActor, ConvertInput{
		Kind:    SourcePackOpening,
		Inputs:  []ConvertLine{{ProductID: pack, ItemCount: 2}},
		Outputs: []ConvertLine{{ProductID: single, ItemCount: 10}},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, int64(1), repo.state.products[pack].StockNumber)
	require.Empty(t, repo.entriesOf(single))
}

func TestConvertValidation(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	a := mustProduct(t, svc, Product{})
	b := mustProduct(t, svc, Product{})

	_, err := svc.Convert(ctx, testActor, ConvertInput{Kind: SourceSale, Inputs: []ConvertLine{{ProductID: a, ItemCount: 1}}, Outputs: []ConvertLine{{ProductID: b, ItemCount: 1}}})
	require.ErrorIs(t, err, ErrInvalidSourceKind)
	_, err = svc.Convert(ctx, testActor, ConvertInput{Kind: SourceBundle, Inputs: []ConvertLine{{ProductID: a, ItemCount: 1}}})
	require.ErrorIs(t, err, ErrEmptyConversion)
	_, err = svc.Convert(ctx, testActor, ConvertInput{Kind: SourceBundle, Inputs: []ConvertLine{{ProductID: a, ItemCount: 1}}, Outputs: []ConvertLine{{ProductID: a, ItemCount: 1}}})
	require.ErrorIs(t, err, ErrSameProduct)
}

func TestConvertConservesFractionalCost(t *testing.T) {
	svc, repo := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	pack := mustProduct(t, svc, Product{})
	single := mustProduct(t, svc, Product{})
	_, err := svc.ApplyMovement(ctx, testActor, MovementInput{
		ProductID: pack, ItemCount: 3, Kind: SourceStocking,
		UnitPrice: decimal.NewNullDecimal(decimal.RequireFromString("10.25")),
	})
	require.NoError(t, err)

	res, err := svc.Convert(ctx, testActor, ConvertInput{
		Kind:    SourcePackOpening,
		Inputs:  []ConvertLine{{ProductID: pack, ItemCount: 3}},
		Outputs: []ConvertLine{{ProductID: single, ItemCount: 2}},
	})
	require.NoError(t, err)
	requireDecimal(t, "30.75", res.ConsumedCost)

	produced := decimal.Zero
	for _, lot := range repo.lotsOf(single) {
		produced = produced.Add(lot.UnitPrice.Mul(decimal.NewFromInt(lot.OriginalQuantity)))
	}
	requireDecimal(t, "30.75", produced)
}
