package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cardpos/stockledger/internal/ledger"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 120, cfg.AppRateLimit)
	require.Equal(t, 15*time.Minute, cfg.ReservationTTL)
	require.Equal(t, "30 3 * * *", cfg.ReconcileCron)
	require.False(t, cfg.IsProduction())

	lc := cfg.LedgerConfig()
	require.Equal(t, ledger.LotOrderFIFO, lc.LotOrder)
	require.Equal(t, ledger.ExhaustionLatestLot, lc.ExhaustionPolicy)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("LEDGER_LOT_ORDER", "lifo")
	t.Setenv("LEDGER_EXHAUSTION_POLICY", "strict")
	t.Setenv("LEDGER_PRICE_SCALE", "2")
	t.Setenv("RESERVATION_TTL", "30m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	lc := cfg.LedgerConfig()
	require.Equal(t, ledger.LotOrderLIFO, lc.LotOrder)
	require.Equal(t, ledger.ExhaustionStrict, lc.ExhaustionPolicy)
	require.Equal(t, int32(2), lc.PriceScale)
	require.Equal(t, 30*time.Minute, lc.ReservationTTL)
}

func TestLoadConfigRejectsUnknownValues(t *testing.T) {
	cases := map[string]string{
		"LEDGER_LOT_ORDER":         "random",
		"LEDGER_EXHAUSTION_POLICY": "average",
		"LEDGER_PRICE_SCALE":       "5",
		"LEDGER_TX_RETRIES":        "0",
	}
	for env, value := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, value)
			_, err := LoadConfig()
			require.Error(t, err)
			require.Contains(t, err.Error(), env)
		})
	}
}
