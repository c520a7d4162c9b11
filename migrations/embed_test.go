package migrations

import (
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardpos/stockledger/internal/ledger"
)

var priceColumn = regexp.MustCompile(`(?m)^\s*(\w*price)\s+NUMERIC\((\d+),\s*(\d+)\)`)

func TestPriceColumnsHoldMaxPriceScale(t *testing.T) {
	data, err := Files.ReadFile("0001_ledger.up.sql")
	require.NoError(t, err)

	matches := priceColumn.FindAllStringSubmatch(string(data), -1)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		scale, err := strconv.Atoi(m[3])
		require.NoError(t, err)
		require.Equal(t, int(ledger.MaxPriceScale), scale, "column %s", m[1])
	}
}
