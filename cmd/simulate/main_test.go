package main

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRun(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(&out, zap.NewNop(), decimal.NewFromInt(10)))

	got := out.String()
	for _, want := range []string{
		"=== ORDERBOOK: ETH/USDT ===",
		"Last trade: $134.00 x 10",
		"Pays:         1114.4444 USDT",
		"Price after:  123.4568",
		"k check:      1000000 (before 1000000, change 0.000000)",
		"Best single pool: Meteora, pay 1512.06 USDC",
		"Total paid: 1506.36 USDC",
		"Saving vs best single pool: 5.70 USDC",
	} {
		assert.Contains(t, got, want)
	}
	assert.NotContains(t, got, "change -", "a swap shrank k")
}

func TestRun_RouteTooLarge(t *testing.T) {
	var out bytes.Buffer
	err := run(&out, zap.NewNop(), decimal.NewFromInt(5000))
	assert.Error(t, err)
}
