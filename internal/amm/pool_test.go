package amm

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/dexsim/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newPool(t *testing.T, reserveA, reserveB, fee string, accrue bool) *Pool {
	t.Helper()
	p, err := NewPool(Config{
		ID:         "ETH-USDT",
		TokenA:     "ETH",
		TokenB:     "USDT",
		ReserveA:   d(reserveA),
		ReserveB:   d(reserveB),
		FeeRate:    d(fee),
		AccrueFees: accrue,
	}, nil)
	require.NoError(t, err)
	return p
}

func TestNewPool_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "MissingID", cfg: Config{ReserveA: d("1"), ReserveB: d("1"), FeeRate: d("0")}},
		{name: "ZeroReserveA", cfg: Config{ID: "p", ReserveA: d("0"), ReserveB: d("1"), FeeRate: d("0")}},
		{name: "NegativeReserveB", cfg: Config{ID: "p", ReserveA: d("1"), ReserveB: d("-1"), FeeRate: d("0")}},
		{name: "FeeOfOne", cfg: Config{ID: "p", ReserveA: d("1"), ReserveB: d("1"), FeeRate: d("1")}},
		{name: "NegativeFee", cfg: Config{ID: "p", ReserveA: d("1"), ReserveB: d("1"), FeeRate: d("-0.01")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPool(tt.cfg, nil)
			assert.ErrorIs(t, err, ErrInvalidPool)
		})
	}
}

func TestPool_Quote(t *testing.T) {
	p := newPool(t, "100", "10000", "0.003", false)

	q, err := p.Quote(d("10"))
	require.NoError(t, err)

	assert.True(t, q.NewReserveA.Equal(d("90")))
	assert.InDelta(t, 11111.111111, q.NewReserveB.InexactFloat64(), 1e-6)
	assert.InDelta(t, 1111.111111, q.AmountInRequired.InexactFloat64(), 1e-6)
	assert.InDelta(t, 1114.444444, q.AmountInWithFee.InexactFloat64(), 1e-6)
	assert.InDelta(t, 3.333333, q.Fee.InexactFloat64(), 1e-6)
	assert.True(t, q.PriceBefore.Equal(d("100")))
	assert.InDelta(t, 123.45679, q.PriceAfter.InexactFloat64(), 1e-5)
	assert.InDelta(t, 23.45679, q.PriceImpactPercent.InexactFloat64(), 1e-5)
	assert.InDelta(t, 111.444444, q.EffectivePrice.InexactFloat64(), 1e-6)
	assert.Equal(t, models.BuyA, q.Direction)

	// quoting never moves the pool
	assert.True(t, p.ReserveA().Equal(d("100")))
	assert.True(t, p.ReserveB().Equal(d("10000")))

	again, err := p.Quote(d("10"))
	require.NoError(t, err)
	assert.Equal(t, q, again)
}

func TestPool_InsufficientLiquidity(t *testing.T) {
	p := newPool(t, "10", "1000", "0.003", false)

	for _, amount := range []string{"10", "15"} {
		t.Run(amount, func(t *testing.T) {
			_, err := p.Quote(d(amount))
			assert.ErrorIs(t, err, ErrInsufficientLiquidity)

			_, err = p.Swap(d(amount))
			assert.ErrorIs(t, err, ErrInsufficientLiquidity)

			assert.True(t, p.ReserveA().Equal(d("10")))
			assert.True(t, p.ReserveB().Equal(d("1000")))
		})
	}
}

func TestPool_RejectsNonPositiveAmount(t *testing.T) {
	p := newPool(t, "100", "10000", "0.003", false)

	// amounts finer than the pricing scale are refused too
	for _, amount := range []string{"0", "-1", "0.000000000000000000001", "1.0000000000000000001"} {
		_, err := p.Quote(d(amount))
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
		_, err = p.QuoteSell(d(amount))
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
		_, err = p.Swap(d(amount))
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
	}
	assert.True(t, p.ReserveA().Equal(d("100")))
	assert.True(t, p.ReserveB().Equal(d("10000")))

	// trailing zeros beyond the scale are not extra precision
	_, err := p.Quote(d("1.000000000000000000000"))
	assert.NoError(t, err)
}

func TestPool_TinySwapsNeverShrinkK(t *testing.T) {
	p := newPool(t, "100", "10000", "0.003", false)
	k := p.K()

	for i := 0; i < 1000; i++ {
		q, err := p.Swap(d("0.000000000000000001"))
		require.NoError(t, err)
		require.True(t, q.AmountInRequired.IsPositive())
		require.True(t, q.PriceAfter.GreaterThan(q.PriceBefore))
	}
	assert.True(t, p.ReserveA().Equal(d("99.999999999999999")))
	assert.True(t, p.ReserveB().GreaterThan(d("10000")))
	assert.True(t, p.K().GreaterThanOrEqual(k))
}

func TestPool_SwapConservesK(t *testing.T) {
	p := newPool(t, "100", "10000", "0.003", false)
	k := p.K()

	first, err := p.Swap(d("10"))
	require.NoError(t, err)
	assert.True(t, p.ReserveA().Equal(d("90")))
	assert.True(t, p.ReserveB().Equal(first.NewReserveB))
	assert.InDelta(t, k.InexactFloat64(), p.K().InexactFloat64(), 1e-9)

	// second buy is more expensive: 90 -> 80 ETH
	second, err := p.Swap(d("10"))
	require.NoError(t, err)
	assert.True(t, second.AmountInWithFee.GreaterThan(first.AmountInWithFee))
	assert.InDelta(t, 1393.055556, second.AmountInWithFee.InexactFloat64(), 1e-5)
	assert.InDelta(t, 156.25, second.PriceAfter.InexactFloat64(), 1e-9)
	assert.InDelta(t, k.InexactFloat64(), p.K().InexactFloat64(), 1e-9)

	_, err = p.SwapSell(d("500"))
	require.NoError(t, err)
	assert.InDelta(t, k.InexactFloat64(), p.K().InexactFloat64(), 1e-9)
}

func TestPool_AccrueFeesGrowsK(t *testing.T) {
	p := newPool(t, "100", "10000", "0.003", true)
	k := p.K()

	q, err := p.Swap(d("10"))
	require.NoError(t, err)

	assert.True(t, p.ReserveA().Equal(d("90")))
	assert.True(t, p.ReserveB().Equal(q.NewReserveB.Add(q.Fee)))
	assert.True(t, p.K().GreaterThan(k))

	// the quote contract is the same with or without accrual
	plain := newPool(t, "100", "10000", "0.003", false)
	pq, err := plain.Quote(d("10"))
	require.NoError(t, err)
	assert.Equal(t, pq, q)
}

func TestPool_PriceMonotonicity(t *testing.T) {
	pools := []struct {
		name     string
		reserveA string
		reserveB string
	}{
		{name: "Small", reserveA: "10", reserveB: "1000"},
		{name: "EthUsdt", reserveA: "100", reserveB: "10000"},
		{name: "Large", reserveA: "10000", reserveB: "1000000"},
	}
	amounts := []string{"0.000001", "0.5", "1", "9.99"}

	for _, pc := range pools {
		t.Run(pc.name, func(t *testing.T) {
			p := newPool(t, pc.reserveA, pc.reserveB, "0.003", false)
			for _, amount := range amounts {
				buy, err := p.Quote(d(amount))
				require.NoError(t, err)
				assert.True(t, buy.PriceAfter.GreaterThan(buy.PriceBefore), "buying %s A", amount)
				assert.True(t, buy.PriceImpactPercent.IsPositive())

				sell, err := p.QuoteSell(d(amount))
				require.NoError(t, err)
				assert.True(t, sell.PriceAfter.LessThan(sell.PriceBefore), "buying %s B", amount)
				assert.True(t, sell.PriceImpactPercent.IsNegative())
			}

			// below the pricing scale there is no quote that could leave the price flat
			_, err := p.Quote(d("0.0000000000000000001"))
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}

	// a single unit of scale cannot move a deep pool's price, so it is refused
	deep := newPool(t, "10000", "1000000", "0.003", false)
	_, err := deep.Quote(d("0.000000000000000001"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPool_SmallPoolHasMoreImpact(t *testing.T) {
	small := newPool(t, "10", "1000", "0.003", false)
	large := newPool(t, "10000", "1000000", "0.003", false)

	sq, err := small.Swap(d("1"))
	require.NoError(t, err)
	lq, err := large.Swap(d("1"))
	require.NoError(t, err)

	assert.InDelta(t, 23.45679, sq.PriceImpactPercent.InexactFloat64(), 1e-5)
	assert.True(t, sq.PriceImpactPercent.GreaterThan(lq.PriceImpactPercent))
}

func TestPool_SwapWithLimit(t *testing.T) {
	p := newPool(t, "100", "10000", "0.003", false)

	q, err := p.Quote(d("10"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		limit   decimal.Decimal
		wantErr error
	}{
		{name: "BelowQuote", limit: d("1100"), wantErr: ErrSlippageExceeded},
		{name: "WithinTolerance", limit: MaxAmountIn(q.AmountInWithFee, 50), wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := p.State()
			got, err := p.SwapWithLimit(d("10"), tt.limit)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, p.State())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, q, got)
			assert.True(t, p.ReserveA().Equal(d("90")))
		})
	}
}

func TestMaxAmountIn(t *testing.T) {
	assert.True(t, MaxAmountIn(d("1000"), 100).Equal(d("1010")))
	assert.True(t, MaxAmountIn(d("1000"), 50).Equal(d("1005")))
	assert.True(t, MaxAmountIn(d("1000"), 0).Equal(d("1000")))
}

func TestPool_State(t *testing.T) {
	p := newPool(t, "100", "10000", "0.003", false)
	s := p.State()

	assert.Equal(t, "ETH-USDT", s.ID)
	assert.Equal(t, "ETH", s.TokenA)
	assert.True(t, s.K.Equal(d("1000000")))
	assert.True(t, s.PriceAInB.Equal(d("100")))
	assert.True(t, s.PriceBInA.Equal(d("0.01")))
	assert.True(t, p.PriceAInB().Equal(d("100")))
}
