package orderbook

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/dexsim/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func submit(t *testing.T, ob *OrderBook, side models.Side, price, qty string, trader string) models.Execution {
	t.Helper()
	exec, err := ob.SubmitOrder(side, d(price), d(qty), trader)
	require.NoError(t, err)
	assertBookInvariants(t, ob)
	return exec
}

// assertBookInvariants checks ordering, positivity and the uncrossed top of book
func assertBookInvariants(t *testing.T, ob *OrderBook) {
	t.Helper()
	bids, asks := ob.Bids(), ob.Asks()

	for i := 1; i < len(bids); i++ {
		prev, cur := bids[i-1], bids[i]
		ordered := prev.Price.GreaterThan(cur.Price) || (prev.Price.Equal(cur.Price) && prev.ID < cur.ID)
		assert.True(t, ordered, "bids out of order at %d: %s/%d then %s/%d", i, prev.Price, prev.ID, cur.Price, cur.ID)
	}
	for i := 1; i < len(asks); i++ {
		prev, cur := asks[i-1], asks[i]
		ordered := prev.Price.LessThan(cur.Price) || (prev.Price.Equal(cur.Price) && prev.ID < cur.ID)
		assert.True(t, ordered, "asks out of order at %d: %s/%d then %s/%d", i, prev.Price, prev.ID, cur.Price, cur.ID)
	}
	for _, o := range append(bids, asks...) {
		assert.True(t, o.Remaining.IsPositive(), "order %d rests with remaining %s", o.ID, o.Remaining)
	}
	if len(bids) > 0 && len(asks) > 0 {
		assert.True(t, bids[0].Price.LessThan(asks[0].Price), "book crossed: bid %s ask %s", bids[0].Price, asks[0].Price)
	}
}

func TestOrderBook_CrossingBidFillsBestAsk(t *testing.T) {
	ob := New("ETH-USDT", nil)

	submit(t, ob, models.Sell, "135", "10", "MarketMaker1")
	submit(t, ob, models.Sell, "134", "5", "MarketMaker2")
	exec := submit(t, ob, models.Buy, "134", "3", "Trader2")

	require.Len(t, exec.Trades, 1)
	trade := exec.Trades[0]
	assert.True(t, trade.Price.Equal(d("134")))
	assert.True(t, trade.Quantity.Equal(d("3")))
	assert.Equal(t, "Trader2", trade.Buyer)
	assert.Equal(t, "MarketMaker2", trade.Seller)
	assert.Equal(t, models.Buy, trade.TakerSide)
	assert.Nil(t, exec.RestingOrderID)

	asks := ob.Asks()
	require.Len(t, asks, 2)
	assert.True(t, asks[0].Price.Equal(d("134")))
	assert.True(t, asks[0].Remaining.Equal(d("2")))
	assert.True(t, asks[1].Price.Equal(d("135")))
	assert.True(t, asks[1].Remaining.Equal(d("10")))
	assert.Empty(t, ob.Bids())

	assert.Len(t, ob.Trades(), 1)
}

func TestOrderBook_SubmitOrderRejectsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		side     models.Side
		price    string
		quantity string
	}{
		{name: "ZeroPrice", side: models.Buy, price: "0", quantity: "1"},
		{name: "NegativePrice", side: models.Sell, price: "-5", quantity: "1"},
		{name: "ZeroQuantity", side: models.Buy, price: "100", quantity: "0"},
		{name: "NegativeQuantity", side: models.Sell, price: "100", quantity: "-1"},
		{name: "UnknownSide", side: models.Side("hold"), price: "100", quantity: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob := New("ETH-USDT", nil)
			submit(t, ob, models.Sell, "101", "1", "mm")

			_, err := ob.SubmitOrder(tt.side, d(tt.price), d(tt.quantity), "trader")
			assert.ErrorIs(t, err, ErrInvalidOrder)

			assert.Len(t, ob.Asks(), 1)
			assert.Empty(t, ob.Bids())
			assert.Empty(t, ob.Trades())

			// a rejected order does not consume a sequence number
			exec := submit(t, ob, models.Buy, "100", "1", "trader")
			assert.Equal(t, uint64(2), exec.Order.ID)
		})
	}
}

func TestOrderBook_PriceTimePriority(t *testing.T) {
	ob := New("BTC-USD", nil)

	first := submit(t, ob, models.Buy, "50000", "0.1", "alice")
	second := submit(t, ob, models.Buy, "51000", "0.2", "bob")
	third := submit(t, ob, models.Buy, "50000", "0.3", "carol")

	bids := ob.Bids()
	require.Len(t, bids, 3)
	assert.Equal(t, second.Order.ID, bids[0].ID)
	assert.Equal(t, first.Order.ID, bids[1].ID)
	assert.Equal(t, third.Order.ID, bids[2].ID)

	// sweeping 51000 then the earlier 50000 bid
	exec := submit(t, ob, models.Sell, "50000", "0.25", "dave")
	require.Len(t, exec.Trades, 2)
	assert.Equal(t, "bob", exec.Trades[0].Buyer)
	assert.True(t, exec.Trades[0].Quantity.Equal(d("0.2")))
	assert.Equal(t, "alice", exec.Trades[1].Buyer)
	assert.True(t, exec.Trades[1].Quantity.Equal(d("0.05")))

	rest, ok := ob.Order(first.Order.ID)
	require.True(t, ok)
	assert.True(t, rest.Remaining.Equal(d("0.05")))
	assert.True(t, rest.Filled().Equal(d("0.05")))
}

func TestOrderBook_TradesExecuteAtAskPrice(t *testing.T) {
	tests := []struct {
		name      string
		resting   models.Side
		restPrice string
		taker     models.Side
		takePrice string
		wantPrice string
	}{
		{name: "RestingAskIncomingBid", resting: models.Sell, restPrice: "100", taker: models.Buy, takePrice: "105", wantPrice: "100"},
		{name: "RestingBidIncomingAsk", resting: models.Buy, restPrice: "105", taker: models.Sell, takePrice: "100", wantPrice: "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob := New("SOL-USDC", nil)
			submit(t, ob, tt.resting, tt.restPrice, "1", "maker")
			exec := submit(t, ob, tt.taker, tt.takePrice, "1", "taker")

			require.Len(t, exec.Trades, 1)
			assert.True(t, exec.Trades[0].Price.Equal(d(tt.wantPrice)), "got %s", exec.Trades[0].Price)
			assert.Equal(t, tt.taker, exec.Trades[0].TakerSide)
		})
	}
}

func TestOrderBook_PartialFillRests(t *testing.T) {
	ob := New("ETH-USDT", nil)
	submit(t, ob, models.Sell, "134", "15", "MarketMaker2")
	submit(t, ob, models.Sell, "134.5", "20", "MarketMaker1")

	exec := submit(t, ob, models.Buy, "134.5", "40", "whale")
	require.Len(t, exec.Trades, 2)
	require.NotNil(t, exec.RestingOrderID)
	assert.Equal(t, exec.Order.ID, *exec.RestingOrderID)
	assert.True(t, exec.Order.Remaining.Equal(d("5")))

	assert.Empty(t, ob.Asks())
	bids := ob.Bids()
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Remaining.Equal(d("5")))
}

func TestOrderBook_Spread(t *testing.T) {
	ob := New("ETH-USDT", nil)

	_, ok := ob.Spread()
	assert.False(t, ok)

	submit(t, ob, models.Buy, "133.5", "12", "MarketMaker1")
	_, ok = ob.Spread()
	assert.False(t, ok, "one-sided book has no spread")

	submit(t, ob, models.Sell, "134", "15", "MarketMaker2")
	spread, ok := ob.Spread()
	require.True(t, ok)
	assert.True(t, spread.BestBid.Equal(d("133.5")))
	assert.True(t, spread.BestAsk.Equal(d("134")))
	assert.True(t, spread.Spread.Equal(d("0.5")))
	assert.InDelta(t, 0.373134, spread.SpreadPercent.InexactFloat64(), 1e-6)

	again, ok := ob.Spread()
	require.True(t, ok)
	assert.Equal(t, spread, again)
}

func TestOrderBook_Depth(t *testing.T) {
	ob := New("ETH-USDT", nil)
	submit(t, ob, models.Sell, "135", "10", "MarketMaker1")
	submit(t, ob, models.Sell, "134.5", "20", "MarketMaker1")
	submit(t, ob, models.Sell, "134.5", "5", "MarketMaker2")
	submit(t, ob, models.Buy, "133.5", "12", "MarketMaker1")
	submit(t, ob, models.Buy, "133", "25", "MarketMaker2")
	submit(t, ob, models.Buy, "132.5", "30", "Trader1")

	bids, asks := ob.Depth(2)
	require.Len(t, asks, 2)
	assert.True(t, asks[0].Price.Equal(d("134.5")))
	assert.True(t, asks[0].Quantity.Equal(d("25")))
	assert.Equal(t, 2, asks[0].Orders)
	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.Equal(d("133.5")))
	assert.True(t, bids[1].Price.Equal(d("133")))

	bids, _ = ob.Depth(0)
	assert.Len(t, bids, 3)
}

func TestOrderBook_LastTrade(t *testing.T) {
	ob := New("ETH-USDT", nil)
	_, ok := ob.LastTrade()
	assert.False(t, ok)

	submit(t, ob, models.Sell, "134", "15", "MarketMaker2")
	submit(t, ob, models.Buy, "134", "10", "Trader2")

	last, ok := ob.LastTrade()
	require.True(t, ok)
	assert.True(t, last.Quantity.Equal(d("10")))
	assert.Equal(t, "Trader2", last.Buyer)
}

func TestOrderBook_RandomFlowKeepsInvariants(t *testing.T) {
	ob := New("ETH-USDT", nil)
	rng := rand.New(rand.NewSource(42))

	original := map[uint64]decimal.Decimal{}
	matched := map[uint64]decimal.Decimal{}

	for i := 0; i < 500; i++ {
		side := models.Buy
		if rng.Intn(2) == 0 {
			side = models.Sell
		}
		price := decimal.NewFromInt(int64(95 + rng.Intn(11)))
		qty := decimal.NewFromInt(int64(1 + rng.Intn(20)))

		exec, err := ob.SubmitOrder(side, price, qty, "t")
		require.NoError(t, err)
		original[exec.Order.ID] = qty

		for _, tr := range exec.Trades {
			assert.True(t, tr.Quantity.IsPositive())
			matched[tr.BuyOrderID] = matched[tr.BuyOrderID].Add(tr.Quantity)
			matched[tr.SellOrderID] = matched[tr.SellOrderID].Add(tr.Quantity)
		}
		assertBookInvariants(t, ob)
	}

	for id, qty := range original {
		assert.True(t, matched[id].LessThanOrEqual(qty), "order %d matched %s of %s", id, matched[id], qty)
		if o, ok := ob.Order(id); ok {
			assert.True(t, o.Remaining.Equal(qty.Sub(matched[id])), "order %d remaining %s", id, o.Remaining)
		} else {
			assert.True(t, matched[id].Equal(qty), "order %d evicted while partially filled", id)
		}
	}
}
