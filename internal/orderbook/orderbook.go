package orderbook

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/xtrntr/dexsim/internal/models"
)

var (
	// ErrInvalidOrder is returned for a non-positive price or quantity or an unknown side.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrCrossedBook means matching left bestBid >= bestAsk. It indicates a bug, not bad input.
	ErrCrossedBook = errors.New("crossed book invariant violation")
)

var hundred = decimal.NewFromInt(100)

// key positions an order inside one side of the book
type key struct {
	price decimal.Decimal
	seq   uint64
}

// bidLess orders bids by price descending, then arrival
func bidLess(a, b key) bool {
	if c := a.price.Cmp(b.price); c != 0 {
		return c > 0
	}
	return a.seq < b.seq
}

// askLess orders asks by price ascending, then arrival
func askLess(a, b key) bool {
	if c := a.price.Cmp(b.price); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

// OrderBook holds the resting orders of one trading pair and matches crossing orders.
// Submissions are serialized by the write lock; readers share the read lock.
type OrderBook struct {
	mu     sync.RWMutex
	pair   string
	bids   *btree.BTreeG[key]
	asks   *btree.BTreeG[key]
	orders map[uint64]*models.Order
	trades []models.Trade
	seq    uint64
	now    func() time.Time
	logger *zap.Logger
}

// New creates an empty order book for pair
func New(pair string, logger *zap.Logger) *OrderBook {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := btree.Options{NoLocks: true}
	return &OrderBook{
		pair:   pair,
		bids:   btree.NewBTreeGOptions(bidLess, opts),
		asks:   btree.NewBTreeGOptions(askLess, opts),
		orders: make(map[uint64]*models.Order),
		now:    time.Now,
		logger: logger.With(zap.String("pair", pair)),
	}
}

// Pair returns the trading pair this book serves
func (ob *OrderBook) Pair() string {
	return ob.pair
}

// SubmitOrder inserts a limit order and matches the book until it no longer crosses.
// RestingOrderID is set when some of the order is left on the book.
func (ob *OrderBook) SubmitOrder(side models.Side, price, quantity decimal.Decimal, trader string) (models.Execution, error) {
	if err := validateOrder(side, price, quantity); err != nil {
		return models.Execution{}, err
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.seq++
	order := &models.Order{
		ID:        ob.seq,
		Pair:      ob.pair,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		Trader:    trader,
		CreatedAt: ob.now(),
	}
	ob.orders[order.ID] = order
	ob.sideOf(side).Set(key{price: price, seq: order.ID})

	trades := ob.match(side)
	ob.trades = append(ob.trades, trades...)

	if err := ob.checkCrossed(); err != nil {
		ob.logger.DPanic("book crossed after matching", zap.Uint64("order_id", order.ID), zap.Error(err))
		return models.Execution{}, err
	}

	exec := models.Execution{Order: *order, Trades: trades}
	if order.Remaining.IsPositive() {
		id := order.ID
		exec.RestingOrderID = &id
	}

	ob.logger.Debug("order submitted",
		zap.Uint64("order_id", order.ID),
		zap.String("side", string(side)),
		zap.String("price", price.String()),
		zap.String("quantity", quantity.String()),
		zap.Int("trades", len(trades)),
	)
	return exec, nil
}

func validateOrder(side models.Side, price, quantity decimal.Decimal) error {
	if !side.Valid() {
		return fmt.Errorf("%w: side must be 'buy' or 'sell'", ErrInvalidOrder)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidOrder, price)
	}
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidOrder, quantity)
	}
	return nil
}

func (ob *OrderBook) sideOf(side models.Side) *btree.BTreeG[key] {
	if side == models.Buy {
		return ob.bids
	}
	return ob.asks
}

// match trades the best bid against the best ask while they cross.
// Every trade executes at the best ask's price.
func (ob *OrderBook) match(taker models.Side) []models.Trade {
	var trades []models.Trade
	for {
		bk, ok := ob.bids.Min()
		if !ok {
			break
		}
		ak, ok := ob.asks.Min()
		if !ok {
			break
		}
		if bk.price.LessThan(ak.price) {
			break
		}

		bid := ob.orders[bk.seq]
		ask := ob.orders[ak.seq]
		qty := decimal.Min(bid.Remaining, ask.Remaining)

		trades = append(trades, models.Trade{
			ID:          uuid.New(),
			Pair:        ob.pair,
			Price:       ask.Price,
			Quantity:    qty,
			BuyOrderID:  bid.ID,
			SellOrderID: ask.ID,
			Buyer:       bid.Trader,
			Seller:      ask.Trader,
			TakerSide:   taker,
			ExecutedAt:  ob.now(),
		})

		bid.Remaining = bid.Remaining.Sub(qty)
		ask.Remaining = ask.Remaining.Sub(qty)

		if !bid.Remaining.IsPositive() {
			ob.bids.Delete(bk)
			delete(ob.orders, bid.ID)
		}
		if !ask.Remaining.IsPositive() {
			ob.asks.Delete(ak)
			delete(ob.orders, ask.ID)
		}
	}
	return trades
}

func (ob *OrderBook) checkCrossed() error {
	bk, ok := ob.bids.Min()
	if !ok {
		return nil
	}
	ak, ok := ob.asks.Min()
	if !ok {
		return nil
	}
	if bk.price.GreaterThanOrEqual(ak.price) {
		return fmt.Errorf("%w: best bid %s >= best ask %s", ErrCrossedBook, bk.price, ak.price)
	}
	return nil
}

// Spread returns the top of the book, or false if either side is empty
func (ob *OrderBook) Spread() (models.Spread, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bk, ok := ob.bids.Min()
	if !ok {
		return models.Spread{}, false
	}
	ak, ok := ob.asks.Min()
	if !ok {
		return models.Spread{}, false
	}
	spread := ak.price.Sub(bk.price)
	return models.Spread{
		BestBid:       bk.price,
		BestAsk:       ak.price,
		Spread:        spread,
		SpreadPercent: spread.Div(ak.price).Mul(hundred),
	}, true
}

// Bids returns the resting bids in priority order
func (ob *OrderBook) Bids() []models.Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.collect(ob.bids)
}

// Asks returns the resting asks in priority order
func (ob *OrderBook) Asks() []models.Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.collect(ob.asks)
}

func (ob *OrderBook) collect(side *btree.BTreeG[key]) []models.Order {
	orders := make([]models.Order, 0, side.Len())
	side.Scan(func(k key) bool {
		orders = append(orders, *ob.orders[k.seq])
		return true
	})
	return orders
}

// Depth aggregates up to levels price levels per side, best first.
// A non-positive levels returns every level.
func (ob *OrderBook) Depth(levels int) (bids, asks []models.PriceLevel) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.aggregate(ob.bids, levels), ob.aggregate(ob.asks, levels)
}

func (ob *OrderBook) aggregate(side *btree.BTreeG[key], levels int) []models.PriceLevel {
	out := []models.PriceLevel{}
	side.Scan(func(k key) bool {
		o := ob.orders[k.seq]
		if n := len(out); n > 0 && out[n-1].Price.Equal(k.price) {
			out[n-1].Quantity = out[n-1].Quantity.Add(o.Remaining)
			out[n-1].Orders++
			return true
		}
		if levels > 0 && len(out) == levels {
			return false
		}
		out = append(out, models.PriceLevel{Price: k.price, Quantity: o.Remaining, Orders: 1})
		return true
	})
	return out
}

// Order looks up a resting order by ID
func (ob *OrderBook) Order(id uint64) (models.Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	o, ok := ob.orders[id]
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}

// Trades returns a copy of the trade tape, oldest first
func (ob *OrderBook) Trades() []models.Trade {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	out := make([]models.Trade, len(ob.trades))
	copy(out, ob.trades)
	return out
}

// LastTrade returns the most recent trade, if any
func (ob *OrderBook) LastTrade() (models.Trade, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	if len(ob.trades) == 0 {
		return models.Trade{}, false
	}
	return ob.trades[len(ob.trades)-1], true
}
