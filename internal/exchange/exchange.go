package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/dexsim/internal/amm"
	"github.com/xtrntr/dexsim/internal/metrics"
	"github.com/xtrntr/dexsim/internal/models"
	"github.com/xtrntr/dexsim/internal/orderbook"
	"github.com/xtrntr/dexsim/internal/router"
)

var (
	ErrUnknownMarket = errors.New("unknown market")
	ErrUnknownPool   = errors.New("unknown pool")
	ErrDuplicate     = errors.New("already registered")
)

// Journal receives executed trades and swaps for auditing
type Journal interface {
	RecordTrades(ctx context.Context, trades []models.Trade) error
	RecordSwap(ctx context.Context, swap models.SwapRecord) error
}

// Exchange manages the order books and liquidity pools of the venue
type Exchange struct {
	mu      sync.RWMutex
	books   map[string]*orderbook.OrderBook
	pools   map[string]*amm.Pool
	order   []string // pool IDs in registration order
	logger  *zap.Logger
	metrics *metrics.Recorder
	journal Journal
}

// NewExchange creates a new exchange. recorder and journal may be nil.
func NewExchange(logger *zap.Logger, recorder *metrics.Recorder, journal Journal) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = metrics.NewRecorder(nil)
	}
	return &Exchange{
		books:   make(map[string]*orderbook.OrderBook),
		pools:   make(map[string]*amm.Pool),
		logger:  logger,
		metrics: recorder,
		journal: journal,
	}
}

// AddMarket opens an empty order book for pair
func (e *Exchange) AddMarket(pair string) error {
	if pair == "" {
		return fmt.Errorf("market pair cannot be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.books[pair]; ok {
		return fmt.Errorf("market %s: %w", pair, ErrDuplicate)
	}
	e.books[pair] = orderbook.New(pair, e.logger)
	e.logger.Info("market opened", zap.String("pair", pair))
	return nil
}

// AddPool creates a liquidity pool from cfg
func (e *Exchange) AddPool(cfg amm.Config) (*amm.Pool, error) {
	p, err := amm.NewPool(cfg, e.logger)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pools[cfg.ID]; ok {
		return nil, fmt.Errorf("pool %s: %w", cfg.ID, ErrDuplicate)
	}
	e.pools[cfg.ID] = p
	e.order = append(e.order, cfg.ID)
	e.metrics.ObservePool(p.State())
	e.logger.Info("pool added",
		zap.String("pool", cfg.ID),
		zap.String("reserve_a", cfg.ReserveA.String()),
		zap.String("reserve_b", cfg.ReserveB.String()),
		zap.String("fee_rate", cfg.FeeRate.String()),
		zap.Bool("accrue_fees", cfg.AccrueFees),
	)
	return p, nil
}

// Book returns the order book for pair
func (e *Exchange) Book(pair string) (*orderbook.OrderBook, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[pair]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, pair)
	}
	return b, nil
}

// Markets lists the open market pairs, sorted
func (e *Exchange) Markets() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pairs := make([]string, 0, len(e.books))
	for pair := range e.books {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	return pairs
}

// Pool returns the pool registered under id
func (e *Exchange) Pool(id string) (*amm.Pool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, id)
	}
	return p, nil
}

// Pools returns every pool in registration order
func (e *Exchange) Pools() []*amm.Pool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pools := make([]*amm.Pool, 0, len(e.order))
	for _, id := range e.order {
		pools = append(pools, e.pools[id])
	}
	return pools
}

func (e *Exchange) venues() []router.Venue {
	pools := e.Pools()
	venues := make([]router.Venue, len(pools))
	for i, p := range pools {
		venues[i] = p
	}
	return venues
}

// PlaceOrder submits a limit order to the pair's book and journals the resulting trades
func (e *Exchange) PlaceOrder(ctx context.Context, pair string, side models.Side, price, quantity decimal.Decimal, trader string) (models.Execution, error) {
	book, err := e.Book(pair)
	if err != nil {
		return models.Execution{}, err
	}

	exec, err := book.SubmitOrder(side, price, quantity, trader)
	if err != nil {
		if errors.Is(err, orderbook.ErrInvalidOrder) {
			e.metrics.ObserveRejectedOrder(pair)
		}
		return models.Execution{}, err
	}
	e.metrics.ObserveExecution(exec)

	if len(exec.Trades) > 0 {
		e.logger.Info("order matched",
			zap.String("pair", pair),
			zap.Uint64("order_id", exec.Order.ID),
			zap.String("trader", trader),
			zap.Int("trades", len(exec.Trades)),
		)
		if e.journal != nil {
			if err := e.journal.RecordTrades(ctx, exec.Trades); err != nil {
				e.logger.Error("failed to journal trades", zap.String("pair", pair), zap.Error(err))
			}
		}
	}
	return exec, nil
}

// QuoteSwap prices buying amountAOut of A from one pool
func (e *Exchange) QuoteSwap(poolID string, amountAOut decimal.Decimal) (models.Quote, error) {
	p, err := e.Pool(poolID)
	if err != nil {
		return models.Quote{}, err
	}
	return p.Quote(amountAOut)
}

// Swap buys amountAOut of A from one pool. A positive maxAmountIn caps what the
// trader pays, fee included.
func (e *Exchange) Swap(ctx context.Context, poolID string, amountAOut, maxAmountIn decimal.Decimal, trader string) (models.Quote, error) {
	p, err := e.Pool(poolID)
	if err != nil {
		return models.Quote{}, err
	}

	var q models.Quote
	if maxAmountIn.IsPositive() {
		q, err = p.SwapWithLimit(amountAOut, maxAmountIn)
	} else {
		q, err = p.Swap(amountAOut)
	}
	if err != nil {
		e.metrics.ObserveRejectedSwap(poolID)
		return models.Quote{}, err
	}
	e.metrics.ObserveSwap(q, p.State())

	e.logger.Info("swap executed",
		zap.String("pool", poolID),
		zap.String("trader", trader),
		zap.String("amount_out", q.AmountOut.String()),
		zap.String("amount_in", q.AmountInWithFee.String()),
		zap.String("price_impact_percent", q.PriceImpactPercent.StringFixed(4)),
	)
	if e.journal != nil {
		rec := models.SwapRecord{ID: uuid.New(), PoolID: poolID, Trader: trader, Quote: q, ExecutedAt: time.Now()}
		if err := e.journal.RecordSwap(ctx, rec); err != nil {
			e.logger.Error("failed to journal swap", zap.String("pool", poolID), zap.Error(err))
		}
	}
	return q, nil
}

// BestQuote finds the cheapest single pool for amountAOut
func (e *Exchange) BestQuote(amountAOut decimal.Decimal) (models.VenueQuote, error) {
	return router.BestSingleVenue(e.venues(), amountAOut)
}

// SplitQuote spreads amountAOut across every pool by liquidity
func (e *Exchange) SplitQuote(amountAOut decimal.Decimal) (models.SplitPlan, error) {
	return router.ProportionalSplit(e.venues(), amountAOut)
}

// CompareRoutes puts the best single pool next to the split
func (e *Exchange) CompareRoutes(amountAOut decimal.Decimal) (models.RouteComparison, error) {
	return router.Compare(e.venues(), amountAOut)
}

// MarketSnapshot is the observable state of one order book
type MarketSnapshot struct {
	Pair      string              `json:"pair"`
	Bids      []models.PriceLevel `json:"bids"`
	Asks      []models.PriceLevel `json:"asks"`
	Spread    *models.Spread      `json:"spread,omitempty"`
	LastTrade *models.Trade       `json:"last_trade,omitempty"`
}

// Snapshot is everything observers are shown
type Snapshot struct {
	Markets []MarketSnapshot   `json:"markets"`
	Pools   []models.PoolState `json:"pools"`
}

// MarketSnapshot returns depth levels per side, spread and last trade of pair
func (e *Exchange) MarketSnapshot(pair string, depth int) (MarketSnapshot, error) {
	book, err := e.Book(pair)
	if err != nil {
		return MarketSnapshot{}, err
	}
	snap := MarketSnapshot{Pair: pair}
	snap.Bids, snap.Asks = book.Depth(depth)
	if s, ok := book.Spread(); ok {
		snap.Spread = &s
	}
	if t, ok := book.LastTrade(); ok {
		snap.LastTrade = &t
	}
	return snap, nil
}

// Snapshot captures every market and pool
func (e *Exchange) Snapshot(depth int) Snapshot {
	var snap Snapshot
	for _, pair := range e.Markets() {
		m, err := e.MarketSnapshot(pair, depth)
		if err != nil {
			continue
		}
		snap.Markets = append(snap.Markets, m)
	}
	for _, p := range e.Pools() {
		snap.Pools = append(snap.Pools, p.State())
	}
	return snap
}
