package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Side is the direction of an order
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide converts "buy" or "sell" into a Side
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Buy, Sell:
		return Side(s), nil
	}
	return "", fmt.Errorf("side must be 'buy' or 'sell', got %q", s)
}

// Valid reports whether s is Buy or Sell
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Order represents a resting limit order. ID doubles as the arrival sequence.
type Order struct {
	ID        uint64          `json:"id"`
	Pair      string          `json:"pair"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Remaining decimal.Decimal `json:"remaining"`
	Trader    string          `json:"trader"`
	CreatedAt time.Time       `json:"created_at"`
}

// Filled returns how much of the order has been matched
func (o Order) Filled() decimal.Decimal {
	return o.Quantity.Sub(o.Remaining)
}

// Trade represents an executed trade
type Trade struct {
	ID          uuid.UUID       `json:"id"`
	Pair        string          `json:"pair"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	BuyOrderID  uint64          `json:"buy_order_id"`
	SellOrderID uint64          `json:"sell_order_id"`
	Buyer       string          `json:"buyer"`
	Seller      string          `json:"seller"`
	TakerSide   Side            `json:"taker_side"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// Execution is the outcome of submitting an order to a book
type Execution struct {
	Order          Order   `json:"order"`
	Trades         []Trade `json:"trades"`
	RestingOrderID *uint64 `json:"resting_order_id,omitempty"`
}

// Spread describes the top of the book
type Spread struct {
	BestBid       decimal.Decimal `json:"best_bid"`
	BestAsk       decimal.Decimal `json:"best_ask"`
	Spread        decimal.Decimal `json:"spread"`
	SpreadPercent decimal.Decimal `json:"spread_percent"`
}

// PriceLevel aggregates the resting orders at one price
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// Direction says which asset a swap takes out of a pool
type Direction string

const (
	BuyA Direction = "buy_a" // pay B, receive A
	BuyB Direction = "buy_b" // pay A, receive B
)

// Quote is the priced outcome of a swap. PriceBefore and PriceAfter are A in
// terms of B whatever the direction; EffectivePrice is input paid per unit out.
type Quote struct {
	PoolID             string          `json:"pool_id"`
	Direction          Direction       `json:"direction"`
	AmountOut          decimal.Decimal `json:"amount_out"`
	AmountInRequired   decimal.Decimal `json:"amount_in_required"`
	AmountInWithFee    decimal.Decimal `json:"amount_in_with_fee"`
	Fee                decimal.Decimal `json:"fee"`
	NewReserveA        decimal.Decimal `json:"new_reserve_a"`
	NewReserveB        decimal.Decimal `json:"new_reserve_b"`
	PriceBefore        decimal.Decimal `json:"price_before"`
	PriceAfter         decimal.Decimal `json:"price_after"`
	PriceImpactPercent decimal.Decimal `json:"price_impact_percent"`
	EffectivePrice     decimal.Decimal `json:"effective_price"`
	Slippage           decimal.Decimal `json:"slippage"`
}

// PoolState is a read-only snapshot of a liquidity pool
type PoolState struct {
	ID         string          `json:"id"`
	TokenA     string          `json:"token_a"`
	TokenB     string          `json:"token_b"`
	ReserveA   decimal.Decimal `json:"reserve_a"`
	ReserveB   decimal.Decimal `json:"reserve_b"`
	K          decimal.Decimal `json:"k"`
	FeeRate    decimal.Decimal `json:"fee_rate"`
	AccrueFees bool            `json:"accrue_fees"`
	PriceAInB  decimal.Decimal `json:"price_a_in_b"`
	PriceBInA  decimal.Decimal `json:"price_b_in_a"`
}

// VenueQuote is a quote tagged with the pool that produced it
type VenueQuote struct {
	PoolID string `json:"pool_id"`
	Quote  Quote  `json:"quote"`
}

// Allocation is one leg of a split route
type Allocation struct {
	PoolID    string          `json:"pool_id"`
	Share     decimal.Decimal `json:"share"`
	AmountOut decimal.Decimal `json:"amount_out"`
	AmountIn  decimal.Decimal `json:"amount_in"`
	Quote     Quote           `json:"quote"`
}

// SplitPlan spreads one request over several pools
type SplitPlan struct {
	Allocations    []Allocation    `json:"allocations"`
	TotalAmountOut decimal.Decimal `json:"total_amount_out"`
	TotalAmountIn  decimal.Decimal `json:"total_amount_in"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
}

// RouteComparison puts the best single venue next to the split plan.
// Savings is negative when the split costs more.
type RouteComparison struct {
	Best    VenueQuote      `json:"best"`
	Split   SplitPlan       `json:"split"`
	Savings decimal.Decimal `json:"savings"`
}

// SwapRecord is an executed swap as written to the journal
type SwapRecord struct {
	ID         uuid.UUID `json:"id"`
	PoolID     string    `json:"pool_id"`
	Trader     string    `json:"trader"`
	Quote      Quote     `json:"quote"`
	ExecutedAt time.Time `json:"executed_at"`
}
