// Package amm prices and executes swaps against constant-product liquidity pools.
package amm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/dexsim/internal/models"
)

var (
	ErrInvalidPool           = errors.New("invalid pool")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSlippageExceeded      = errors.New("slippage tolerance exceeded")
)

// divisionPlaces is the scale kept by every division in the pricing math
const divisionPlaces = 18

var (
	one         = decimal.NewFromInt(1)
	hundred     = decimal.NewFromInt(100)
	bpsPerWhole = decimal.NewFromInt(10_000)
	ulp         = decimal.New(1, -divisionPlaces)
)

// Config describes a pool at construction time
type Config struct {
	ID       string
	TokenA   string
	TokenB   string
	ReserveA decimal.Decimal
	ReserveB decimal.Decimal
	FeeRate  decimal.Decimal
	// AccrueFees deposits the trader's fee into the input reserve, letting k grow.
	// Off by default: the fee is charged but k stays constant across swaps.
	AccrueFees bool
}

// Pool is a two-asset constant-product market maker. k is always derived
// from the current reserves.
type Pool struct {
	mu         sync.RWMutex
	id         string
	tokenA     string
	tokenB     string
	reserveA   decimal.Decimal
	reserveB   decimal.Decimal
	feeRate    decimal.Decimal
	accrueFees bool
	logger     *zap.Logger
}

// NewPool validates cfg and creates a pool
func NewPool(cfg Config, logger *zap.Logger) (*Pool, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidPool)
	}
	if !cfg.ReserveA.IsPositive() || !cfg.ReserveB.IsPositive() {
		return nil, fmt.Errorf("%w: reserves must be positive, got %s/%s", ErrInvalidPool, cfg.ReserveA, cfg.ReserveB)
	}
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("%w: fee rate must be in [0,1), got %s", ErrInvalidPool, cfg.FeeRate)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		id:         cfg.ID,
		tokenA:     cfg.TokenA,
		tokenB:     cfg.TokenB,
		reserveA:   cfg.ReserveA,
		reserveB:   cfg.ReserveB,
		feeRate:    cfg.FeeRate,
		accrueFees: cfg.AccrueFees,
		logger:     logger.With(zap.String("pool", cfg.ID)),
	}, nil
}

// ID returns the pool's identifier
func (p *Pool) ID() string { return p.id }

// ReserveA returns the current reserve of asset A
func (p *Pool) ReserveA() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reserveA
}

// ReserveB returns the current reserve of asset B
func (p *Pool) ReserveB() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reserveB
}

// K returns reserveA * reserveB
func (p *Pool) K() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reserveA.Mul(p.reserveB)
}

// PriceAInB is how much B one unit of A costs at the margin
func (p *Pool) PriceAInB() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return div(p.reserveB, p.reserveA)
}

// PriceBInA is how much A one unit of B costs at the margin
func (p *Pool) PriceBInA() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return div(p.reserveA, p.reserveB)
}

// State returns a snapshot for observers
func (p *Pool) State() models.PoolState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return models.PoolState{
		ID:         p.id,
		TokenA:     p.tokenA,
		TokenB:     p.tokenB,
		ReserveA:   p.reserveA,
		ReserveB:   p.reserveB,
		K:          p.reserveA.Mul(p.reserveB),
		FeeRate:    p.feeRate,
		AccrueFees: p.accrueFees,
		PriceAInB:  div(p.reserveB, p.reserveA),
		PriceBInA:  div(p.reserveA, p.reserveB),
	}
}

// Quote prices buying amountAOut of A with B without touching the reserves
func (p *Pool) Quote(amountAOut decimal.Decimal) (models.Quote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.quote(models.BuyA, amountAOut)
}

// QuoteSell prices buying amountBOut of B with A, i.e. selling A into the pool
func (p *Pool) QuoteSell(amountBOut decimal.Decimal) (models.Quote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.quote(models.BuyB, amountBOut)
}

// Swap buys amountAOut of A and commits the new reserves
func (p *Pool) Swap(amountAOut decimal.Decimal) (models.Quote, error) {
	return p.swap(models.BuyA, amountAOut, decimal.Decimal{}, false)
}

// SwapSell buys amountBOut of B and commits the new reserves
func (p *Pool) SwapSell(amountBOut decimal.Decimal) (models.Quote, error) {
	return p.swap(models.BuyB, amountBOut, decimal.Decimal{}, false)
}

// SwapWithLimit is Swap that refuses to charge more than maxAmountIn (fee included)
func (p *Pool) SwapWithLimit(amountAOut, maxAmountIn decimal.Decimal) (models.Quote, error) {
	return p.swap(models.BuyA, amountAOut, maxAmountIn, true)
}

func (p *Pool) swap(dir models.Direction, amountOut, maxIn decimal.Decimal, limited bool) (models.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q, err := p.quote(dir, amountOut)
	if err != nil {
		return models.Quote{}, err
	}
	if limited && q.AmountInWithFee.GreaterThan(maxIn) {
		return models.Quote{}, fmt.Errorf("%w: requires %s, limit %s", ErrSlippageExceeded, q.AmountInWithFee, maxIn)
	}

	p.reserveA, p.reserveB = q.NewReserveA, q.NewReserveB
	if p.accrueFees {
		if dir == models.BuyA {
			p.reserveB = p.reserveB.Add(q.Fee)
		} else {
			p.reserveA = p.reserveA.Add(q.Fee)
		}
	}

	p.logger.Debug("swap executed",
		zap.String("direction", string(dir)),
		zap.String("amount_out", amountOut.String()),
		zap.String("amount_in", q.AmountInWithFee.String()),
		zap.String("price_after", q.PriceAfter.String()),
	)
	return q, nil
}

// quote does the constant-product math. Callers hold at least the read lock.
func (p *Pool) quote(dir models.Direction, amountOut decimal.Decimal) (models.Quote, error) {
	if !amountOut.IsPositive() {
		return models.Quote{}, fmt.Errorf("%w: amount out must be positive, got %s", ErrInvalidAmount, amountOut)
	}
	if !amountOut.Equal(amountOut.Truncate(divisionPlaces)) {
		return models.Quote{}, fmt.Errorf("%w: amount out %s has more than %d decimal places", ErrInvalidAmount, amountOut, divisionPlaces)
	}

	outReserve, inReserve := p.reserveA, p.reserveB
	if dir == models.BuyB {
		outReserve, inReserve = p.reserveB, p.reserveA
	}
	if amountOut.GreaterThanOrEqual(outReserve) {
		return models.Quote{}, fmt.Errorf("%w: pool %s holds %s, requested %s", ErrInsufficientLiquidity, p.id, outReserve, amountOut)
	}

	k := outReserve.Mul(inReserve)
	newOut := outReserve.Sub(amountOut)
	newIn := divUp(k, newOut)
	required := newIn.Sub(inReserve)
	if !required.IsPositive() {
		return models.Quote{}, fmt.Errorf("%w: amount out %s is too small to price", ErrInvalidAmount, amountOut)
	}
	withFee := required.Mul(one.Add(p.feeRate))

	newA, newB := newOut, newIn
	if dir == models.BuyB {
		newA, newB = newIn, newOut
	}
	before := div(p.reserveB, p.reserveA)
	after := div(newB, newA)
	if (dir == models.BuyA && !after.GreaterThan(before)) || (dir == models.BuyB && !after.LessThan(before)) {
		return models.Quote{}, fmt.Errorf("%w: amount out %s does not move the price of pool %s", ErrInvalidAmount, amountOut, p.id)
	}

	return models.Quote{
		PoolID:             p.id,
		Direction:          dir,
		AmountOut:          amountOut,
		AmountInRequired:   required,
		AmountInWithFee:    withFee,
		Fee:                withFee.Sub(required),
		NewReserveA:        newA,
		NewReserveB:        newB,
		PriceBefore:        before,
		PriceAfter:         after,
		PriceImpactPercent: div(after.Sub(before), before).Mul(hundred),
		EffectivePrice:     div(withFee, amountOut),
		Slippage:           after.Sub(before),
	}, nil
}

// MaxAmountIn turns a quoted input and a tolerance in basis points into
// the most a swap may charge
func MaxAmountIn(quoted decimal.Decimal, toleranceBps int64) decimal.Decimal {
	return quoted.Mul(one.Add(decimal.NewFromInt(toleranceBps).Div(bpsPerWhole)))
}

func div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, divisionPlaces)
}

// divUp is div rounded toward +infinity for positive operands. Pool inputs use
// it so rounding never undercharges the trader.
func divUp(a, b decimal.Decimal) decimal.Decimal {
	q, r := a.QuoRem(b, divisionPlaces)
	if r.IsZero() {
		return q
	}
	return q.Add(ulp)
}
