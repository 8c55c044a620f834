// Package router compares and splits exact-output requests across pools that
// quote the same pair.
package router

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/dexsim/internal/amm"
	"github.com/xtrntr/dexsim/internal/models"
)

// ErrNoLiquidity is returned when no venue, or not every leg of a split, can fill
// the request. It wraps amm.ErrInsufficientLiquidity.
var ErrNoLiquidity = fmt.Errorf("no venue can fill request: %w", amm.ErrInsufficientLiquidity)

const sharePlaces = 18

// Venue is a pool the router can quote against
type Venue interface {
	ID() string
	ReserveA() decimal.Decimal
	Quote(amountAOut decimal.Decimal) (models.Quote, error)
}

// RankQuotes quotes every venue and returns the liquid ones, cheapest first.
// Illiquid venues are skipped; any other quote error is returned.
func RankQuotes(venues []Venue, amountAOut decimal.Decimal) ([]models.VenueQuote, error) {
	var quotes []models.VenueQuote
	for _, v := range venues {
		q, err := v.Quote(amountAOut)
		if errors.Is(err, amm.ErrInsufficientLiquidity) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to quote %s: %w", v.ID(), err)
		}
		quotes = append(quotes, models.VenueQuote{PoolID: v.ID(), Quote: q})
	}
	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].Quote.AmountInWithFee.LessThan(quotes[j].Quote.AmountInWithFee)
	})
	return quotes, nil
}

// BestSingleVenue returns the venue charging the least, fee included, for amountAOut
func BestSingleVenue(venues []Venue, amountAOut decimal.Decimal) (models.VenueQuote, error) {
	quotes, err := RankQuotes(venues, amountAOut)
	if err != nil {
		return models.VenueQuote{}, err
	}
	if len(quotes) == 0 {
		return models.VenueQuote{}, fmt.Errorf("%w: %s across %d venues", ErrNoLiquidity, amountAOut, len(venues))
	}
	return quotes[0], nil
}

// ProportionalSplit allocates amountAOut to each venue in proportion to its reserve
// of A and quotes every leg. The last venue with a positive leg takes the remainder
// so the legs sum to amountAOut exactly. Legs that round to nothing, or are too
// small for their venue to price, are folded into that remainder. This spreads
// price impact; it does not minimize cost.
func ProportionalSplit(venues []Venue, amountAOut decimal.Decimal) (models.SplitPlan, error) {
	if !amountAOut.IsPositive() {
		return models.SplitPlan{}, fmt.Errorf("%w: amount out must be positive, got %s", amm.ErrInvalidAmount, amountAOut)
	}
	if len(venues) == 0 {
		return models.SplitPlan{}, fmt.Errorf("%w: no venues", ErrNoLiquidity)
	}

	reserves := make([]decimal.Decimal, len(venues))
	total := decimal.Zero
	for i, v := range venues {
		reserves[i] = v.ReserveA()
		total = total.Add(reserves[i])
	}
	if !total.IsPositive() {
		return models.SplitPlan{}, fmt.Errorf("%w: venues hold no liquidity", ErrNoLiquidity)
	}

	shares := make([]decimal.Decimal, len(venues))
	amounts := make([]decimal.Decimal, len(venues))
	last, deepest := -1, 0
	for i := range venues {
		shares[i] = reserves[i].DivRound(total, sharePlaces)
		amounts[i] = shares[i].Mul(amountAOut).Truncate(sharePlaces)
		if amounts[i].IsPositive() {
			last = i
		}
		if reserves[i].GreaterThan(reserves[deepest]) {
			deepest = i
		}
	}
	// nothing rounded to a positive leg, the deepest venue takes it all
	if last < 0 {
		last = deepest
	}

	plan := models.SplitPlan{
		Allocations:    make([]models.Allocation, 0, len(venues)),
		TotalAmountOut: decimal.Zero,
		TotalAmountIn:  decimal.Zero,
	}
	for i, v := range venues {
		amount := amounts[i]
		if i == last {
			amount = amountAOut.Sub(plan.TotalAmountOut)
		} else if !amount.IsPositive() {
			continue
		}

		q, err := v.Quote(amount)
		if i != last && errors.Is(err, amm.ErrInvalidAmount) {
			continue
		}
		if errors.Is(err, amm.ErrInsufficientLiquidity) {
			return models.SplitPlan{}, fmt.Errorf("%w: leg %s of %s on %s", ErrNoLiquidity, amount, amountAOut, v.ID())
		}
		if err != nil {
			return models.SplitPlan{}, fmt.Errorf("failed to quote %s: %w", v.ID(), err)
		}

		plan.Allocations = append(plan.Allocations, models.Allocation{
			PoolID:    v.ID(),
			Share:     shares[i],
			AmountOut: amount,
			AmountIn:  q.AmountInWithFee,
			Quote:     q,
		})
		plan.TotalAmountOut = plan.TotalAmountOut.Add(amount)
		plan.TotalAmountIn = plan.TotalAmountIn.Add(q.AmountInWithFee)
	}
	plan.EffectivePrice = plan.TotalAmountIn.DivRound(plan.TotalAmountOut, sharePlaces)
	return plan, nil
}

// Compare returns the best single venue, the proportional split and what the split saves
func Compare(venues []Venue, amountAOut decimal.Decimal) (models.RouteComparison, error) {
	best, err := BestSingleVenue(venues, amountAOut)
	if err != nil {
		return models.RouteComparison{}, err
	}
	split, err := ProportionalSplit(venues, amountAOut)
	if err != nil {
		return models.RouteComparison{}, err
	}
	return models.RouteComparison{
		Best:    best,
		Split:   split,
		Savings: best.Quote.AmountInWithFee.Sub(split.TotalAmountIn),
	}, nil
}
