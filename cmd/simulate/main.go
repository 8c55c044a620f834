// Command simulate replays the order book, CPMM and aggregator walkthroughs
// offline and prints the results.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/dexsim/internal/amm"
	"github.com/xtrntr/dexsim/internal/config"
	"github.com/xtrntr/dexsim/internal/logging"
	"github.com/xtrntr/dexsim/internal/models"
	"github.com/xtrntr/dexsim/internal/orderbook"
	"github.com/xtrntr/dexsim/internal/router"
)

const displayLevels = 5

func main() {
	verbose := flag.Bool("v", false, "log engine events to stderr")
	amount := flag.String("amount", "10", "amount of SOL to route across the pools")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		l, err := logging.New("debug", true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		logger = l
		defer logger.Sync()
	}

	want, err := decimal.NewFromString(*amount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid amount %q: %v\n", *amount, err)
		os.Exit(1)
	}

	if err := run(os.Stdout, logger, want); err != nil {
		fmt.Fprintf(os.Stderr, "Simulation failed: %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, logger *zap.Logger, want decimal.Decimal) error {
	if err := simulateOrderBook(w, logger); err != nil {
		return err
	}
	if err := simulatePool(w, logger); err != nil {
		return err
	}
	if err := simulateSlippage(w, logger); err != nil {
		return err
	}
	return simulateAggregator(w, logger, want)
}

func simulateOrderBook(w io.Writer, logger *zap.Logger) error {
	book := orderbook.New("ETH/USDT", logger)
	orders := []struct {
		side   models.Side
		price  string
		qty    string
		trader string
	}{
		{models.Sell, "135.00", "10", "MarketMaker1"},
		{models.Sell, "134.50", "20", "MarketMaker1"},
		{models.Sell, "134.00", "15", "MarketMaker2"},
		{models.Buy, "133.50", "12", "MarketMaker1"},
		{models.Buy, "133.00", "25", "MarketMaker2"},
		{models.Buy, "132.50", "30", "Trader1"},
	}
	for _, o := range orders {
		if _, err := book.SubmitOrder(o.side, decimal.RequireFromString(o.price), decimal.RequireFromString(o.qty), o.trader); err != nil {
			return err
		}
	}
	printBook(w, book)

	fmt.Fprintf(w, "\n--- Trader2 bids $134 x 10 (crosses MarketMaker2's ask) ---\n")
	exec, err := book.SubmitOrder(models.Buy, decimal.NewFromInt(134), decimal.NewFromInt(10), "Trader2")
	if err != nil {
		return err
	}
	for _, t := range exec.Trades {
		fmt.Fprintf(w, "  trade %s: %s x %s  buyer=%s seller=%s\n", t.ID.String()[:8], t.Price.StringFixed(2), t.Quantity, t.Buyer, t.Seller)
	}
	printBook(w, book)
	return nil
}

func printBook(w io.Writer, book *orderbook.OrderBook) {
	fmt.Fprintf(w, "\n=== ORDERBOOK: %s ===\n", book.Pair())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ASKS (sellers):")
	asks := book.Asks()
	for i := 0; i < len(asks) && i < displayLevels; i++ {
		fmt.Fprintf(tw, "  $%s\t%s\t%s\n", asks[i].Price.StringFixed(2), asks[i].Remaining, asks[i].Trader)
	}
	if s, ok := book.Spread(); ok {
		fmt.Fprintf(tw, "  -- Spread: $%s (%s%%) --\n", s.Spread.StringFixed(2), s.SpreadPercent.StringFixed(3))
	}
	fmt.Fprintln(tw, "BIDS (buyers):")
	bids := book.Bids()
	for i := 0; i < len(bids) && i < displayLevels; i++ {
		fmt.Fprintf(tw, "  $%s\t%s\t%s\n", bids[i].Price.StringFixed(2), bids[i].Remaining, bids[i].Trader)
	}
	tw.Flush()
	if t, ok := book.LastTrade(); ok {
		fmt.Fprintf(w, "Last trade: $%s x %s\n", t.Price.StringFixed(2), t.Quantity)
	}
}

func simulatePool(w io.Writer, logger *zap.Logger) error {
	fmt.Fprintf(w, "\n=== ETH/USDT POOL ===\n")
	pool, err := amm.NewPool(amm.Config{
		ID:       "ETH/USDT",
		TokenA:   "ETH",
		TokenB:   "USDT",
		ReserveA: decimal.NewFromInt(100),
		ReserveB: decimal.NewFromInt(10000),
		FeeRate:  decimal.RequireFromString("0.003"),
	}, logger)
	if err != nil {
		return err
	}
	printPool(w, pool.State())
	for _, trader := range []string{"Trader1", "Trader2"} {
		kBefore := pool.K()
		q, err := pool.Swap(decimal.NewFromInt(10))
		if err != nil {
			return err
		}
		printSwap(w, trader, q, kBefore, pool.State())
		printPool(w, pool.State())
	}
	return nil
}

func simulateSlippage(w io.Writer, logger *zap.Logger) error {
	fmt.Fprintf(w, "\n=== SLIPPAGE: small pool vs large pool ===\n")
	pools := []struct {
		name     string
		reserveA int64
		reserveB int64
	}{
		{"small", 10, 1000},
		{"large", 10000, 1000000},
	}
	for _, p := range pools {
		pool, err := amm.NewPool(amm.Config{
			ID:       p.name,
			TokenA:   "ETH",
			TokenB:   "USDT",
			ReserveA: decimal.NewFromInt(p.reserveA),
			ReserveB: decimal.NewFromInt(p.reserveB),
			FeeRate:  decimal.RequireFromString("0.003"),
		}, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\nBuying 1 ETH from the %s pool (%d ETH):\n", p.name, p.reserveA)
		kBefore := pool.K()
		q, err := pool.Swap(decimal.NewFromInt(1))
		if err != nil {
			return err
		}
		printSwap(w, p.name+"PoolTrader", q, kBefore, pool.State())
	}
	return nil
}

func printPool(w io.Writer, s models.PoolState) {
	fmt.Fprintf(w, "\n--- Pool %s: %s/%s ---\n", s.ID, s.TokenA, s.TokenB)
	fmt.Fprintf(w, "  %s reserve: %s\n", s.TokenA, s.ReserveA.StringFixed(4))
	fmt.Fprintf(w, "  %s reserve: %s\n", s.TokenB, s.ReserveB.StringFixed(4))
	fmt.Fprintf(w, "  k = %s\n", s.K.StringFixed(0))
	fmt.Fprintf(w, "  Price: 1 %s = %s %s\n", s.TokenA, s.PriceAInB.StringFixed(4), s.TokenB)
}

// printSwap reports q against the pool state s after it; kBefore is k before the swap
func printSwap(w io.Writer, trader string, q models.Quote, kBefore decimal.Decimal, s models.PoolState) {
	fmt.Fprintf(w, "\n=== SWAP: %s buys %s %s ===\n", trader, q.AmountOut, s.TokenA)
	fmt.Fprintf(w, "  Pays:         %s %s (fee %s)\n", q.AmountInWithFee.StringFixed(4), s.TokenB, q.Fee.StringFixed(4))
	fmt.Fprintf(w, "  Price before: %s\n", q.PriceBefore.StringFixed(4))
	fmt.Fprintf(w, "  Price after:  %s\n", q.PriceAfter.StringFixed(4))
	fmt.Fprintf(w, "  Price impact: %s%%\n", q.PriceImpactPercent.StringFixed(4))
	fmt.Fprintf(w, "  Slippage:     %s %s per %s\n", q.Slippage.StringFixed(4), s.TokenB, s.TokenA)
	fmt.Fprintf(w, "  k check:      %s (before %s, change %s)\n", s.K.StringFixed(0), kBefore.StringFixed(0), s.K.Sub(kBefore).StringFixed(6))
}

func simulateAggregator(w io.Writer, logger *zap.Logger, want decimal.Decimal) error {
	var venues []router.Venue
	for _, pc := range config.DefaultPools() {
		cfg, err := pc.AMM()
		if err != nil {
			return err
		}
		p, err := amm.NewPool(cfg, logger)
		if err != nil {
			return err
		}
		venues = append(venues, p)
	}

	fmt.Fprintf(w, "\n=== BUYING %s SOL: quotes from %d pools ===\n", want, len(venues))
	quotes, err := router.RankQuotes(venues, want)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, vq := range quotes {
		fmt.Fprintf(tw, "%s\tpay %s USDC\teffective %s USDC/SOL\timpact %s%%\n", vq.PoolID,
			vq.Quote.AmountInWithFee.StringFixed(2), vq.Quote.EffectivePrice.StringFixed(2), vq.Quote.PriceImpactPercent.StringFixed(2))
	}
	tw.Flush()

	cmp, err := router.Compare(venues, want)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nBest single pool: %s, pay %s USDC\n", cmp.Best.PoolID, cmp.Best.Quote.AmountInWithFee.StringFixed(2))

	fmt.Fprintf(w, "\n=== AGGREGATOR SPLIT ===\n")
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, a := range cmp.Split.Allocations {
		fmt.Fprintf(tw, "  %s\tbuy %s SOL\tpay %s USDC\t(%s%% of trade)\n", a.PoolID,
			a.AmountOut.StringFixed(2), a.AmountIn.StringFixed(2), a.Share.Mul(decimal.NewFromInt(100)).StringFixed(1))
	}
	tw.Flush()
	fmt.Fprintf(w, "  Total paid: %s USDC\n", cmp.Split.TotalAmountIn.StringFixed(2))
	fmt.Fprintf(w, "  Saving vs best single pool: %s USDC\n", cmp.Savings.StringFixed(2))
	return nil
}
