package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xtrntr/dexsim/internal/models"
)

// Recorder holds the exchange's Prometheus collectors
type Recorder struct {
	OrdersSubmitted *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	TradesTotal     *prometheus.CounterVec
	TradeVolume     *prometheus.CounterVec
	SwapsTotal      *prometheus.CounterVec
	SwapsRejected   *prometheus.CounterVec
	PriceImpact     *prometheus.HistogramVec
	ReserveA        *prometheus.GaugeVec
	ReserveB        *prometheus.GaugeVec
}

// NewRecorder creates the collectors and registers them with reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexsim_orders_submitted_total",
			Help: "Orders accepted by an order book.",
		}, []string{"pair", "side"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexsim_orders_rejected_total",
			Help: "Orders refused before reaching the book.",
		}, []string{"pair"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexsim_trades_total",
			Help: "Trades produced by matching.",
		}, []string{"pair"}),
		TradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexsim_trade_volume_total",
			Help: "Base quantity traded.",
		}, []string{"pair"}),
		SwapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexsim_swaps_total",
			Help: "Swaps executed against a pool.",
		}, []string{"pool"}),
		SwapsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexsim_swaps_rejected_total",
			Help: "Swaps refused by a pool.",
		}, []string{"pool"}),
		PriceImpact: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dexsim_swap_price_impact_percent",
			Help:    "Absolute price impact of executed swaps in percent.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 25, 50},
		}, []string{"pool"}),
		ReserveA: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dexsim_pool_reserve_a",
			Help: "Current reserve of asset A.",
		}, []string{"pool"}),
		ReserveB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dexsim_pool_reserve_b",
			Help: "Current reserve of asset B.",
		}, []string{"pool"}),
	}
	if reg != nil {
		reg.MustRegister(
			r.OrdersSubmitted, r.OrdersRejected, r.TradesTotal, r.TradeVolume,
			r.SwapsTotal, r.SwapsRejected, r.PriceImpact, r.ReserveA, r.ReserveB,
		)
	}
	return r
}

// ObserveExecution records an accepted order and the trades it produced
func (r *Recorder) ObserveExecution(exec models.Execution) {
	pair := exec.Order.Pair
	r.OrdersSubmitted.WithLabelValues(pair, string(exec.Order.Side)).Inc()
	for _, t := range exec.Trades {
		r.TradesTotal.WithLabelValues(pair).Inc()
		r.TradeVolume.WithLabelValues(pair).Add(t.Quantity.InexactFloat64())
	}
}

// ObserveRejectedOrder counts an order the pair's book refused
func (r *Recorder) ObserveRejectedOrder(pair string) {
	r.OrdersRejected.WithLabelValues(pair).Inc()
}

// ObserveSwap records an executed swap and the pool's reserves after it
func (r *Recorder) ObserveSwap(q models.Quote, state models.PoolState) {
	r.SwapsTotal.WithLabelValues(q.PoolID).Inc()
	r.PriceImpact.WithLabelValues(q.PoolID).Observe(q.PriceImpactPercent.Abs().InexactFloat64())
	r.ObservePool(state)
}

// ObserveRejectedSwap counts a swap the pool refused
func (r *Recorder) ObserveRejectedSwap(poolID string) {
	r.SwapsRejected.WithLabelValues(poolID).Inc()
}

// ObservePool sets the reserve gauges
func (r *Recorder) ObservePool(state models.PoolState) {
	r.ReserveA.WithLabelValues(state.ID).Set(state.ReserveA.InexactFloat64())
	r.ReserveB.WithLabelValues(state.ID).Set(state.ReserveB.InexactFloat64())
}
