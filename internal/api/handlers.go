package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/dexsim/internal/amm"
	"github.com/xtrntr/dexsim/internal/auth"
	"github.com/xtrntr/dexsim/internal/exchange"
	"github.com/xtrntr/dexsim/internal/models"
	"github.com/xtrntr/dexsim/internal/orderbook"
	"github.com/xtrntr/dexsim/internal/router"
)

const defaultDepth = 10

type contextKey string

const traderKey contextKey = "trader"

// TradeHistory reads journaled trades back for a trader
type TradeHistory interface {
	GetTraderTrades(ctx context.Context, trader string) ([]models.Trade, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Exchange    *exchange.Exchange
	AuthService *auth.AuthService
	History     TradeHistory // nil when running without a database
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(ex *exchange.Exchange, authService *auth.AuthService, history TradeHistory, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Exchange:    ex,
		AuthService: authService,
		History:     history,
		validate:    validate,
		logger:      logger,
	}
}

// Routes mounts every API endpoint on r
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Get("/markets", h.ListMarkets)
	r.Get("/markets/{pair}/book", h.GetOrderBook)
	r.Get("/markets/{pair}/spread", h.GetSpread)
	r.Get("/markets/{pair}/trades", h.GetMarketTrades)

	r.Get("/pools", h.ListPools)
	r.Get("/pools/{id}/quote", h.QuotePool)

	r.Get("/route/best", h.BestRoute)
	r.Get("/route/split", h.SplitRoute)
	r.Get("/route/compare", h.CompareRoute)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/markets/{pair}/orders", h.PlaceOrder)
		r.Post("/pools/{id}/swap", h.Swap)
		r.Get("/me/trades", h.MyTrades)
	})
}

type credentials struct {
	Username string `json:"username" validate:"required,max=50"`
	Password string `json:"password" validate:"required,max=72"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, http.StatusConflict, "Username already taken")
			return
		}
		h.logger.Error("failed to register user", zap.String("username", req.Username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Error("login failed", zap.String("username", req.Username), zap.Error(err))
		}
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens and puts the trader in the request context
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		trader, err := h.AuthService.GetTraderFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), traderKey, trader)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TraderFromContext returns the trader set by JWTAuthMiddleware
func TraderFromContext(ctx context.Context) (string, bool) {
	trader, ok := ctx.Value(traderKey).(string)
	return trader, ok && trader != ""
}

type orderRequest struct {
	Side     string      `json:"side" validate:"required,oneof=buy sell"`
	Price    json.Number `json:"price" validate:"required,numeric"`
	Quantity json.Number `json:"quantity" validate:"required,numeric"`
}

// PlaceOrder submits a limit order to a market
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	trader, ok := TraderFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req orderRequest
	if !h.decode(w, r, &req) {
		return
	}
	price, err := decimal.NewFromString(req.Price.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price")
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quantity")
		return
	}

	exec, err := h.Exchange.PlaceOrder(r.Context(), chi.URLParam(r, "pair"), models.Side(req.Side), price, quantity, trader)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exec)
}

// ListMarkets lists the open markets
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Exchange.Markets())
}

// GetOrderBook returns aggregated depth, spread and last trade of a market
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	depth := defaultDepth
	if s := r.URL.Query().Get("depth"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "depth must be a positive integer")
			return
		}
		depth = n
	}

	snap, err := h.Exchange.MarketSnapshot(chi.URLParam(r, "pair"), depth)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetSpread returns the top of a market's book
func (h *Handler) GetSpread(w http.ResponseWriter, r *http.Request) {
	book, err := h.Exchange.Book(chi.URLParam(r, "pair"))
	if err != nil {
		h.fail(w, err)
		return
	}
	spread, ok := book.Spread()
	if !ok {
		writeError(w, http.StatusNotFound, "Book has no bid or no ask")
		return
	}
	writeJSON(w, http.StatusOK, spread)
}

// GetMarketTrades returns a market's trade tape, oldest first. limit keeps the newest n.
func (h *Handler) GetMarketTrades(w http.ResponseWriter, r *http.Request) {
	book, err := h.Exchange.Book(chi.URLParam(r, "pair"))
	if err != nil {
		h.fail(w, err)
		return
	}
	trades := book.Trades()
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < len(trades) {
			trades = trades[len(trades)-n:]
		}
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// MyTrades returns the journaled trades of the authenticated trader
func (h *Handler) MyTrades(w http.ResponseWriter, r *http.Request) {
	trader, ok := TraderFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if h.History == nil {
		writeError(w, http.StatusServiceUnavailable, "Trade history requires a database")
		return
	}

	trades, err := h.History.GetTraderTrades(r.Context(), trader)
	if err != nil {
		h.logger.Error("failed to retrieve trades", zap.String("trader", trader), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve trades")
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// ListPools returns the state of every pool
func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools := h.Exchange.Pools()
	states := make([]models.PoolState, len(pools))
	for i, p := range pools {
		states[i] = p.State()
	}
	writeJSON(w, http.StatusOK, states)
}

// QuotePool prices buying ?amount= of A from one pool without executing
func (h *Handler) QuotePool(w http.ResponseWriter, r *http.Request) {
	amount, ok := amountParam(w, r)
	if !ok {
		return
	}
	q, err := h.Exchange.QuoteSwap(chi.URLParam(r, "id"), amount)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type swapRequest struct {
	AmountOut   json.Number `json:"amount_out" validate:"required,numeric"`
	MaxAmountIn json.Number `json:"max_amount_in" validate:"omitempty,numeric"`
	SlippageBps *int64      `json:"slippage_bps" validate:"omitempty,min=0,max=10000"`
}

// Swap buys amount_out of A from one pool. max_amount_in caps the cost; without
// it, slippage_bps derives the cap from a fresh quote.
func (h *Handler) Swap(w http.ResponseWriter, r *http.Request) {
	trader, ok := TraderFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req swapRequest
	if !h.decode(w, r, &req) {
		return
	}
	amountOut, err := decimal.NewFromString(req.AmountOut.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount_out")
		return
	}

	poolID := chi.URLParam(r, "id")
	var maxIn decimal.Decimal
	switch {
	case req.MaxAmountIn != "":
		maxIn, err = decimal.NewFromString(req.MaxAmountIn.String())
		if err != nil || !maxIn.IsPositive() {
			writeError(w, http.StatusBadRequest, "max_amount_in must be positive")
			return
		}
	case req.SlippageBps != nil:
		q, err := h.Exchange.QuoteSwap(poolID, amountOut)
		if err != nil {
			h.fail(w, err)
			return
		}
		maxIn = amm.MaxAmountIn(q.AmountInWithFee, *req.SlippageBps)
	}

	q, err := h.Exchange.Swap(r.Context(), poolID, amountOut, maxIn, trader)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// BestRoute returns the cheapest single pool for ?amount=
func (h *Handler) BestRoute(w http.ResponseWriter, r *http.Request) {
	amount, ok := amountParam(w, r)
	if !ok {
		return
	}
	best, err := h.Exchange.BestQuote(amount)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, best)
}

// SplitRoute spreads ?amount= across all pools by liquidity
func (h *Handler) SplitRoute(w http.ResponseWriter, r *http.Request) {
	amount, ok := amountParam(w, r)
	if !ok {
		return
	}
	plan, err := h.Exchange.SplitQuote(amount)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// CompareRoute puts the best single pool next to the split for ?amount=
func (h *Handler) CompareRoute(w http.ResponseWriter, r *http.Request) {
	amount, ok := amountParam(w, r)
	if !ok {
		return
	}
	cmp, err := h.Exchange.CompareRoutes(amount)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func amountParam(w http.ResponseWriter, r *http.Request) (decimal.Decimal, bool) {
	s := r.URL.Query().Get("amount")
	if s == "" {
		writeError(w, http.StatusBadRequest, "amount is required")
		return decimal.Decimal{}, false
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal number")
		return decimal.Decimal{}, false
	}
	return amount, true
}

// decode reads and validates a JSON body, writing a 400 on failure
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeError(w, http.StatusBadRequest, "Invalid field "+fe.Field()+": "+fe.Tag())
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// fail maps engine errors onto HTTP statuses
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, status, "Internal error")
		return
	}
	writeError(w, status, err.Error())
}

// StatusFor returns the HTTP status for an engine error
func StatusFor(err error) int {
	switch {
	case errors.Is(err, orderbook.ErrInvalidOrder), errors.Is(err, amm.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, exchange.ErrUnknownMarket), errors.Is(err, exchange.ErrUnknownPool):
		return http.StatusNotFound
	case errors.Is(err, router.ErrNoLiquidity), errors.Is(err, amm.ErrInsufficientLiquidity),
		errors.Is(err, amm.ErrSlippageExceeded):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
