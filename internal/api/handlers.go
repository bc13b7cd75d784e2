package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xtrntr/brokerage/internal/auth"
	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/engine"
	"github.com/xtrntr/brokerage/internal/market"
	"github.com/xtrntr/brokerage/internal/models"

	"go.uber.org/zap"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Engine      *engine.Engine
	Clock       *market.Clock
	AuthService *auth.AuthService
	Log         *zap.Logger

	// Polygon prev-day quote proxy. The engine never touches this;
	// it exists only for the HTTP surface.
	PolygonKey     string
	PolygonBaseURL string
	HTTPClient     *http.Client
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, eng *engine.Engine, clock *market.Clock, authService *auth.AuthService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		DB:          database,
		Engine:      eng,
		Clock:       clock,
		AuthService: authService,
		Log:         log,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP status codes:
// 404 unknown entity, 409 duplicate, 400 validation or business-rule
// failure, 500 anything unexpected.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, models.ErrInvalidArgument),
		errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrInsufficientShares):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.Log.Error("request failed", zap.Error(err))
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName string `json:"full_name"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.FullName, req.Username, req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const userIDKey contextKey = "user_id"

func userFromContext(r *http.Request) (int, bool) {
	userID, ok := r.Context().Value(userIDKey).(int)
	return userID, ok
}

// GetCash returns the authenticated user's balance
func (h *Handler) GetCash(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	balance, err := h.DB.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "balance": balance})
}

// Deposit credits the authenticated user's cash account
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.cashOp(w, r, h.DB.Deposit)
}

// Withdraw debits the authenticated user's cash account
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.cashOp(w, r, h.DB.Withdraw)
}

func (h *Handler) cashOp(w http.ResponseWriter, r *http.Request, op func(context.Context, int, float64) (float64, error)) {
	userID, ok := userFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	balance, err := op(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "balance": balance})
}

// CreateStock registers a new instrument
func (h *Handler) CreateStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyName  string  `json:"company_name"`
		Ticker       string  `json:"ticker"`
		TotalShares  float64 `json:"total_shares"`
		InitialPrice float64 `json:"initial_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	stock, err := h.DB.CreateStock(r.Context(), req.CompanyName, req.Ticker, req.TotalShares, req.InitialPrice)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stock)
}

// ListStocks returns all instruments
func (h *Handler) ListStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.DB.ListStocks(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if stocks == nil {
		stocks = []models.Stock{}
	}
	writeJSON(w, http.StatusOK, stocks)
}

// GetStock returns one instrument by ticker
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.DB.GetStock(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

// SimulatePrice sets a new market price and re-evaluates that ticker's
// pending orders.
func (h *Handler) SimulatePrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticker   string  `json:"ticker"`
		NewPrice float64 `json:"new_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.Engine.UpdatePrice(r.Context(), req.Ticker, req.NewPrice); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticker": req.Ticker, "price": req.NewPrice})
}

// PlaceOrder handles order placement and synchronous execution
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Ticker   string   `json:"ticker"`
		Quantity float64  `json:"quantity"`
		Side     string   `json:"side"`
		Type     string   `json:"type"`
		Price    *float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = string(models.TypeMarket)
	}

	order, err := h.Engine.PlaceOrder(r.Context(), userID, req.Ticker, req.Quantity,
		models.OrderSide(req.Side), models.OrderType(req.Type), req.Price)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// GetUserOrders retrieves the authenticated user's orders, optionally
// filtered by ?status=.
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var status *models.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := models.OrderStatus(s)
		if !st.Valid() {
			http.Error(w, `{"error": "Invalid status"}`, http.StatusBadRequest)
			return
		}
		status = &st
	}

	orders, err := h.DB.ListOrders(r.Context(), &userID, status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelOrder cancels a pending order owned by the authenticated user.
// Cancelling a non-pending or unknown order is not an error; the
// response just says cancelled: false.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orderID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "Invalid order ID"}`, http.StatusBadRequest)
		return
	}

	order, err := h.DB.GetOrder(r.Context(), orderID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		h.writeError(w, err)
		return
	}
	if order == nil || order.UserID != userID {
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": false})
		return
	}

	cancelled, err := h.Engine.CancelOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// GetPortfolio retrieves the authenticated user's holdings
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	portfolio, err := h.DB.GetPortfolio(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// GetTransactions retrieves the authenticated user's transaction history
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	txs, err := h.DB.ListTransactions(r.Context(), &userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// ListAllTransactions is the admin view across every user
func (h *Handler) ListAllTransactions(w http.ResponseWriter, r *http.Request) {
	var userID *int
	if s := r.URL.Query().Get("user_id"); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, `{"error": "Invalid user_id"}`, http.StatusBadRequest)
			return
		}
		userID = &id
	}

	txs, err := h.DB.ListTransactions(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// MarketStatus reports whether the market is open right now, plus the
// configured session.
func (h *Handler) MarketStatus(w http.ResponseWriter, r *http.Request) {
	ms, err := h.DB.GetMarketSettings(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	open, err := h.Clock.IsOpen(r.Context(), time.Now())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"open":       open,
		"open_time":  ms.OpenTime,
		"close_time": ms.CloseTime,
		"holidays":   ms.Holidays,
	})
}

// SetMarketHours updates the trading session times
func (h *Handler) SetMarketHours(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Open  string `json:"open"`
		Close string `json:"close"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.Clock.SetHours(r.Context(), req.Open, req.Close); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"open": req.Open, "close": req.Close})
}

// SetHolidays replaces the holiday set
func (h *Handler) SetHolidays(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dates []string `json:"dates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.Clock.SetHolidays(r.Context(), req.Dates); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"holidays": req.Dates})
}

// TriggerPending sweeps every pending order through the engine, used
// after market-hours changes.
func (h *Handler) TriggerPending(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.TriggerAll(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"triggered": true})
}

// PrevDayQuote is a pass-through proxy to Polygon's previous-day
// aggregate. The ledger core never calls this.
func (h *Handler) PrevDayQuote(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(r.URL.Query().Get("ticker"))
	if ticker == "" {
		http.Error(w, `{"error": "ticker query parameter required"}`, http.StatusBadRequest)
		return
	}
	if h.PolygonKey == "" {
		http.Error(w, `{"error": "quote provider not configured"}`, http.StatusInternalServerError)
		return
	}

	url := fmt.Sprintf("%s/v2/aggs/ticker/%s/prev", h.PolygonBaseURL, ticker)
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		h.writeError(w, err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+h.PolygonKey)

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		http.Error(w, `{"error": "quote provider unavailable"}`, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
