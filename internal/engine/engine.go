// Package engine evaluates pending orders against market price and
// account state, and applies fills as single atomic transactions.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/market"
	"github.com/xtrntr/brokerage/internal/models"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Engine is the order execution engine. It has no in-process locks;
// isolation comes entirely from row-level locking inside each database
// transaction, so concurrent calls for the same order degrade to
// no-ops on the losers.
type Engine struct {
	DB    *db.DB
	Clock *market.Clock
	Log   *zap.Logger

	// Now supplies the current instant; overridable in tests.
	Now func() time.Time

	// OnPriceUpdate, if set, is called after a price change commits.
	OnPriceUpdate func(ticker string, price float64)
}

// NewEngine creates an engine over the given store and clock.
func NewEngine(database *db.DB, clock *market.Clock, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{DB: database, Clock: clock, Log: log, Now: time.Now}
}

// AttemptExecute evaluates one order and, if fillable right now,
// performs the fill. Safe to call redundantly: non-pending orders are
// no-ops. A rejected order is terminal and never retried.
func (e *Engine) AttemptExecute(ctx context.Context, orderID int) error {
	tx, err := e.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := e.DB.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order == nil || order.Status != models.StatusPending {
		return nil
	}

	// A closed market defers evaluation; the order stays pending and
	// will be looked at again on the next trigger.
	open, err := e.Clock.IsOpen(ctx, e.Now())
	if err != nil {
		return err
	}
	if !open {
		return nil
	}

	stock, err := e.DB.GetStockForUpdate(ctx, tx, order.Ticker)
	if err != nil {
		return err
	}
	if stock == nil {
		// Defensive: orders require an existing ticker at placement
		// and tickers are never deleted.
		return e.reject(ctx, tx, order, "instrument missing")
	}

	fillPrice, fillable := fillPriceFor(order, stock.Price)
	if !fillable {
		return nil
	}

	switch order.Side {
	case models.SideBuy:
		if err := e.executeBuy(ctx, tx, order, stock, fillPrice); err != nil {
			return err
		}
	case models.SideSell:
		if err := e.executeSell(ctx, tx, order, stock, fillPrice); err != nil {
			return err
		}
	}
	return nil
}

// fillPriceFor applies the fill-price policy. Market orders fill at the
// market price. Limit orders fill at their own resting limit price when
// marketable, never at the (possibly better) market price.
func fillPriceFor(order *models.Order, marketPrice float64) (float64, bool) {
	if order.Type == models.TypeMarket {
		return marketPrice, true
	}
	limit := *order.LimitPrice
	if order.Side == models.SideBuy && limit >= marketPrice {
		return limit, true
	}
	if order.Side == models.SideSell && limit <= marketPrice {
		return limit, true
	}
	return 0, false
}

func (e *Engine) executeBuy(ctx context.Context, tx pgx.Tx, order *models.Order, stock *models.Stock, fillPrice float64) error {
	cost := order.Quantity * fillPrice

	if stock.AvailableShares < order.Quantity {
		return e.reject(ctx, tx, order, "insufficient available shares")
	}

	acc, err := e.DB.GetAccountForUpdate(ctx, tx, order.UserID)
	if err != nil {
		return err
	}
	if acc == nil || acc.Balance < cost {
		return e.reject(ctx, tx, order, "insufficient funds")
	}

	newBalance := acc.Balance - cost
	if err := e.DB.UpdateBalanceTx(ctx, tx, order.UserID, newBalance); err != nil {
		return err
	}
	if err := e.DB.UpdateStockSharesTx(ctx, tx, stock.Ticker, stock.AvailableShares-order.Quantity); err != nil {
		return err
	}
	if err := e.DB.UpsertHoldingTx(ctx, tx, order.UserID, order.Ticker, order.Quantity); err != nil {
		return err
	}
	if err := e.DB.InsertTransactionTx(ctx, tx, &models.Transaction{
		UserID:       order.UserID,
		Kind:         models.KindBuy,
		Ticker:       &order.Ticker,
		Quantity:     &order.Quantity,
		Price:        &fillPrice,
		Amount:       -cost,
		BalanceAfter: newBalance,
	}); err != nil {
		return err
	}
	return e.fill(ctx, tx, order, fillPrice)
}

func (e *Engine) executeSell(ctx context.Context, tx pgx.Tx, order *models.Order, stock *models.Stock, fillPrice float64) error {
	holding, err := e.DB.GetHoldingForUpdate(ctx, tx, order.UserID, order.Ticker)
	if err != nil {
		return err
	}
	if holding == nil || holding.Quantity < order.Quantity {
		return e.reject(ctx, tx, order, "insufficient shares held")
	}

	if err := e.DB.SetHoldingQuantityTx(ctx, tx, order.UserID, order.Ticker, holding.Quantity-order.Quantity); err != nil {
		return err
	}
	if err := e.DB.UpdateStockSharesTx(ctx, tx, stock.Ticker, stock.AvailableShares+order.Quantity); err != nil {
		return err
	}

	acc, err := e.DB.GetAccountForUpdate(ctx, tx, order.UserID)
	if err != nil {
		return err
	}
	if acc == nil {
		if acc, err = e.DB.CreateAccountTx(ctx, tx, order.UserID); err != nil {
			return err
		}
	}

	proceeds := order.Quantity * fillPrice
	newBalance := acc.Balance + proceeds
	if err := e.DB.UpdateBalanceTx(ctx, tx, order.UserID, newBalance); err != nil {
		return err
	}
	if err := e.DB.InsertTransactionTx(ctx, tx, &models.Transaction{
		UserID:       order.UserID,
		Kind:         models.KindSell,
		Ticker:       &order.Ticker,
		Quantity:     &order.Quantity,
		Price:        &fillPrice,
		Amount:       proceeds,
		BalanceAfter: newBalance,
	}); err != nil {
		return err
	}
	return e.fill(ctx, tx, order, fillPrice)
}

func (e *Engine) reject(ctx context.Context, tx pgx.Tx, order *models.Order, reason string) error {
	if err := e.DB.RejectOrderTx(ctx, tx, order.ID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	e.Log.Info("order rejected",
		zap.Int("order_id", order.ID),
		zap.String("ticker", order.Ticker),
		zap.String("side", string(order.Side)),
		zap.String("reason", reason))
	return nil
}

func (e *Engine) fill(ctx context.Context, tx pgx.Tx, order *models.Order, fillPrice float64) error {
	if err := e.DB.FillOrderTx(ctx, tx, order.ID, fillPrice, e.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	e.Log.Info("order filled",
		zap.Int("order_id", order.ID),
		zap.String("ticker", order.Ticker),
		zap.String("side", string(order.Side)),
		zap.Float64("quantity", order.Quantity),
		zap.Float64("fill_price", fillPrice))
	return nil
}

// PlaceOrder validates, persists a pending order, and attempts one
// synchronous execution so the caller sees the final status in the
// returned snapshot.
func (e *Engine) PlaceOrder(ctx context.Context, userID int, ticker string, quantity float64, side models.OrderSide, orderType models.OrderType, limitPrice *float64) (*models.Order, error) {
	ticker = strings.ToUpper(ticker)
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be > 0", models.ErrInvalidArgument)
	}
	if !side.Valid() {
		return nil, fmt.Errorf("%w: side must be 'buy' or 'sell'", models.ErrInvalidArgument)
	}
	if !orderType.Valid() {
		return nil, fmt.Errorf("%w: type must be 'market' or 'limit'", models.ErrInvalidArgument)
	}
	if orderType == models.TypeLimit && (limitPrice == nil || *limitPrice <= 0) {
		return nil, fmt.Errorf("%w: limit orders require a positive price", models.ErrInvalidArgument)
	}
	if orderType == models.TypeMarket {
		limitPrice = nil
	}

	if _, err := e.DB.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := e.DB.GetStock(ctx, ticker); err != nil {
		return nil, err
	}

	order, err := e.DB.CreateOrder(ctx, &models.Order{
		UserID:     userID,
		Ticker:     ticker,
		Quantity:   quantity,
		Side:       side,
		Type:       orderType,
		LimitPrice: limitPrice,
	})
	if err != nil {
		return nil, err
	}

	if err := e.AttemptExecute(ctx, order.ID); err != nil {
		return nil, err
	}
	return e.DB.GetOrder(ctx, order.ID)
}

// CancelOrder transitions a pending order to cancelled. Returns true
// only if the order existed and was pending.
func (e *Engine) CancelOrder(ctx context.Context, orderID int) (bool, error) {
	return e.DB.CancelOrder(ctx, orderID)
}

// UpdatePrice persists a new price for the ticker and re-evaluates its
// pending orders oldest first, so an early buy can claim contested
// shares before a later one.
func (e *Engine) UpdatePrice(ctx context.Context, ticker string, newPrice float64) error {
	ticker = strings.ToUpper(ticker)
	if err := e.DB.SetStockPrice(ctx, ticker, newPrice); err != nil {
		return err
	}
	e.Log.Info("price updated", zap.String("ticker", ticker), zap.Float64("price", newPrice))
	if e.OnPriceUpdate != nil {
		e.OnPriceUpdate(ticker, newPrice)
	}

	ids, err := e.DB.PendingOrderIDs(ctx, ticker)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.AttemptExecute(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAll re-evaluates every pending order, oldest first. Useful
// after a market-hours change.
func (e *Engine) TriggerAll(ctx context.Context) error {
	ids, err := e.DB.AllPendingOrderIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.AttemptExecute(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
