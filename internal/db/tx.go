package db

import (
	"context"
	"fmt"
	"time"

	"github.com/xtrntr/brokerage/internal/models"

	"github.com/jackc/pgx/v5"
)

// Transaction-scoped reads and writes used by the execution engine.
// Every read here takes a row-level exclusive lock so two concurrent
// fill attempts cannot both observe stale balances or share counts.
// Lock acquisition order is fixed: order, stock, cash account, holding.

// GetOrderForUpdate loads and locks an order row. Returns nil (no
// error) if the order does not exist.
func (db *DB) GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID int) (*models.Order, error) {
	row := tx.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", orderID)
	order, err := scanOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return order, nil
}

// GetStockForUpdate loads and locks a stock row. Returns nil (no error)
// if the ticker does not exist.
func (db *DB) GetStockForUpdate(ctx context.Context, tx pgx.Tx, ticker string) (*models.Stock, error) {
	stock := &models.Stock{}
	err := tx.QueryRow(ctx,
		"SELECT id, company_name, ticker, available_shares, price, created_at FROM stocks WHERE ticker = $1 FOR UPDATE",
		ticker).Scan(&stock.ID, &stock.CompanyName, &stock.Ticker, &stock.AvailableShares, &stock.Price, &stock.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock stock: %w", err)
	}
	return stock, nil
}

// GetAccountForUpdate loads and locks a cash account. Returns nil (no
// error) if the user has no account.
func (db *DB) GetAccountForUpdate(ctx context.Context, tx pgx.Tx, userID int) (*models.CashAccount, error) {
	acc := &models.CashAccount{}
	err := tx.QueryRow(ctx,
		"SELECT id, user_id, balance FROM cash_accounts WHERE user_id = $1 FOR UPDATE",
		userID).Scan(&acc.ID, &acc.UserID, &acc.Balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock cash account: %w", err)
	}
	return acc, nil
}

// GetHoldingForUpdate loads and locks a holding row. Returns nil (no
// error) if the user holds none of the ticker.
func (db *DB) GetHoldingForUpdate(ctx context.Context, tx pgx.Tx, userID int, ticker string) (*models.Holding, error) {
	h := &models.Holding{}
	err := tx.QueryRow(ctx,
		"SELECT id, user_id, ticker, quantity FROM holdings WHERE user_id = $1 AND ticker = $2 FOR UPDATE",
		userID, ticker).Scan(&h.ID, &h.UserID, &h.Ticker, &h.Quantity)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock holding: %w", err)
	}
	return h, nil
}

// UpdateBalanceTx sets a cash account's balance.
func (db *DB) UpdateBalanceTx(ctx context.Context, tx pgx.Tx, userID int, balance float64) error {
	_, err := tx.Exec(ctx, "UPDATE cash_accounts SET balance = $1 WHERE user_id = $2", balance, userID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

// CreateAccountTx creates a zero-balance cash account for the user.
func (db *DB) CreateAccountTx(ctx context.Context, tx pgx.Tx, userID int) (*models.CashAccount, error) {
	acc := &models.CashAccount{}
	err := tx.QueryRow(ctx,
		"INSERT INTO cash_accounts (user_id, balance) VALUES ($1, 0) RETURNING id, user_id, balance",
		userID).Scan(&acc.ID, &acc.UserID, &acc.Balance)
	if err != nil {
		return nil, fmt.Errorf("failed to create cash account: %w", err)
	}
	return acc, nil
}

// UpdateStockSharesTx sets a stock's available share count.
func (db *DB) UpdateStockSharesTx(ctx context.Context, tx pgx.Tx, ticker string, shares float64) error {
	_, err := tx.Exec(ctx, "UPDATE stocks SET available_shares = $1 WHERE ticker = $2", shares, ticker)
	if err != nil {
		return fmt.Errorf("failed to update available shares: %w", err)
	}
	return nil
}

// UpsertHoldingTx adds delta to the user's holding for the ticker,
// creating the row if absent.
func (db *DB) UpsertHoldingTx(ctx context.Context, tx pgx.Tx, userID int, ticker string, delta float64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO holdings (user_id, ticker, quantity) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, ticker) DO UPDATE SET quantity = holdings.quantity + $3`,
		userID, ticker, delta)
	if err != nil {
		return fmt.Errorf("failed to upsert holding: %w", err)
	}
	return nil
}

// SetHoldingQuantityTx sets a holding row's quantity.
func (db *DB) SetHoldingQuantityTx(ctx context.Context, tx pgx.Tx, userID int, ticker string, quantity float64) error {
	_, err := tx.Exec(ctx,
		"UPDATE holdings SET quantity = $1 WHERE user_id = $2 AND ticker = $3",
		quantity, userID, ticker)
	if err != nil {
		return fmt.Errorf("failed to update holding: %w", err)
	}
	return nil
}

// InsertTransactionTx appends an audit record for an executed trade.
func (db *DB) InsertTransactionTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	_, err := tx.Exec(ctx,
		"INSERT INTO transactions (user_id, kind, ticker, quantity, price, amount, balance_after) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		t.UserID, t.Kind, t.Ticker, t.Quantity, t.Price, t.Amount, t.BalanceAfter)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// RejectOrderTx marks a locked order rejected.
func (db *DB) RejectOrderTx(ctx context.Context, tx pgx.Tx, orderID int) error {
	_, err := tx.Exec(ctx, "UPDATE orders SET status = 'rejected' WHERE id = $1", orderID)
	if err != nil {
		return fmt.Errorf("failed to reject order: %w", err)
	}
	return nil
}

// FillOrderTx marks a locked order filled at the given price.
func (db *DB) FillOrderTx(ctx context.Context, tx pgx.Tx, orderID int, fillPrice float64, filledAt time.Time) error {
	_, err := tx.Exec(ctx,
		"UPDATE orders SET status = 'filled', fill_price = $1, filled_at = $2 WHERE id = $3",
		fillPrice, filledAt, orderID)
	if err != nil {
		return fmt.Errorf("failed to fill order: %w", err)
	}
	return nil
}
