package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xtrntr/brokerage/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// Begin starts a transaction on the pool. The execution engine composes
// its multi-row mutations inside one of these.
func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	return db.Pool.Begin(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateUser inserts a new user and their empty cash account in one
// transaction. Fails with models.ErrConflict if the username or email
// is already taken.
func (db *DB) CreateUser(ctx context.Context, fullName, username, email, passwordHash string) (*models.User, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	user := &models.User{}
	err = tx.QueryRow(ctx,
		"INSERT INTO users (full_name, username, email, password_hash) VALUES ($1, $2, $3, $4) RETURNING id, full_name, username, email, password_hash, created_at",
		fullName, username, email, passwordHash).Scan(
		&user.ID, &user.FullName, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username or email already exists", models.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	_, err = tx.Exec(ctx, "INSERT INTO cash_accounts (user_id, balance) VALUES ($1, 0)", user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create cash account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, full_name, username, email, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.FullName, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: user %q", models.ErrNotFound, username)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, id int) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, full_name, username, email, password_hash, created_at FROM users WHERE id = $1",
		id).Scan(&user.ID, &user.FullName, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: user %d", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateStock inserts a new instrument. The full initial float sits in
// available_shares.
func (db *DB) CreateStock(ctx context.Context, companyName, ticker string, totalShares float64, initialPrice float64) (*models.Stock, error) {
	if totalShares < 0 {
		return nil, fmt.Errorf("%w: total shares must be >= 0", models.ErrInvalidArgument)
	}
	if initialPrice <= 0 {
		return nil, fmt.Errorf("%w: initial price must be > 0", models.ErrInvalidArgument)
	}
	ticker = strings.ToUpper(ticker)

	stock := &models.Stock{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO stocks (company_name, ticker, available_shares, price) VALUES ($1, $2, $3, $4) RETURNING id, company_name, ticker, available_shares, price, created_at",
		companyName, ticker, totalShares, initialPrice).Scan(
		&stock.ID, &stock.CompanyName, &stock.Ticker, &stock.AvailableShares, &stock.Price, &stock.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: ticker %s already exists", models.ErrConflict, ticker)
		}
		return nil, fmt.Errorf("failed to create stock: %w", err)
	}
	return stock, nil
}

// GetStock retrieves an instrument by ticker
func (db *DB) GetStock(ctx context.Context, ticker string) (*models.Stock, error) {
	stock := &models.Stock{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, company_name, ticker, available_shares, price, created_at FROM stocks WHERE ticker = $1",
		strings.ToUpper(ticker)).Scan(
		&stock.ID, &stock.CompanyName, &stock.Ticker, &stock.AvailableShares, &stock.Price, &stock.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: ticker %s", models.ErrNotFound, strings.ToUpper(ticker))
		}
		return nil, fmt.Errorf("failed to get stock: %w", err)
	}
	return stock, nil
}

// ListStocks retrieves all instruments
func (db *DB) ListStocks(ctx context.Context) ([]models.Stock, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, company_name, ticker, available_shares, price, created_at FROM stocks ORDER BY ticker")
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks: %w", err)
	}
	defer rows.Close()

	var stocks []models.Stock
	for rows.Next() {
		var s models.Stock
		if err := rows.Scan(&s.ID, &s.CompanyName, &s.Ticker, &s.AvailableShares, &s.Price, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		stocks = append(stocks, s)
	}
	return stocks, rows.Err()
}

// SetStockPrice persists a new market price for the ticker.
func (db *DB) SetStockPrice(ctx context.Context, ticker string, price float64) error {
	if price <= 0 {
		return fmt.Errorf("%w: price must be > 0", models.ErrInvalidArgument)
	}
	tag, err := db.Pool.Exec(ctx,
		"UPDATE stocks SET price = $1 WHERE ticker = $2", price, strings.ToUpper(ticker))
	if err != nil {
		return fmt.Errorf("failed to update price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ticker %s", models.ErrNotFound, strings.ToUpper(ticker))
	}
	return nil
}

// Deposit credits a user's cash account and records the transaction.
// Returns the new balance.
func (db *DB) Deposit(ctx context.Context, userID int, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: deposit must be > 0", models.ErrInvalidArgument)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance float64
	err = tx.QueryRow(ctx,
		"SELECT balance FROM cash_accounts WHERE user_id = $1 FOR UPDATE", userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("%w: user %d", models.ErrNotFound, userID)
		}
		return 0, fmt.Errorf("failed to get cash account: %w", err)
	}

	balance += amount
	if _, err := tx.Exec(ctx,
		"UPDATE cash_accounts SET balance = $1 WHERE user_id = $2", balance, userID); err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO transactions (user_id, kind, amount, balance_after) VALUES ($1, 'deposit', $2, $3)",
		userID, amount, balance); err != nil {
		return 0, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return balance, nil
}

// Withdraw debits a user's cash account and records the transaction.
// Fails with models.ErrInsufficientFunds if the balance would go negative.
func (db *DB) Withdraw(ctx context.Context, userID int, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: withdrawal must be > 0", models.ErrInvalidArgument)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance float64
	err = tx.QueryRow(ctx,
		"SELECT balance FROM cash_accounts WHERE user_id = $1 FOR UPDATE", userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("%w: user %d", models.ErrNotFound, userID)
		}
		return 0, fmt.Errorf("failed to get cash account: %w", err)
	}

	if balance < amount {
		return 0, fmt.Errorf("%w: balance %.2f, requested %.2f", models.ErrInsufficientFunds, balance, amount)
	}

	balance -= amount
	if _, err := tx.Exec(ctx,
		"UPDATE cash_accounts SET balance = $1 WHERE user_id = $2", balance, userID); err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO transactions (user_id, kind, amount, balance_after) VALUES ($1, 'withdraw', $2, $3)",
		userID, -amount, balance); err != nil {
		return 0, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return balance, nil
}

// GetBalance retrieves a user's cash balance
func (db *DB) GetBalance(ctx context.Context, userID int) (float64, error) {
	var balance float64
	err := db.Pool.QueryRow(ctx,
		"SELECT balance FROM cash_accounts WHERE user_id = $1", userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("%w: user %d", models.ErrNotFound, userID)
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// GetPortfolio retrieves a user's holdings as ticker -> quantity
func (db *DB) GetPortfolio(ctx context.Context, userID int) (map[string]float64, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT ticker, quantity FROM holdings WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	defer rows.Close()

	portfolio := make(map[string]float64)
	for rows.Next() {
		var ticker string
		var qty float64
		if err := rows.Scan(&ticker, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		portfolio[ticker] = qty
	}
	return portfolio, rows.Err()
}

// ListTransactions retrieves transactions in chronological order,
// optionally filtered to one user.
func (db *DB) ListTransactions(ctx context.Context, userID *int) ([]models.Transaction, error) {
	query := "SELECT id, user_id, kind, ticker, quantity, price, amount, balance_after, created_at FROM transactions"
	args := []interface{}{}
	if userID != nil {
		query += " WHERE user_id = $1"
		args = append(args, *userID)
	}
	query += " ORDER BY created_at, id"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Ticker, &t.Quantity, &t.Price, &t.Amount, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

const orderColumns = "id, user_id, ticker, quantity, side, type, limit_price, status, created_at, filled_at, fill_price"

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(&o.ID, &o.UserID, &o.Ticker, &o.Quantity, &o.Side, &o.Type, &o.LimitPrice, &o.Status, &o.CreatedAt, &o.FilledAt, &o.FillPrice)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// CreateOrder inserts a new pending order
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	row := db.Pool.QueryRow(ctx,
		"INSERT INTO orders (user_id, ticker, quantity, side, type, limit_price, status) VALUES ($1, $2, $3, $4, $5, $6, 'pending') RETURNING "+orderColumns,
		order.UserID, order.Ticker, order.Quantity, order.Side, order.Type, order.LimitPrice)
	newOrder, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return newOrder, nil
}

// GetOrder retrieves an order by id
func (db *DB) GetOrder(ctx context.Context, id int) (*models.Order, error) {
	row := db.Pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	order, err := scanOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: order %d", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// ListOrders retrieves orders in creation order, optionally filtered by
// user and status.
func (db *DB) ListOrders(ctx context.Context, userID *int, status *models.OrderStatus) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders"
	var conds []string
	var args []interface{}
	if userID != nil {
		args = append(args, *userID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if status != nil {
		args = append(args, *status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Ticker, &o.Quantity, &o.Side, &o.Type, &o.LimitPrice, &o.Status, &o.CreatedAt, &o.FilledAt, &o.FillPrice); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// PendingOrderIDs returns the ids of pending orders for a ticker,
// oldest first. An early order competing for the same share pool must
// be evaluated before a later one.
func (db *DB) PendingOrderIDs(ctx context.Context, ticker string) ([]int, error) {
	return db.pendingIDs(ctx,
		"SELECT id FROM orders WHERE ticker = $1 AND status = 'pending' ORDER BY created_at, id",
		strings.ToUpper(ticker))
}

// AllPendingOrderIDs returns the ids of every pending order, oldest first.
func (db *DB) AllPendingOrderIDs(ctx context.Context) ([]int, error) {
	return db.pendingIDs(ctx,
		"SELECT id FROM orders WHERE status = 'pending' ORDER BY created_at, id")
}

func (db *DB) pendingIDs(ctx context.Context, query string, args ...interface{}) ([]int, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CancelOrder transitions a pending order to cancelled. Returns true on
// success and false if the order does not exist or is not pending;
// neither case is an error.
func (db *DB) CancelOrder(ctx context.Context, orderID int) (bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the row for update to prevent concurrent modifications
	var status models.OrderStatus
	err = tx.QueryRow(ctx,
		"SELECT status FROM orders WHERE id = $1 FOR UPDATE", orderID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to get order: %w", err)
	}

	if status != models.StatusPending {
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		"UPDATE orders SET status = 'cancelled' WHERE id = $1", orderID); err != nil {
		return false, fmt.Errorf("failed to cancel order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}
