package models

import "time"

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType distinguishes market orders from limit orders.
type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t == TypeMarket || t == TypeLimit
}

// OrderStatus is the lifecycle state of an order.
// Filled, cancelled and rejected are terminal.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
)

// Valid reports whether st is a known status.
func (st OrderStatus) Valid() bool {
	switch st {
	case StatusPending, StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// TransactionKind classifies a cash-affecting event.
type TransactionKind string

const (
	KindDeposit  TransactionKind = "deposit"
	KindWithdraw TransactionKind = "withdraw"
	KindBuy      TransactionKind = "buy"
	KindSell     TransactionKind = "sell"
)

// User represents a registered user
type User struct {
	ID           int       `json:"id"`
	FullName     string    `json:"full_name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stock is a tradable instrument. AvailableShares is the exchange-held
// float not currently owned by any user; it only moves on executed buys
// (down) and sells (up).
type Stock struct {
	ID              int       `json:"-"`
	CompanyName     string    `json:"company_name"`
	Ticker          string    `json:"ticker"`
	AvailableShares float64   `json:"available_shares"`
	Price           float64   `json:"price"`
	CreatedAt       time.Time `json:"created_at"`
}

// CashAccount holds a user's cash balance. One per user, never negative.
type CashAccount struct {
	ID      int     `json:"-"`
	UserID  int     `json:"user_id"`
	Balance float64 `json:"balance"`
}

// Holding is a user's position in one ticker. At most one row per
// (user, ticker); absence means zero.
type Holding struct {
	ID       int     `json:"-"`
	UserID   int     `json:"user_id"`
	Ticker   string  `json:"ticker"`
	Quantity float64 `json:"quantity"`
}

// Order represents a buy or sell order
type Order struct {
	ID         int         `json:"id"`
	UserID     int         `json:"user_id"`
	Ticker     string      `json:"ticker"`
	Quantity   float64     `json:"quantity"`
	Side       OrderSide   `json:"side"`
	Type       OrderType   `json:"type"`
	LimitPrice *float64    `json:"limit_price"`
	Status     OrderStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	FilledAt   *time.Time  `json:"filled_at"`
	FillPrice  *float64    `json:"fill_price"`
}

// Transaction is an immutable audit record of one cash movement.
// Amount is negative for withdrawals and buys, positive otherwise.
type Transaction struct {
	ID           int             `json:"id"`
	UserID       int             `json:"user_id"`
	Kind         TransactionKind `json:"kind"`
	Ticker       *string         `json:"ticker"`
	Quantity     *float64        `json:"quantity"`
	Price        *float64        `json:"price"`
	Amount       float64         `json:"amount"`
	BalanceAfter float64         `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MarketSettings is the singleton row governing market hours.
// Times are "HH:MM" wall-clock in UTC; holidays are "YYYY-MM-DD" dates.
type MarketSettings struct {
	OpenTime  string   `json:"open_time"`
	CloseTime string   `json:"close_time"`
	Holidays  []string `json:"holidays"`
}
