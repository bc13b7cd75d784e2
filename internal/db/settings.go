package db

import (
	"context"
	"fmt"

	"github.com/xtrntr/brokerage/internal/models"
)

// The market settings row is a singleton, created lazily with the
// default 09:30-16:00 session and no holidays.

// GetMarketSettings returns the settings row, creating it on first read.
func (db *DB) GetMarketSettings(ctx context.Context) (*models.MarketSettings, error) {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO market_settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING")
	if err != nil {
		return nil, fmt.Errorf("failed to init market settings: %w", err)
	}

	ms := &models.MarketSettings{}
	err = db.Pool.QueryRow(ctx,
		"SELECT open_time, close_time, holidays FROM market_settings WHERE id = 1").Scan(
		&ms.OpenTime, &ms.CloseTime, &ms.Holidays)
	if err != nil {
		return nil, fmt.Errorf("failed to get market settings: %w", err)
	}
	return ms, nil
}

// SetMarketHours persists new open/close times ("HH:MM").
func (db *DB) SetMarketHours(ctx context.Context, open, close string) error {
	if _, err := db.GetMarketSettings(ctx); err != nil {
		return err
	}
	_, err := db.Pool.Exec(ctx,
		"UPDATE market_settings SET open_time = $1, close_time = $2 WHERE id = 1", open, close)
	if err != nil {
		return fmt.Errorf("failed to set market hours: %w", err)
	}
	return nil
}

// SetHolidays replaces the holiday set wholesale.
func (db *DB) SetHolidays(ctx context.Context, dates []string) error {
	if _, err := db.GetMarketSettings(ctx); err != nil {
		return err
	}
	_, err := db.Pool.Exec(ctx,
		"UPDATE market_settings SET holidays = $1 WHERE id = 1", dates)
	if err != nil {
		return fmt.Errorf("failed to set holidays: %w", err)
	}
	return nil
}
