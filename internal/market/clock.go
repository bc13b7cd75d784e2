// Package market decides whether the exchange is open at a given
// instant. All wall-clock comparisons happen in UTC; the stored
// open/close times are UTC times of day.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/models"
)

// Clock answers market-open questions from the persisted settings.
type Clock struct {
	DB *db.DB
}

// NewClock creates a clock backed by the settings row in db.
func NewClock(database *db.DB) *Clock {
	return &Clock{DB: database}
}

// IsOpen reports whether the market is open at the given instant.
func (c *Clock) IsOpen(ctx context.Context, at time.Time) (bool, error) {
	ms, err := c.DB.GetMarketSettings(ctx)
	if err != nil {
		return false, err
	}
	return Open(ms, at), nil
}

// SetHours validates and persists new open/close times.
func (c *Clock) SetHours(ctx context.Context, open, close string) error {
	openM, err := parseHM(open)
	if err != nil {
		return err
	}
	closeM, err := parseHM(close)
	if err != nil {
		return err
	}
	if openM >= closeM {
		return fmt.Errorf("%w: open %s must be before close %s", models.ErrInvalidArgument, open, close)
	}
	return c.DB.SetMarketHours(ctx, open, close)
}

// SetHolidays validates and persists a replacement holiday set.
func (c *Clock) SetHolidays(ctx context.Context, dates []string) error {
	for _, d := range dates {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("%w: bad holiday date %q", models.ErrInvalidArgument, d)
		}
	}
	return c.DB.SetHolidays(ctx, dates)
}

// Open evaluates the settings against an instant. Closed on holidays,
// weekends, and outside [open, close); the open boundary is open, the
// close boundary is closed.
func Open(ms *models.MarketSettings, at time.Time) bool {
	at = at.UTC()

	date := at.Format("2006-01-02")
	for _, h := range ms.Holidays {
		if h == date {
			return false
		}
	}

	if wd := at.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}

	openM, err := parseHM(ms.OpenTime)
	if err != nil {
		return false
	}
	closeM, err := parseHM(ms.CloseTime)
	if err != nil {
		return false
	}

	minute := at.Hour()*60 + at.Minute()
	return minute >= openM && minute < closeM
}

// parseHM converts "HH:MM" to minutes since midnight.
func parseHM(hm string) (int, error) {
	t, err := time.Parse("15:04", hm)
	if err != nil {
		return 0, fmt.Errorf("%w: bad time of day %q", models.ErrInvalidArgument, hm)
	}
	return t.Hour()*60 + t.Minute(), nil
}
