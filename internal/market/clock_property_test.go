package market

import (
	"fmt"
	"testing"
	"time"

	"github.com/xtrntr/brokerage/internal/models"

	"pgregory.net/rapid"
)

func randomSession(t *rapid.T) *models.MarketSettings {
	openM := rapid.IntRange(0, 1438).Draw(t, "openMinute")
	closeM := rapid.IntRange(openM+1, 1439).Draw(t, "closeMinute")
	return &models.MarketSettings{
		OpenTime:  fmt.Sprintf("%02d:%02d", openM/60, openM%60),
		CloseTime: fmt.Sprintf("%02d:%02d", closeM/60, closeM%60),
	}
}

func randomInstant(t *rapid.T) time.Time {
	// 2024-2026, arbitrary second within the day
	secs := rapid.Int64Range(0, 2*365*24*3600).Draw(t, "offsetSecs")
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(secs) * time.Second)
}

func TestProperty_WeekendsAlwaysClosed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ms := randomSession(t)
		at := randomInstant(t)
		if wd := at.Weekday(); wd != time.Saturday && wd != time.Sunday {
			t.Skip("not a weekend")
		}
		if Open(ms, at) {
			t.Fatalf("market open on weekend %v with session %s-%s", at, ms.OpenTime, ms.CloseTime)
		}
	})
}

func TestProperty_HolidayAlwaysClosed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ms := randomSession(t)
		at := randomInstant(t)
		ms.Holidays = []string{at.Format("2006-01-02")}
		if Open(ms, at) {
			t.Fatalf("market open on holiday %v", at)
		}
	})
}

func TestProperty_OpenImpliesInsideSession(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ms := randomSession(t)
		at := randomInstant(t)
		if !Open(ms, at) {
			t.Skip("closed")
		}

		minute := at.Hour()*60 + at.Minute()
		openM, err := parseHM(ms.OpenTime)
		if err != nil {
			t.Fatalf("generated bad open time %q", ms.OpenTime)
		}
		closeM, err := parseHM(ms.CloseTime)
		if err != nil {
			t.Fatalf("generated bad close time %q", ms.CloseTime)
		}
		if minute < openM || minute >= closeM {
			t.Fatalf("open at %v but session is [%s, %s)", at, ms.OpenTime, ms.CloseTime)
		}
	})
}
