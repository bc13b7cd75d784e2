package market

import (
	"testing"
	"time"

	"github.com/xtrntr/brokerage/internal/models"
)

func settings(open, close string, holidays ...string) *models.MarketSettings {
	return &models.MarketSettings{OpenTime: open, CloseTime: close, Holidays: holidays}
}

// 2025-06-04 is a Wednesday.
func wednesday(hm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", "2025-06-04 "+hm)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name string
		ms   *models.MarketSettings
		at   time.Time
		want bool
	}{
		{
			name: "MidSession",
			ms:   settings("09:30", "16:00"),
			at:   wednesday("12:00"),
			want: true,
		},
		{
			name: "AtOpenBoundary",
			ms:   settings("09:30", "16:00"),
			at:   wednesday("09:30"),
			want: true,
		},
		{
			name: "AtCloseBoundary",
			ms:   settings("09:30", "16:00"),
			at:   wednesday("16:00"),
			want: false,
		},
		{
			name: "BeforeOpen",
			ms:   settings("09:30", "16:00"),
			at:   wednesday("09:29"),
			want: false,
		},
		{
			name: "AfterClose",
			ms:   settings("09:30", "16:00"),
			at:   wednesday("17:00"),
			want: false,
		},
		{
			name: "Saturday",
			ms:   settings("09:30", "16:00"),
			at:   time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "Sunday",
			ms:   settings("09:30", "16:00"),
			at:   time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "Holiday",
			ms:   settings("09:30", "16:00", "2025-06-04"),
			at:   wednesday("12:00"),
			want: false,
		},
		{
			name: "OtherHoliday",
			ms:   settings("09:30", "16:00", "2025-12-25"),
			at:   wednesday("12:00"),
			want: true,
		},
		{
			name: "FullDaySession",
			ms:   settings("00:00", "23:59"),
			at:   wednesday("23:58"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Open(tt.ms, tt.at); got != tt.want {
				t.Errorf("Open(%v, %v) = %v, want %v", tt.ms, tt.at, got, tt.want)
			}
		})
	}
}

func TestOpen_SecondsWithinClosingMinute(t *testing.T) {
	ms := settings("09:30", "16:00")
	at := time.Date(2025, 6, 4, 15, 59, 59, 0, time.UTC)
	if !Open(ms, at) {
		t.Error("expected open at 15:59:59")
	}
	at = time.Date(2025, 6, 4, 16, 0, 30, 0, time.UTC)
	if Open(ms, at) {
		t.Error("expected closed at 16:00:30")
	}
}

func TestParseHM(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"09:30", 570, false},
		{"00:00", 0, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"9:30am", 0, true},
		{"", 0, true},
		{"12:60", 0, true},
	}

	for _, tt := range tests {
		got, err := parseHM(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseHM(%q) expected error, got nil", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseHM(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseHM(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
