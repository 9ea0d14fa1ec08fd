package rollup

import (
	"errors"
	"testing"
	"time"

	"marketdata-core/internal/model"
)

func ms(y int, m time.Month, d, h, min int) int64 {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC).UnixMilli()
}

func TestDayStart(t *testing.T) {
	got := DayStart(ms(2024, 3, 6, 17, 45))
	if want := ms(2024, 3, 6, 0, 0); got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
	// Already aligned stays put.
	if got := DayStart(ms(2024, 3, 6, 0, 0)); got != ms(2024, 3, 6, 0, 0) {
		t.Errorf("expected aligned day start to be unchanged, got %d", got)
	}
}

func TestPeriodStart_Wednesday(t *testing.T) {
	ts := ms(2024, 3, 6, 12, 0) // Wednesday

	cases := []struct {
		tf   model.Timeframe
		want int64
	}{
		{model.TFWeek, ms(2024, 3, 4, 0, 0)},
		{model.TFMonth, ms(2024, 3, 1, 0, 0)},
		{model.TFHalf, ms(2024, 1, 1, 0, 0)},
		{model.TFYear, ms(2024, 1, 1, 0, 0)},
	}
	for _, tc := range cases {
		got, err := PeriodStart(ts, tc.tf)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.tf, err)
		}
		if got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.tf,
				time.UnixMilli(tc.want).UTC(), time.UnixMilli(got).UTC())
		}
	}
}

func TestPeriodStart_WeekEdges(t *testing.T) {
	// Sunday belongs to the week that started the previous Monday.
	got, _ := PeriodStart(ms(2024, 3, 10, 23, 59), model.TFWeek)
	if want := ms(2024, 3, 4, 0, 0); got != want {
		t.Errorf("sunday: expected %s, got %s", time.UnixMilli(want).UTC(), time.UnixMilli(got).UTC())
	}
	// Monday is its own start.
	got, _ = PeriodStart(ms(2024, 3, 11, 0, 0), model.TFWeek)
	if want := ms(2024, 3, 11, 0, 0); got != want {
		t.Errorf("monday: expected %s, got %s", time.UnixMilli(want).UTC(), time.UnixMilli(got).UTC())
	}
	// Week crossing a year boundary.
	got, _ = PeriodStart(ms(2025, 1, 1, 8, 0), model.TFWeek)
	if want := ms(2024, 12, 30, 0, 0); got != want {
		t.Errorf("year boundary: expected %s, got %s", time.UnixMilli(want).UTC(), time.UnixMilli(got).UTC())
	}
}

func TestPeriodStart_SemesterSplit(t *testing.T) {
	got, _ := PeriodStart(ms(2024, 6, 30, 23, 0), model.TFHalf)
	if want := ms(2024, 1, 1, 0, 0); got != want {
		t.Errorf("june: expected Jan 1, got %s", time.UnixMilli(got).UTC())
	}
	got, _ = PeriodStart(ms(2024, 7, 1, 0, 0), model.TFHalf)
	if want := ms(2024, 7, 1, 0, 0); got != want {
		t.Errorf("july: expected Jul 1, got %s", time.UnixMilli(got).UTC())
	}
	got, _ = PeriodStart(ms(2024, 12, 31, 0, 0), model.TFHalf)
	if want := ms(2024, 7, 1, 0, 0); got != want {
		t.Errorf("december: expected Jul 1, got %s", time.UnixMilli(got).UTC())
	}
}

func TestPeriodStart_Unsupported(t *testing.T) {
	_, err := PeriodStart(0, model.TF1m)
	if !errors.Is(err, ErrUnsupportedTimeframe) {
		t.Errorf("expected ErrUnsupportedTimeframe, got %v", err)
	}
}
