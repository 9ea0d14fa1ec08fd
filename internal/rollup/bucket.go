package rollup

import (
	"fmt"
	"time"

	"marketdata-core/internal/model"
)

// DayStart returns UTC midnight of the day containing ts (epoch ms).
func DayStart(ts int64) int64 {
	return midnight(time.UnixMilli(ts).UTC()).UnixMilli()
}

// PeriodStart returns the bucket start (epoch ms, UTC) of the higher
// timeframe containing ts:
//
//	1w   Monday 00:00 of the ISO week
//	1mo  the 1st of the month
//	6mo  Jan 1 for January..June, Jul 1 for July..December
//	1y   Jan 1
func PeriodStart(ts int64, tf model.Timeframe) (int64, error) {
	d := midnight(time.UnixMilli(ts).UTC())

	switch tf {
	case model.TFWeek:
		offset := (int(d.Weekday()) + 6) % 7 // Monday=0 … Sunday=6
		d = d.AddDate(0, 0, -offset)
	case model.TFMonth:
		d = time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	case model.TFHalf:
		m := time.January
		if d.Month() >= time.July {
			m = time.July
		}
		d = time.Date(d.Year(), m, 1, 0, 0, 0, 0, time.UTC)
	case model.TFYear:
		d = time.Date(d.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, tf)
	}
	return d.UnixMilli(), nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
