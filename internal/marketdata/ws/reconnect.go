package ws

import "time"

// DefaultReconnectDelay is the pause between a dropped connection and the
// next dial.
const DefaultReconnectDelay = 1500 * time.Millisecond

// ReconnectPolicy decides how long to wait before reconnect attempt n (1-based).
type ReconnectPolicy interface {
	Delay(attempt int) time.Duration
}

// FixedDelay waits the same duration before every attempt, forever.
type FixedDelay time.Duration

func (d FixedDelay) Delay(int) time.Duration { return time.Duration(d) }

// Clock is the time source used for reconnect waits and quote timestamps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
