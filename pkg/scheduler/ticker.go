package scheduler

import "time"

type tickerHandle struct {
	C    <-chan time.Time
	stop func()
}

var tickerFactory = func(d time.Duration) tickerHandle {
	t := time.NewTicker(d)
	return tickerHandle{
		C: t.C,
		stop: func() {
			t.Stop()
		},
	}
}
