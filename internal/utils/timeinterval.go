package utils

import (
	"sync"
	"time"
)

type IntervalTimer interface {
	Stop()
}

type timeInterval struct {
	quit chan struct{}
	once sync.Once
}

// Stop is safe to call more than once; admission timers are stopped
// both by the deciding event and by coordinator teardown.
func (t *timeInterval) Stop() {
	t.once.Do(func() { close(t.quit) })
}

func SetIntervalTimer(duration time.Duration, function func()) IntervalTimer {
	ticker := time.NewTicker(duration)
	t := &timeInterval{quit: make(chan struct{})}
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				function()
			case <-t.quit:
				return
			}
		}
	}()
	return t
}
