package engine

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// timerDriver calls onTick once per period while started. Start and Stop are
// idempotent; a stopped driver never delivers a tick from its old ticker.
type timerDriver struct {
	clock  clockwork.Clock
	period time.Duration
	onTick func()

	mu     sync.Mutex
	ticker clockwork.Ticker
	stop   chan struct{}
}

func newTimerDriver(clock clockwork.Clock, period time.Duration, onTick func()) *timerDriver {
	return &timerDriver{clock: clock, period: period, onTick: onTick}
}

func (d *timerDriver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ticker != nil {
		return
	}
	d.ticker = d.clock.NewTicker(d.period)
	d.stop = make(chan struct{})
	go d.loop(d.ticker, d.stop)
}

func (d *timerDriver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ticker == nil {
		return
	}
	d.ticker.Stop()
	close(d.stop)
	d.ticker = nil
	d.stop = nil
}

func (d *timerDriver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticker != nil
}

func (d *timerDriver) loop(ticker clockwork.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			select {
			case <-stop:
				return
			default:
			}
			d.onTick()
		}
	}
}
