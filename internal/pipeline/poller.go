package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MinInterval is the shortest accepted polling interval.
const MinInterval = time.Minute

// Poller runs Sync on an interval.
type Poller struct {
	pipeline *Pipeline
	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller creates a background poller. Each run is bounded by timeout,
// or by the interval when timeout is zero.
func NewPoller(p *Pipeline, interval, timeout time.Duration) *Poller {
	if interval < MinInterval {
		interval = MinInterval
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &Poller{
		pipeline: p,
		interval: interval,
		timeout:  timeout,
		stopChan: make(chan struct{}),
	}
}

// Start begins the polling loop. The first run starts immediately.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			slog.Info("[poller]: syncing", "interval", p.interval)

			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			go func() {
				select {
				case <-p.stopChan:
					cancel()
				case <-ctx.Done():
				}
			}()
			_, err := p.pipeline.Sync(ctx, Options{})
			cancel()

			if err != nil {
				slog.Error("[poller]: sync failed", "error", err)
			}

			select {
			case <-p.stopChan:
				return
			case <-time.After(p.interval):
			}
		}
	}()
}

// Stop cancels a running sync and waits for the loop to exit.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}
