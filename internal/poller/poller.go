package poller

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/micro-ha/switchbot-cloud/internal/coordinator"
)

const DefaultInterval = 600 * time.Second

// Source yields the coordinators to poll; empty until the entry is set up.
type Source interface {
	Coordinators() []*coordinator.Coordinator
}

type Poller struct {
	source    Source
	interval  time.Duration
	refreshCh chan struct{}
	logger    *slog.Logger
}

func New(source Source, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{source: source, interval: interval, refreshCh: make(chan struct{}, 1), logger: logger}
}

func (p *Poller) TriggerRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.refreshCh:
			timer.Stop()
		case <-timer.C:
		}
		p.PollOnce(ctx)
	}
}

// PollOnce refreshes every polling coordinator concurrently and returns the
// number of failures. Webhook-driven and remote coordinators are skipped.
func (p *Poller) PollOnce(ctx context.Context) int {
	var (
		g      errgroup.Group
		failed atomic.Int32
		polled int
	)
	for _, c := range p.source.Coordinators() {
		if !c.Polls() {
			continue
		}
		polled++
		g.Go(func() error {
			if err := c.Refresh(ctx); err != nil {
				failed.Add(1)
				p.logger.Warn("device poll failed", "device_id", c.Device().ID, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Debug("poll finished", "polled", polled, "failed", failed.Load())
	return int(failed.Load())
}
