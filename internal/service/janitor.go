package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/im-forum-delivery/internal/domain/presence"
	"github.com/webitel/im-forum-delivery/internal/domain/registry"
)

// Janitor is the periodic [SELF_HEALING] pass: it drops connections whose
// record expired and re-derives presence of every active user.
type Janitor struct {
	registry registry.Registrar
	presence presence.Presencer
	metrics  *Collector
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewJanitor(reg registry.Registrar, pres presence.Presencer, metrics *Collector, logger *slog.Logger, interval time.Duration) *Janitor {
	return &Janitor{
		registry: reg,
		presence: pres,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
	}
}

// RunOnce performs a single sweep followed by presence reconciliation.
func (j *Janitor) RunOnce(ctx context.Context) {
	start := time.Now()

	report, err := j.registry.Sweep(ctx)
	if err != nil {
		j.logger.Warn("REGISTRY_SWEEP_FAILED", "err", err)
		return
	}
	j.metrics.connectionsHealed.Add(float64(len(report.Removed)))

	flipped, err := j.presence.Reconcile(ctx)
	if err != nil {
		j.logger.Warn("PRESENCE_RECONCILE_FAILED", "err", err)
	}

	if len(report.Removed) > 0 || len(flipped) > 0 {
		j.logger.Info("REGISTRY_SWEEP_COMPLETED",
			"checked", report.Checked,
			"removed", len(report.Removed),
			"offline", len(flipped),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (j *Janitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.RunOnce(ctx)
			}
		}
	}()
}

func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}
