package observability

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultProbeSchedule checks the backend twice a minute
const DefaultProbeSchedule = "@every 30s"

// BackendProbe periodically pings the backend registry and publishes the
// result as the tfgate_backend_up gauge
type BackendProbe struct {
	target  Pinger
	metrics *Metrics
	logger  *Logger
	timeout time.Duration
	cron    *cron.Cron

	mu     sync.Mutex
	lastUp *bool
}

// NewBackendProbe creates a probe for target
func NewBackendProbe(target Pinger, metrics *Metrics, logger *Logger) *BackendProbe {
	if logger == nil {
		logger = NewLogger(InfoLevel, nil)
	}
	return &BackendProbe{
		target:  target,
		metrics: metrics,
		logger:  logger.WithField("component", "backend_probe"),
		timeout: 5 * time.Second,
		cron:    cron.New(),
	}
}

// Start schedules the probe and runs it once immediately
func (p *BackendProbe) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultProbeSchedule
	}
	if _, err := p.cron.AddFunc(schedule, p.RunOnce); err != nil {
		return err
	}
	p.cron.Start()
	go p.RunOnce()
	p.logger.Infof("Backend probe scheduled: %s", schedule)
	return nil
}

// Stop halts the scheduler and waits for a running probe to finish
func (p *BackendProbe) Stop(ctx context.Context) error {
	done := p.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single probe
func (p *BackendProbe) RunOnce() {
	defer RecoverPanic(p.logger, "backend probe")

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := p.target.Ping(ctx)
	up := err == nil
	p.metrics.SetBackendUp(up)

	p.mu.Lock()
	defer p.mu.Unlock()

	// Only log state changes
	if p.lastUp == nil || *p.lastUp != up {
		if up {
			p.logger.Info("Backend registry reachable")
		} else {
			p.logger.WithError(err).Warn("Backend registry unreachable")
		}
	}
	p.lastUp = &up
}
