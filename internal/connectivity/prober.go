package connectivity

import (
	"context"
	"time"

	"github.com/nabhalearn/edusync/internal/logging"
)

// Pinger is the part of the remote store the prober needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober polls a Pinger and feeds the result into a Monitor.
type Prober struct {
	pinger   Pinger
	monitor  *Monitor
	interval time.Duration
	timeout  time.Duration
	log      *logging.Logger
}

// NewProber creates a prober. timeout bounds each ping; zero means the
// interval.
func NewProber(pinger Pinger, monitor *Monitor, interval, timeout time.Duration, log *logging.Logger) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	if log == nil {
		log = logging.Get()
	}
	return &Prober{
		pinger:   pinger,
		monitor:  monitor,
		interval: interval,
		timeout:  timeout,
		log:      log.Named("prober"),
	}
}

// ProbeOnce pings once and records the outcome.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(pingCtx)
	if err != nil && ctx.Err() != nil {
		// Shutting down; not a connectivity observation.
		return p.monitor.Online()
	}
	if err != nil {
		p.log.Debug("Remote unreachable", map[string]interface{}{"error": err.Error()})
	}
	online := err == nil
	p.monitor.SetOnline(online)
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.ProbeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}
