// ZeroClaw - personal agent channel runtime
// License: MIT
//
// Copyright (c) 2026 ZeroClaw contributors

package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/parziva-1/zeroclaw/pkg/logger"
)

// Prober reports per-channel health; satisfied by channels.Manager.
type Prober interface {
	HealthCheck(ctx context.Context) map[string]bool
}

// Monitor probes channel health on a cron schedule and logs status
// transitions.
type Monitor struct {
	schedule string
	prober   Prober

	mu   sync.Mutex
	last map[string]bool
}

func NewMonitor(schedule string, prober Prober) (*Monitor, error) {
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("heartbeat: invalid cron expression %q", schedule)
	}
	return &Monitor{
		schedule: schedule,
		prober:   prober,
		last:     make(map[string]bool),
	}, nil
}

// Run checks the schedule once a minute and probes when due. Blocks
// until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	logger.InfoCF("heartbeat", "Health monitor started", map[string]interface{}{
		"schedule": m.schedule,
	})
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			due, err := gronx.New().IsDue(m.schedule, tick)
			if err != nil || !due {
				continue
			}
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	statuses := m.prober.HealthCheck(probeCtx)

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, healthy := range statuses {
		prev, known := m.last[name]
		m.last[name] = healthy
		if known && prev == healthy {
			continue
		}
		fields := map[string]interface{}{"channel": name}
		if healthy {
			logger.InfoCF("heartbeat", "Channel healthy", fields)
		} else {
			logger.WarnCF("heartbeat", "Channel unhealthy", fields)
		}
	}
}

// Statuses returns the most recent probe results.
func (m *Monitor) Statuses() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.last))
	for name, healthy := range m.last {
		out[name] = healthy
	}
	return out
}
