// ZeroClaw - personal agent channel runtime
// License: MIT
//
// Copyright (c) 2026 ZeroClaw contributors

package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/parziva-1/zeroclaw/pkg/bus"
	"github.com/parziva-1/zeroclaw/pkg/logger"
)

const (
	managerInitialBackoff = 1 * time.Second
	managerMaxBackoff     = 60 * time.Second
	// A listener that survived this long gets its backoff reset.
	managerStableRun = 60 * time.Second
)

// Manager supervises a set of channels: it runs each channel's Listen
// loop with restart backoff, forwards inbound messages to the bus, and
// routes outbound sends by channel name.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	broker   bus.Publisher

	sink   chan bus.ChannelMessage
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(chs []Channel, broker bus.Publisher) *Manager {
	m := &Manager{
		channels: make(map[string]Channel, len(chs)),
		broker:   broker,
		sink:     make(chan bus.ChannelMessage, 100),
	}
	for _, ch := range chs {
		m.channels[ch.Name()] = ch
	}
	return m
}

// Get returns the channel registered under name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns registered channel names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches the inbound forwarder and one supervised listener per
// channel. It returns immediately; Stop waits for everything to drain.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.forwardInbound(ctx)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		m.wg.Add(1)
		go m.supervise(ctx, ch)
	}
	logger.InfoCF("manager", "Channel manager started", map[string]interface{}{
		"channels": len(m.channels),
	})
}

// Stop cancels all listeners and waits for them to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if closer, ok := ch.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				logger.WarnCF("manager", "Channel close failed", map[string]interface{}{
					"channel": name,
					"error":   err.Error(),
				})
			}
		}
	}
}

func (m *Manager) forwardInbound(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.sink:
			m.broker.PublishInbound(msg)
		}
	}
}

func (m *Manager) supervise(ctx context.Context, ch Channel) {
	defer m.wg.Done()
	backoff := managerInitialBackoff
	for {
		started := time.Now()
		err := ch.Listen(ctx, m.sink)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) >= managerStableRun {
			backoff = managerInitialBackoff
		}
		if err != nil {
			logger.WarnCF("manager", "Channel listener exited, restarting", map[string]interface{}{
				"channel": ch.Name(),
				"error":   err.Error(),
				"backoff": backoff.String(),
			})
		} else {
			logger.InfoCF("manager", "Channel listener returned, restarting", map[string]interface{}{
				"channel": ch.Name(),
				"backoff": backoff.String(),
			})
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > managerMaxBackoff {
			backoff = managerMaxBackoff
		}
	}
}

// Send routes one outbound message to the channel named in msg.Channel.
func (m *Manager) Send(ctx context.Context, msg bus.SendMessage) error {
	ch, ok := m.Get(msg.Channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, msg.Channel)
	}
	return ch.Send(ctx, msg)
}

// HealthCheck probes every channel and returns per-channel status.
func (m *Manager) HealthCheck(ctx context.Context) map[string]bool {
	m.mu.RLock()
	chs := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		chs[name] = ch
	}
	m.mu.RUnlock()

	statuses := make(map[string]bool, len(chs))
	for name, ch := range chs {
		statuses[name] = ch.HealthCheck(ctx)
	}
	return statuses
}
