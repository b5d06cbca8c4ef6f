package channels

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parziva-1/zeroclaw/pkg/bus"
)

func TestManagerSendRouting(t *testing.T) {
	a := &fakeChannel{name: "alpha"}
	b := &fakeChannel{name: "beta"}
	m := NewManager([]Channel{a, b}, bus.NewMessageBus())

	err := m.Send(context.Background(), sendMessageTo("beta", "user-1", "hi"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(a.sentMessages()) != 0 {
		t.Error("alpha should not receive beta's message")
	}
	got := b.sentMessages()
	if len(got) != 1 || got[0].Recipient != "user-1" {
		t.Errorf("beta sent = %+v", got)
	}
}

func TestManagerSendUnknownChannel(t *testing.T) {
	m := NewManager(nil, bus.NewMessageBus())
	err := m.Send(context.Background(), sendMessageTo("nope", "x", "y"))
	if !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("err = %v, want ErrUnknownChannel", err)
	}
}

func TestManagerForwardsInboundToBus(t *testing.T) {
	broker := bus.NewMessageBus()
	ch := &fakeChannel{
		name: "alpha",
		listen: func(ctx context.Context, sink chan<- bus.ChannelMessage) error {
			select {
			case sink <- bus.ChannelMessage{ID: "m1", Channel: "alpha", Content: "hello"}:
			case <-ctx.Done():
			}
			<-ctx.Done()
			return nil
		},
	}
	m := NewManager([]Channel{ch}, broker)
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() {
		cancel()
		m.Stop()
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	msg, ok := broker.ConsumeInbound(waitCtx)
	if !ok {
		t.Fatal("no inbound message forwarded to the bus")
	}
	if msg.ID != "m1" || msg.Channel != "alpha" {
		t.Errorf("forwarded message = %+v", msg)
	}
}

func TestManagerRestartsFailedListener(t *testing.T) {
	attempts := make(chan struct{}, 8)
	ch := &fakeChannel{
		name: "flaky",
		listen: func(ctx context.Context, sink chan<- bus.ChannelMessage) error {
			attempts <- struct{}{}
			return errors.New("connection reset")
		},
	}
	m := NewManager([]Channel{ch}, bus.NewMessageBus())
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() {
		cancel()
		m.Stop()
	}()

	// First run is immediate, second comes after the initial backoff.
	for i := 0; i < 2; i++ {
		select {
		case <-attempts:
		case <-time.After(5 * time.Second):
			t.Fatalf("listener not restarted (attempt %d)", i+1)
		}
	}
}

func TestManagerHealthCheck(t *testing.T) {
	m := NewManager([]Channel{
		&fakeChannel{name: "up", healthy: true},
		&fakeChannel{name: "down", healthy: false},
	}, bus.NewMessageBus())

	statuses := m.HealthCheck(context.Background())
	if !statuses["up"] || statuses["down"] {
		t.Errorf("statuses = %v", statuses)
	}
	names := m.Names()
	if len(names) != 2 || names[0] != "down" || names[1] != "up" {
		t.Errorf("Names() = %v", names)
	}
}
