package channels

import (
	"context"
	"sync"

	"github.com/parziva-1/zeroclaw/pkg/bus"
)

func sendMessageTo(channel, recipient, content string) bus.SendMessage {
	return bus.SendMessage{
		Channel:   channel,
		Recipient: recipient,
		Content:   content,
	}
}

// fakeChannel is a scriptable Channel for manager tests.
type fakeChannel struct {
	name    string
	healthy bool

	mu   sync.Mutex
	sent []bus.SendMessage

	listen func(ctx context.Context, sink chan<- bus.ChannelMessage) error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, msg bus.SendMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Listen(ctx context.Context, sink chan<- bus.ChannelMessage) error {
	if f.listen != nil {
		return f.listen(ctx, sink)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeChannel) HealthCheck(ctx context.Context) bool { return f.healthy }

func (f *fakeChannel) sentMessages() []bus.SendMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bus.SendMessage, len(f.sent))
	copy(out, f.sent)
	return out
}
