package bus

import (
	"context"
	"sync"
)

// MessageBus is a buffered in-process broker between the channel layer
// and the dispatcher. Inbound messages flow from adapter listeners,
// outbound messages flow back to adapter Send calls.
type MessageBus struct {
	inbound  chan ChannelMessage
	outbound chan SendMessage
	closed   bool
	mu       sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan ChannelMessage, 100),
		outbound: make(chan SendMessage, 100),
	}
}

func (mb *MessageBus) PublishInbound(msg ChannelMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.inbound <- msg
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (ChannelMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		if !ok {
			return ChannelMessage{}, false
		}
		return msg, true
	case <-ctx.Done():
		return ChannelMessage{}, false
	}
}

func (mb *MessageBus) PublishOutbound(msg SendMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.outbound <- msg
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (SendMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		if !ok {
			return SendMessage{}, false
		}
		return msg, true
	case <-ctx.Done():
		return SendMessage{}, false
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}
