// ZeroClaw - personal agent channel runtime
// License: MIT
//
// Copyright (c) 2026 ZeroClaw contributors

package channels

import (
	"context"

	"github.com/parziva-1/zeroclaw/pkg/bus"
	"github.com/parziva-1/zeroclaw/pkg/config"
)

// Channel is the contract every messaging transport implements. Listen
// blocks until the context is cancelled or the transport fails in a way
// the adapter cannot recover from internally; inbound messages flow
// through the sink. Send delivers one outbound message and must be safe
// to call concurrently with Listen.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg bus.SendMessage) error
	Listen(ctx context.Context, sink chan<- bus.ChannelMessage) error
	HealthCheck(ctx context.Context) bool
}

// TypingNotifier is implemented by channels whose backend supports
// typing indicators. Callers bracket long operations with StartTyping
// and StopTyping; both are best-effort.
type TypingNotifier interface {
	StartTyping(recipient string) error
	StopTyping(recipient string) error
}

// WebhookParser is implemented by channels that receive inbound traffic
// as HTTP push payloads instead of owning a connection.
type WebhookParser interface {
	Name() string
	ParseWebhookPayload(payload []byte) []bus.ChannelMessage
}

// FromConfig builds every channel enabled in cfg. The ACP channel's
// response forwarding is wired after construction so it can reference
// any sibling channel by name.
func FromConfig(cfg *config.Config) ([]Channel, error) {
	var chs []Channel

	if cfg.Channels.ACP != nil {
		ch, err := NewACPChannel(*cfg.Channels.ACP)
		if err != nil {
			return nil, err
		}
		chs = append(chs, ch)
	}
	if cfg.Channels.BlueBubbles != nil {
		ch, err := NewBlueBubblesChannel(*cfg.Channels.BlueBubbles)
		if err != nil {
			return nil, err
		}
		chs = append(chs, ch)
	}
	if cfg.Channels.DingTalk != nil {
		ch, err := NewDingTalkChannel(*cfg.Channels.DingTalk)
		if err != nil {
			return nil, err
		}
		chs = append(chs, ch)
	}
	if cfg.Channels.Napcat != nil {
		ch, err := NewNapcatChannel(*cfg.Channels.Napcat)
		if err != nil {
			return nil, err
		}
		chs = append(chs, ch)
	}

	if cfg.Channels.ACP != nil && cfg.Channels.ACP.ResponseChannel != "" {
		for _, ch := range chs {
			acp, ok := ch.(*ACPChannel)
			if !ok {
				continue
			}
			for _, target := range chs {
				if target.Name() == cfg.Channels.ACP.ResponseChannel {
					acp.SetResponseChannel(target)
				}
			}
		}
	}

	return chs, nil
}
