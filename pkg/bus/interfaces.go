package bus

import "context"

type Publisher interface {
	PublishInbound(ChannelMessage)
	PublishOutbound(SendMessage)
}

type Subscriber interface {
	ConsumeInbound(context.Context) (ChannelMessage, bool)
	SubscribeOutbound(context.Context) (SendMessage, bool)
}

type Broker interface {
	Publisher
	Subscriber
	Close()
}
