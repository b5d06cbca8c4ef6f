package bus

// ChannelMessage is the canonical inbound envelope every channel
// adapter produces, regardless of transport.
type ChannelMessage struct {
	// ID is the provider-assigned message id when one exists, otherwise
	// a generated UUID. Used as the deduplication key.
	ID string `json:"id"`
	// Sender is the normalized sender identity.
	Sender string `json:"sender"`
	// ReplyTarget is where replies should go. For group conversations
	// this differs from Sender (it is the chat/group id).
	ReplyTarget string `json:"reply_target"`
	// Content is normalized text; media is represented by bracketed
	// placeholder tokens.
	Content string `json:"content"`
	// Channel is the adapter name that produced this message.
	Channel string `json:"channel"`
	// Timestamp is unix seconds, normalized from provider units.
	Timestamp int64 `json:"timestamp"`
	// ThreadTS carries adapter-specific reply linkage (for OneBot it is
	// the provider message id used for passive replies).
	ThreadTS string `json:"thread_ts,omitempty"`
}

// SendMessage is the canonical outbound envelope handed to a channel
// adapter's Send.
type SendMessage struct {
	// Recipient addressing is adapter-specific: a chat GUID for
	// BlueBubbles, `cid…` or a staff id for DingTalk, `group:`/`user:`
	// prefixed ids for Napcat.
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Subject   string `json:"subject,omitempty"`
	// ThreadTS is reused per adapter, e.g. "reply to this provider
	// message id".
	ThreadTS string `json:"thread_ts,omitempty"`
	// Channel selects the adapter when routed through the bus.
	Channel string `json:"channel,omitempty"`
}
