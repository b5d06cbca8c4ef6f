package config

// AckReactionConfig controls the emoji acknowledgement picked for
// accepted inbound messages. Rules are evaluated in order; the first
// matching rule wins. When no rule matches, the per-channel pool is
// consulted, then the default pool.
type AckReactionConfig struct {
	Enabled bool `yaml:"enabled"`
	// Strategy is "random" (default) or "first".
	Strategy string `yaml:"strategy"`
	// Emojis is the default pool.
	Emojis []string `yaml:"emojis"`
	// ChannelEmojis maps a channel name to its pool.
	ChannelEmojis map[string][]string `yaml:"channel_emojis"`
	Rules         []AckReactionRule   `yaml:"rules"`
}

// AckReactionRule matches an inbound message and either suppresses the
// acknowledgement or selects from its own emoji pool. Empty match
// fields match everything; "*" entries are wildcards.
type AckReactionRule struct {
	// ChatTypes restricts the rule to "direct" and/or "group" chats.
	ChatTypes []string `yaml:"chat_types"`
	SenderIDs []string `yaml:"sender_ids"`
	ChatIDs   []string `yaml:"chat_ids"`
	// Patterns are case-insensitive regular expressions matched against
	// the message text.
	Patterns []string `yaml:"patterns"`
	// Suppress drops the acknowledgement entirely.
	Suppress bool     `yaml:"suppress"`
	Emojis   []string `yaml:"emojis"`
}
