package channels

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"github.com/parziva-1/zeroclaw/pkg/config"
)

// Chat types an ack rule can match on.
const (
	AckChatDirect = "direct"
	AckChatGroup  = "group"
)

// AckContext describes one accepted inbound message for ack selection.
type AckContext struct {
	Text     string
	SenderID string
	ChatID   string
	ChatType string
}

// AckSelection is the outcome of ack selection. A suppressed selection
// or an empty emoji means no reaction should be sent.
type AckSelection struct {
	Emoji      string
	Suppressed bool
}

type ackRule struct {
	chatTypes []string
	senderIDs []string
	chatIDs   []string
	patterns  []*regexp.Regexp
	suppress  bool
	emojis    []string
}

// AckSelector picks the acknowledgement emoji for inbound messages.
// Rules are evaluated in configuration order; the first match decides.
// Without a match, the channel pool applies, then the default pool.
type AckSelector struct {
	enabled  bool
	first    bool
	emojis   []string
	channels map[string][]string
	rules    []ackRule
	pick     func(n int) int
}

// NewAckSelector compiles cfg. Rule patterns are case-insensitive
// regular expressions; a pattern that fails to compile is a
// configuration error.
func NewAckSelector(cfg *config.AckReactionConfig) (*AckSelector, error) {
	s := &AckSelector{pick: rand.Intn}
	if cfg == nil || !cfg.Enabled {
		return s, nil
	}
	s.enabled = true
	s.first = cfg.Strategy == "first"
	s.emojis = cleanList(cfg.Emojis)
	s.channels = make(map[string][]string, len(cfg.ChannelEmojis))
	for channel, pool := range cfg.ChannelEmojis {
		s.channels[channel] = cleanList(pool)
	}
	for i, rule := range cfg.Rules {
		compiled := ackRule{
			chatTypes: cleanList(rule.ChatTypes),
			senderIDs: cleanList(rule.SenderIDs),
			chatIDs:   cleanList(rule.ChatIDs),
			suppress:  rule.Suppress,
			emojis:    cleanList(rule.Emojis),
		}
		for _, pattern := range rule.Patterns {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, fmt.Errorf("ack rule %d: bad pattern %q: %w", i, pattern, err)
			}
			compiled.patterns = append(compiled.patterns, re)
		}
		s.rules = append(s.rules, compiled)
	}
	return s, nil
}

// Select returns the ack decision for one message on the named channel.
func (s *AckSelector) Select(channel string, ctx AckContext) AckSelection {
	if !s.enabled {
		return AckSelection{Suppressed: true}
	}
	for _, rule := range s.rules {
		if !rule.matches(ctx) {
			continue
		}
		if rule.suppress {
			return AckSelection{Suppressed: true}
		}
		if len(rule.emojis) > 0 {
			return AckSelection{Emoji: s.pickFrom(rule.emojis)}
		}
		break
	}
	if pool, ok := s.channels[channel]; ok && len(pool) > 0 {
		return AckSelection{Emoji: s.pickFrom(pool)}
	}
	if len(s.emojis) > 0 {
		return AckSelection{Emoji: s.pickFrom(s.emojis)}
	}
	return AckSelection{Suppressed: true}
}

func (s *AckSelector) pickFrom(pool []string) string {
	if s.first {
		return pool[0]
	}
	return pool[s.pick(len(pool))]
}

func (r ackRule) matches(ctx AckContext) bool {
	if len(r.chatTypes) > 0 && !listContains(r.chatTypes, ctx.ChatType) {
		return false
	}
	if len(r.senderIDs) > 0 && !listContains(r.senderIDs, ctx.SenderID) {
		return false
	}
	if len(r.chatIDs) > 0 && !listContains(r.chatIDs, ctx.ChatID) {
		return false
	}
	if len(r.patterns) > 0 {
		matched := false
		for _, re := range r.patterns {
			if re.MatchString(ctx.Text) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func listContains(list []string, value string) bool {
	for _, entry := range list {
		if entry == "*" || entry == value {
			return true
		}
	}
	return false
}

func cleanList(list []string) []string {
	var out []string
	for _, entry := range list {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
