package channels

import (
	"testing"

	"github.com/parziva-1/zeroclaw/pkg/config"
)

func TestAckSelectorDisabled(t *testing.T) {
	s, err := NewAckSelector(nil)
	if err != nil {
		t.Fatal(err)
	}
	if sel := s.Select("napcat", AckContext{Text: "hi"}); !sel.Suppressed {
		t.Error("disabled selector should suppress everything")
	}
}

func TestAckSelectorPools(t *testing.T) {
	s, err := NewAckSelector(&config.AckReactionConfig{
		Enabled:  true,
		Strategy: "first",
		Emojis:   []string{"👍", "✅"},
		ChannelEmojis: map[string][]string{
			"napcat": {"🐱"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if sel := s.Select("napcat", AckContext{}); sel.Emoji != "🐱" {
		t.Errorf("channel pool should win, got %q", sel.Emoji)
	}
	if sel := s.Select("dingtalk", AckContext{}); sel.Emoji != "👍" {
		t.Errorf("default pool with first strategy, got %q", sel.Emoji)
	}
}

func TestAckSelectorRules(t *testing.T) {
	s, err := NewAckSelector(&config.AckReactionConfig{
		Enabled:  true,
		Strategy: "first",
		Emojis:   []string{"👍"},
		Rules: []config.AckReactionRule{
			{Patterns: []string{`^urgent\b`}, Suppress: true},
			{ChatTypes: []string{AckChatGroup}, Emojis: []string{"👀"}},
			{SenderIDs: []string{"boss"}, Emojis: []string{"🫡"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		ctx  AckContext
		want AckSelection
	}{
		{
			"suppress rule matches case-insensitively",
			AckContext{Text: "URGENT: do not react", ChatType: AckChatDirect},
			AckSelection{Suppressed: true},
		},
		{
			"group rule wins before sender rule",
			AckContext{Text: "hello", ChatType: AckChatGroup, SenderID: "boss"},
			AckSelection{Emoji: "👀"},
		},
		{
			"sender rule in direct chat",
			AckContext{Text: "hello", ChatType: AckChatDirect, SenderID: "boss"},
			AckSelection{Emoji: "🫡"},
		},
		{
			"no rule falls through to default pool",
			AckContext{Text: "hello", ChatType: AckChatDirect, SenderID: "someone"},
			AckSelection{Emoji: "👍"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Select("napcat", tt.ctx); got != tt.want {
				t.Errorf("Select() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAckSelectorBadPattern(t *testing.T) {
	_, err := NewAckSelector(&config.AckReactionConfig{
		Enabled: true,
		Rules:   []config.AckReactionRule{{Patterns: []string{"("}}},
	})
	if err == nil {
		t.Fatal("invalid regex should be rejected")
	}
}

func TestAckSelectorEmptyPools(t *testing.T) {
	s, err := NewAckSelector(&config.AckReactionConfig{Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if sel := s.Select("napcat", AckContext{Text: "hi"}); !sel.Suppressed {
		t.Error("selector with no pools should suppress")
	}
}
