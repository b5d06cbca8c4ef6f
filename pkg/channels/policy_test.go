package channels

import "testing"

func TestSenderPolicyDefaults(t *testing.T) {
	open := SenderPolicy{DefaultOpen: true}
	if !open.Admits("anyone") {
		t.Error("open policy with empty allow list should admit everyone")
	}

	closed := SenderPolicy{}
	if closed.Admits("anyone") {
		t.Error("closed policy with empty allow list should admit no one")
	}
}

func TestSenderPolicyIgnoreBeatsAllow(t *testing.T) {
	p := SenderPolicy{
		Allowed: []string{"alice"},
		Ignored: []string{"alice"},
	}
	if p.Admits("alice") {
		t.Error("ignored sender should be dropped even when allowed")
	}
}

func TestSenderPolicyWildcard(t *testing.T) {
	p := SenderPolicy{Allowed: []string{"*"}}
	if !p.Admits("anyone") {
		t.Error("wildcard allow should admit everyone")
	}

	p = SenderPolicy{Allowed: []string{"*"}, Ignored: []string{"*"}}
	if p.Admits("anyone") {
		t.Error("wildcard ignore should drop everyone")
	}
}

func TestSenderPolicyFoldCase(t *testing.T) {
	tests := []struct {
		name   string
		policy SenderPolicy
		sender string
		want   bool
	}{
		{
			name:   "email case insensitive when folding",
			policy: SenderPolicy{Allowed: []string{"User@Example.COM"}, FoldCase: true},
			sender: "user@example.com",
			want:   true,
		},
		{
			name:   "exact match required without folding",
			policy: SenderPolicy{Allowed: []string{"User123"}},
			sender: "user123",
			want:   false,
		},
		{
			name:   "folding applies to ignore list",
			policy: SenderPolicy{DefaultOpen: true, Ignored: []string{"SPAM@example.com"}, FoldCase: true},
			sender: "spam@example.com",
			want:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Admits(tt.sender); got != tt.want {
				t.Errorf("Admits(%q) = %v, want %v", tt.sender, got, tt.want)
			}
		})
	}
}
