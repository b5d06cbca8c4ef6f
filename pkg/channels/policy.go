package channels

import "strings"

// SenderPolicy decides whether an inbound sender is admitted. The
// ignore list always wins over the allow list, and "*" in either list
// matches everyone. An empty allow list admits everyone only when
// DefaultOpen is set; otherwise it admits no one.
type SenderPolicy struct {
	Allowed     []string
	Ignored     []string
	DefaultOpen bool
	// FoldCase compares entries case-insensitively, for backends whose
	// handles are email-style addresses.
	FoldCase bool
}

func (p SenderPolicy) matches(entry, sender string) bool {
	if entry == "*" {
		return true
	}
	if p.FoldCase {
		return strings.EqualFold(entry, sender)
	}
	return entry == sender
}

// IsIgnored reports whether sender is on the ignore list.
func (p SenderPolicy) IsIgnored(sender string) bool {
	for _, entry := range p.Ignored {
		if p.matches(entry, sender) {
			return true
		}
	}
	return false
}

// IsAllowed reports whether sender passes the allow list, without
// consulting the ignore list.
func (p SenderPolicy) IsAllowed(sender string) bool {
	if len(p.Allowed) == 0 {
		return p.DefaultOpen
	}
	for _, entry := range p.Allowed {
		if p.matches(entry, sender) {
			return true
		}
	}
	return false
}

// Admits applies both lists, ignore list first.
func (p SenderPolicy) Admits(sender string) bool {
	if p.IsIgnored(sender) {
		return false
	}
	return p.IsAllowed(sender)
}
