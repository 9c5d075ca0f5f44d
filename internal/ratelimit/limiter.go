// Package ratelimit counts attempts per key in a sliding window and admits
// or rejects. The bias is fail-closed: under contention the limiter may
// overcount, never undercount, and transport failures deny.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Limiter admits or rejects one attempt for a key.
type Limiter interface {
	Admit(ctx context.Context, key string) bool
}

// Rule is a limit over a sliding window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Rules maps a key's class — the segment before the first ':' — to its
// rule. Keys follow the "<class>:<principal>" template.
type Rules map[string]Rule

// DefaultRules are the shipped limits per key template.
func DefaultRules() Rules {
	return Rules{
		"login":    {Limit: 5, Window: time.Minute},
		"register": {Limit: 3, Window: 5 * time.Minute},
		"reset":    {Limit: 3, Window: 15 * time.Minute},
		"refresh":  {Limit: 10, Window: time.Minute},
		"general":  {Limit: 100, Window: time.Minute},
	}
}

// RuleFor selects the rule for a key, falling back to the general rule for
// unclassified keys.
func (r Rules) RuleFor(key string) Rule {
	class, _, _ := strings.Cut(key, ":")
	if rule, ok := r[class]; ok {
		return rule
	}
	return r["general"]
}

// Disabled admits everything. Installed when RATE_LIMIT_ENABLED is off.
type Disabled struct{}

func (Disabled) Admit(context.Context, string) bool { return true }
