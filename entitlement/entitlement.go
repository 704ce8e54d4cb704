// Package entitlement resolves the recording policy (duration cap, premium
// tier) for a user in a guild.
package entitlement

import "context"

// Policy is the recording allowance resolved at session start.
type Policy struct {
	MaxDurationSeconds int  `json:"max_duration_seconds"`
	Premium            bool `json:"premium"`
}

// DefaultMaxDurationSeconds applies when no policy service is configured.
const DefaultMaxDurationSeconds = 3600

// Resolver looks up the policy for a user/guild pair. Resolution happens once
// per session, before any capture resources are acquired; a resolver error
// fails the start synchronously.
type Resolver interface {
	ResolvePolicy(ctx context.Context, userKey, guildKey string) (Policy, error)
}

// Static returns the same policy for everyone. Used when ENTITLEMENT_URL is
// unset and as the fallback in tests.
type Static struct{ Policy Policy }

func (s Static) ResolvePolicy(ctx context.Context, userKey, guildKey string) (Policy, error) {
	p := s.Policy
	if p.MaxDurationSeconds <= 0 {
		p.MaxDurationSeconds = DefaultMaxDurationSeconds
	}
	return p, nil
}
