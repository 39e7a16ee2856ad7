// Package mock provides test doubles for the collaborators of the app
// package: [Player], [Roles] and [Presence].
//
// All mocks are safe for concurrent use and record their calls.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/shzanya/verificationBot/pkg/audio"
)

// Player is a mock prompt player.
type Player struct {
	mu sync.Mutex

	// Err is returned by Play.
	Err error

	// Block, when non-nil, makes Play wait until it is closed or ctx ends.
	Block chan struct{}

	played []string
}

// Play records path and returns Err.
func (p *Player) Play(ctx context.Context, _ audio.Connection, path string) error {
	p.mu.Lock()
	p.played = append(p.played, path)
	block, err := p.Block, p.Err
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Played returns the paths passed to Play in order.
func (p *Player) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.played)
}

// RoleCall records one call to [Roles].
type RoleCall struct {
	Method string
	UserID string
	RoleID string
	Reason string
}

// Roles is a mock role directory.
type Roles struct {
	mu sync.Mutex

	GrantErr  error
	RevokeErr error
	RemoveErr error

	calls []RoleCall
}

// Grant implements the role directory.
func (r *Roles) Grant(_ context.Context, userID, roleID, reason string) error {
	return r.record(RoleCall{Method: "Grant", UserID: userID, RoleID: roleID, Reason: reason})
}

// Revoke implements the role directory.
func (r *Roles) Revoke(_ context.Context, userID, roleID, reason string) error {
	return r.record(RoleCall{Method: "Revoke", UserID: userID, RoleID: roleID, Reason: reason})
}

// Remove implements the role directory.
func (r *Roles) Remove(_ context.Context, userID, reason string) error {
	return r.record(RoleCall{Method: "Remove", UserID: userID, Reason: reason})
}

func (r *Roles) record(c RoleCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	switch c.Method {
	case "Grant":
		return r.GrantErr
	case "Revoke":
		return r.RevokeErr
	default:
		return r.RemoveErr
	}
}

// Calls returns every recorded call in order.
func (r *Roles) Calls() []RoleCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// CallCount returns how many times method was called.
func (r *Roles) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Presence is a mock channel presence. Unset channels are empty.
type Presence struct {
	mu     sync.Mutex
	counts map[string]int
}

// Set sets the human count of channelID.
func (p *Presence) Set(channelID string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts == nil {
		p.counts = make(map[string]int)
	}
	p.counts[channelID] = n
}

// Humans implements the presence lookup.
func (p *Presence) Humans(channelID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[channelID]
}
