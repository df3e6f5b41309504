// Package auth resolves the short numeric PINs workers sign in with to an
// actor name and an admin flag. The directory is deployment configuration,
// not remote state: the remote script re-checks PINs on every write.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/vtpt/vtpt-meter/cache"
	"github.com/vtpt/vtpt-meter/errors"
	"github.com/vtpt/vtpt-meter/storage"
)

// Identity is a resolved caller.
type Identity struct {
	Name  string `json:"name" yaml:"name"`
	Admin bool   `json:"admin" yaml:"admin"`
}

// Directory maps PINs to identities.
type Directory struct {
	entries map[string]Identity
}

// NewDirectory builds a directory from a pin -> identity map.
func NewDirectory(entries map[string]Identity) *Directory {
	copied := make(map[string]Identity, len(entries))
	for pin, id := range entries {
		copied[strings.TrimSpace(pin)] = id
	}
	return &Directory{entries: copied}
}

// Resolve returns the identity for pin. Unknown or empty PINs are an
// authorization failure: blocking, not retried, cleared by re-entry.
func (d *Directory) Resolve(pin string) (Identity, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return Identity{}, errors.NewAuthError(errors.OpAuth, fmt.Errorf("missing PIN"))
	}
	id, ok := d.entries[pin]
	if !ok {
		return Identity{}, errors.NewAuthError(errors.OpAuth, fmt.Errorf("unknown PIN"))
	}
	return id, nil
}

// RequireAdmin resolves pin and rejects non-admin identities. Admin-only
// operations (cycleSet, approve) go through this gate before any network
// call is made.
func (d *Directory) RequireAdmin(pin string) (Identity, error) {
	id, err := d.Resolve(pin)
	if err != nil {
		return Identity{}, err
	}
	if !id.Admin {
		return Identity{}, errors.NewAuthError(errors.OpAuth, fmt.Errorf("%s is not an admin", id.Name))
	}
	return id, nil
}

// Session remembers the last good PIN in the local store so a worker does
// not re-enter it on every command.
type Session struct {
	kv storage.KV
}

// NewSession creates a session over the local store.
func NewSession(kv storage.KV) *Session {
	return &Session{kv: kv}
}

// Save persists pin as the active session.
func (s *Session) Save(ctx context.Context, pin string) error {
	return cache.Write(ctx, s.kv, cache.KeySession, pin)
}

// Load returns the persisted PIN, or empty when no session exists.
func (s *Session) Load(ctx context.Context) string {
	env := cache.Read[string](ctx, s.kv, cache.KeySession)
	if env == nil {
		return ""
	}
	return env.Data
}

// Clear drops the persisted session, typically after an auth failure.
func (s *Session) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, cache.KeySession)
}
