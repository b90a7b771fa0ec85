// Package identity decides which player identity this process speaks for.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v66/github"
)

// ErrUnknown indicates no identity was configured and none could be
// discovered.
var ErrUnknown = errors.New("player identity is not configured")

// Lookup returns the authenticated login of the remote account.
type Lookup interface {
	Login(ctx context.Context) (string, error)
}

// Resolve returns explicit when set, otherwise the login reported by lookup.
func Resolve(ctx context.Context, explicit string, lookup Lookup) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, nil
	}
	if lookup == nil {
		return "", ErrUnknown
	}
	login, err := lookup.Login(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnknown, err)
	}
	if login = strings.TrimSpace(login); login == "" {
		return "", ErrUnknown
	}
	return login, nil
}

// GitHub looks up the login behind the client's token.
type GitHub struct {
	Client *gh.Client
}

// Login calls GET /user.
func (g GitHub) Login(ctx context.Context) (string, error) {
	if g.Client == nil {
		return "", errors.New("github client is not configured")
	}
	user, _, err := g.Client.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("get authenticated user: %w", err)
	}
	return user.GetLogin(), nil
}
