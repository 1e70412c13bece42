package portal

import (
	"errors"
	"fmt"
	"net/url"

	"cargo_portal/internal/config"
	"cargo_portal/internal/identity"
	"cargo_portal/internal/roles"
)

// CallbackPath is the dashboard route that consumes the token fragment.
const CallbackPath = "/auth/callback"

// Target names the dashboard a user is sent to.
type Target string

const (
	TargetInternal Target = "internal"
	TargetClient   Target = "client"
)

// Targets holds the two dashboard base URLs.
type Targets struct {
	Internal string
	Client   string
}

// BaseURL returns the configured base for t.
func (t Targets) BaseURL(target Target) string {
	if target == TargetInternal {
		return t.Internal
	}
	return t.Client
}

// SelectTarget picks the dashboard for role. Ops and admin go to the internal
// dashboard. Everything else goes to the client dashboard unless policy is
// config.UnknownRoleDeny, in which case a role outside {client, ops, admin}
// is rejected.
func SelectTarget(role roles.Role, policy string) (Target, error) {
	if role.IsInternal() {
		return TargetInternal, nil
	}
	if !role.Known() && policy == config.UnknownRoleDeny {
		return "", unknownRoleError(role)
	}
	return TargetClient, nil
}

// BuildCallbackURL replaces the path of base with CallbackPath and carries the
// session tokens in the fragment. The query of base is kept. A missing
// refresh token is sent as "".
func BuildCallbackURL(base string, session *identity.Session) (string, error) {
	if session == nil {
		return "", errors.New("no session to hand off")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid dashboard URL %q: %w", base, err)
	}
	u.Path = CallbackPath
	u.RawPath = ""
	u.Fragment = ""
	u.RawFragment = ""

	fragment := url.Values{
		"access_token":  {session.AccessToken},
		"refresh_token": {session.RefreshToken},
	}
	return u.String() + "#" + fragment.Encode(), nil
}
