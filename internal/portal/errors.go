package portal

import (
	"errors"
	"fmt"

	"cargo_portal/internal/identity"
	"cargo_portal/internal/roles"
)

// FailureKind tags why a sign-in attempt ended in the error state.
type FailureKind string

const (
	FailureCredentials    FailureKind = "credentials"
	FailureSessionMissing FailureKind = "session_missing"
	FailureProvider       FailureKind = "provider_unavailable"
	FailureConfig         FailureKind = "configuration"
	FailureRoleLookup     FailureKind = "role_lookup"
	FailureParse          FailureKind = "parse"
	FailureUnknownRole    FailureKind = "unknown_role"
)

// ErrSubmissionInFlight is returned when the same caller submits again
// before the previous attempt finished. Nothing else happens.
var ErrSubmissionInFlight = errors.New("a sign-in is already in progress")

// ErrUnknownRole is wrapped when UNKNOWN_ROLE_POLICY=deny rejects a role.
var ErrUnknownRole = errors.New("unrecognized role")

// SignInError is the tagged failure of a sign-in attempt. Status and Body
// are set for role lookups answered with a non-2xx status.
type SignInError struct {
	Kind   FailureKind
	Status int
	Body   string
	Err    error
}

func (e *SignInError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *SignInError) Unwrap() error { return e.Err }

func classifyLoginError(err error) *SignInError {
	var cfgErr *identity.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return &SignInError{Kind: FailureConfig, Err: err}
	case errors.Is(err, identity.ErrInvalidCredentials):
		return &SignInError{Kind: FailureCredentials, Err: err}
	case errors.Is(err, identity.ErrSessionMissing):
		return &SignInError{Kind: FailureSessionMissing, Err: err}
	default:
		return &SignInError{Kind: FailureProvider, Err: err}
	}
}

func classifyLookupError(err error) *SignInError {
	var lookupErr *roles.LookupError
	if errors.As(err, &lookupErr) {
		return &SignInError{Kind: FailureRoleLookup, Status: lookupErr.Status, Body: lookupErr.Body, Err: err}
	}
	var parseErr *roles.ParseError
	if errors.As(err, &parseErr) {
		return &SignInError{Kind: FailureParse, Err: err}
	}
	return &SignInError{Kind: FailureRoleLookup, Err: err}
}

func unknownRoleError(role roles.Role) *SignInError {
	return &SignInError{Kind: FailureUnknownRole, Err: fmt.Errorf("%w %q", ErrUnknownRole, string(role))}
}
