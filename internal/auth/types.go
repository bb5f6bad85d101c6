// Package auth guards the HTTP tool API with bearer API keys. Each key maps
// to a subject carrying goals:read and/or goals:write permissions; read-only
// tools need the former, every mutating tool the latter.
package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSubjectRevoked   = errors.New("api key is disabled")
)

// Permissions understood by the tool API.
const (
	PermissionRead  = "goals:read"
	PermissionWrite = "goals:write"
)

// Mode enumerates the supported authentication providers.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeAPIKey   Mode = "api_key"
)

// Config configures the authentication service.
type Config struct {
	Mode Mode
	Keys []Key
}

// Key is one configured API key. Secret is either the plain key or
// "sha256:<hex>" produced by HashKey.
type Key struct {
	Name        string
	Secret      string
	Permissions []string
	Disabled    bool
}

// Subject is the authenticated caller passed to handlers via context.
type Subject struct {
	Name        string
	Permissions []string
	Disabled    bool

	permissionsSet map[string]struct{}
}

func newSubject(key Key) *Subject {
	s := &Subject{
		Name:        key.Name,
		Permissions: append([]string(nil), key.Permissions...),
		Disabled:    key.Disabled,
	}
	s.normalise()
	return s
}

func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission reports whether the subject has the specified permission.
// goals:write implies goals:read.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	permission = strings.ToLower(strings.TrimSpace(permission))
	if _, ok := s.permissionsSet[permission]; ok {
		return true
	}
	if permission == PermissionRead {
		_, ok := s.permissionsSet[PermissionWrite]
		return ok
	}
	return false
}

// Authorize ensures the subject has all required permissions.
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}
