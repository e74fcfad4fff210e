package model

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the participant role attached to a session
type Role string

// Participant roles
const (
	RoleSource       Role = "source"
	RoleModerator    Role = "moderator"
	RoleHeirObserver Role = "heir-observer"
	RoleObserver     Role = "observer"
)

// ErrInvalidRole is returned when a role string is not part of the role set
var ErrInvalidRole = errors.New("invalid role")

var roleRank = map[Role]int{
	RoleObserver:     1,
	RoleHeirObserver: 2,
	RoleModerator:    3,
	RoleSource:       4,
}

// ParseRole parses a role string
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Valid reports whether the role belongs to the role set
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank orders roles by privilege; unknown roles rank zero
func (r Role) Rank() int {
	return roleRank[r]
}

// IsModeratorClass reports whether the role may author feedback
func (r Role) IsModeratorClass() bool {
	return r == RoleModerator || r == RoleSource
}

// Cap returns the lower-privileged of r and limit. It never escalates r.
func (r Role) Cap(limit Role) Role {
	if limit.Valid() && limit.Rank() < r.Rank() {
		return limit
	}
	return r
}

// String implements fmt.Stringer
func (r Role) String() string {
	return string(r)
}
