package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: conflict")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrAdminGrant   = errors.New("auth: only an admin may grant or revoke the admin role")
)

// Kind classifies authentication and authorization failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidSignature
	KindMalformed
	KindExpired
	KindBlacklisted
	KindSubjectNotFound
	KindInactiveUser
	KindNoRolesAssigned
	KindInsufficientRole
	KindInsufficientPermission
	KindCyclicHierarchy
	KindInvalidHierarchy
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindInvalidSignature:       "invalid_signature",
	KindMalformed:              "malformed",
	KindExpired:                "expired",
	KindBlacklisted:            "blacklisted",
	KindSubjectNotFound:        "subject_not_found",
	KindInactiveUser:           "inactive_user",
	KindNoRolesAssigned:        "no_roles_assigned",
	KindInsufficientRole:       "insufficient_role",
	KindInsufficientPermission: "insufficient_permission",
	KindCyclicHierarchy:        "cyclic_hierarchy",
	KindInvalidHierarchy:       "invalid_hierarchy",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is matching against *Error values.
var (
	ErrInvalidSignature       = &Error{Kind: KindInvalidSignature}
	ErrMalformed              = &Error{Kind: KindMalformed}
	ErrExpired                = &Error{Kind: KindExpired}
	ErrBlacklisted            = &Error{Kind: KindBlacklisted}
	ErrSubjectNotFound        = &Error{Kind: KindSubjectNotFound}
	ErrInactiveUser           = &Error{Kind: KindInactiveUser}
	ErrNoRolesAssigned        = &Error{Kind: KindNoRolesAssigned}
	ErrInsufficientRole       = &Error{Kind: KindInsufficientRole}
	ErrInsufficientPermission = &Error{Kind: KindInsufficientPermission}
	ErrCyclicHierarchy        = &Error{Kind: KindCyclicHierarchy}
	ErrInvalidHierarchy       = &Error{Kind: KindInvalidHierarchy}
)

// Error is a classified auth failure. Detail is meant for logs, never for end users.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func newError(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	msg := "auth: " + e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the classification from err, or KindUnknown.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// IsAuthentication reports whether err means the caller could not be authenticated.
func IsAuthentication(err error) bool {
	switch KindOf(err) {
	case KindInvalidSignature, KindMalformed, KindExpired, KindBlacklisted, KindSubjectNotFound:
		return true
	}
	return false
}

// IsAuthorization reports whether err means an authenticated caller was refused.
func IsAuthorization(err error) bool {
	switch KindOf(err) {
	case KindInactiveUser, KindNoRolesAssigned, KindInsufficientRole, KindInsufficientPermission:
		return true
	}
	return false
}
