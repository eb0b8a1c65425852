// Package errors defines the tagged error kinds shared across the client
// core. Every fallible operation returns (or wraps) one of these kinds so
// callers can branch on Kind without parsing message strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a stable, closed error variant. Values are never renumbered —
// callers may persist or log the String() form.
type Kind int

const (
	KindUnknown Kind = iota
	KindIO
	KindDatabase
	KindMigration
	KindWireGuard
	KindKeyDecode
	KindIPParse
	KindAddressParse
	KindHTTP
	KindHTTPEnterpriseDisabled
	KindNoPollingToken
	KindNotFound
	KindConfigParse
	KindCommand
	KindDatetime
	KindConversion
	KindStateLock
	KindJSON
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindDatabase:
		return "database"
	case KindMigration:
		return "migration"
	case KindWireGuard:
		return "wireguard"
	case KindKeyDecode:
		return "key-decode"
	case KindIPParse:
		return "ip-parse"
	case KindAddressParse:
		return "address-parse"
	case KindHTTP:
		return "http"
	case KindHTTPEnterpriseDisabled:
		return "http-enterprise-disabled"
	case KindNoPollingToken:
		return "no-polling-token"
	case KindNotFound:
		return "not-found"
	case KindConfigParse:
		return "config-parse"
	case KindCommand:
		return "command"
	case KindDatetime:
		return "datetime"
	case KindConversion:
		return "conversion"
	case KindStateLock:
		return "state-lock"
	case KindJSON:
		return "json"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a tagged error: a Kind plus an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap creates an Error of kind wrapping err. If err is nil, Wrap returns nil
// so call sites can write `return errors.Wrap(KindIO, "read config", err)`
// directly on an err that might be nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err (or anything it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// NotFound is a convenience constructor for the not-found kind, used on
// disconnects and lookups against entities that no longer exist.
func NotFound(msg string) error {
	return New(KindNotFound, msg)
}
