// Package errs defines the coordinator's error kinds and the stable strings
// shown to API clients. Internal detail stays in the wrapped cause and is
// logged, never returned to the caller.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a request failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindAuth
	KindInvalidPool
	KindInvalidBlock
	KindStaleBlock
	KindNotAHolder
	KindRateLimited
	KindCooldownActive
	KindDatabase
	KindUpstream
	KindNotRegisteredMiner
	KindVersionIncompatible
	KindInternal
)

// clientStrings are the stable user-facing messages per kind. Wrapped errors
// may override them with a safe message of their own.
var clientStrings = map[Kind]string{
	KindInvalidInput:        "Invalid input",
	KindAuth:                "Invalid signature",
	KindInvalidPool:         "Invalid Uniswap V3 pools",
	KindInvalidBlock:        "Invalid block number",
	KindStaleBlock:          "Block number is stale",
	KindNotAHolder:          "Address does not hold alpha tokens",
	KindRateLimited:         "Rate limit exceeded. Please try again later",
	KindCooldownActive:      "Vote change not allowed",
	KindDatabase:            "Database error",
	KindUpstream:            "Upstream service unavailable",
	KindNotRegisteredMiner:  "Hotkey is not a registered miner",
	KindVersionIncompatible: "Incompatible validator version",
	KindInternal:            "Internal server error",
}

// Error carries a kind, a client-safe message and an optional internal cause.
type Error struct {
	Kind Kind
	Msg  string // client-safe; empty means the kind's default string
	Err  error  // internal cause, logged but never serialized
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.ClientMessage(), e.Err)
	}
	return e.ClientMessage()
}

func (e *Error) Unwrap() error { return e.Err }

// ClientMessage returns the string safe to return to an API caller.
func (e *Error) ClientMessage() string {
	if e.Msg != "" {
		return e.Msg
	}
	if s, ok := clientStrings[e.Kind]; ok {
		return s
	}
	return clientStrings[KindInternal]
}

// New builds a classified error with the kind's default client message.
func New(kind Kind) *Error { return &Error{Kind: kind} }

// Newf builds a classified error with a custom client-safe message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an internal cause. The cause is preserved for
// logging and errors.Is/As but hidden from clients.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the kind from err, walking wrapped chains.
// Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ClientMessage resolves the string an API handler should return for err.
// Unclassified errors collapse to the internal-error string.
func ClientMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.ClientMessage()
	}
	return clientStrings[KindInternal]
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }
