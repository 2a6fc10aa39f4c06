// Package rpcerr defines the errors returned by channels and unary calls.
//
// Every failure on the client path is an *Error tagged with a Kind. Callers
// match on the kind with errors.Is and reach the underlying reason with
// errors.Unwrap:
//
//	if errors.Is(err, rpcerr.SendTooLarge) { ... }
//	if errors.Is(err, rpcerr.ErrChannelShutdown) { ... } // reason of an in-flight failure
package rpcerr

import (
	"errors"
	"fmt"
)

// Kind classifies an RPC error.
type Kind uint8

const (
	Other            Kind = iota // Unclassified error
	SendTooLarge                 // Encoded request exceeds the channel's send limit
	ReceiveTooLarge              // Response exceeds the channel's receive limit
	ChannelClosed                // Channel is not open
	AlreadyShutDown              // Shutdown called on a channel that is already shut down
	TransportFailure             // Connection refused, timeout, server error, channel closed mid-call
	Codec                        // Request could not be encoded or response could not be decoded
)

var kindNames = map[Kind]string{
	Other:            "other error",
	SendTooLarge:     "send too large",
	ReceiveTooLarge:  "receive too large",
	ChannelClosed:    "channel closed",
	AlreadyShutDown:  "already shut down",
	TransportFailure: "transport failure",
	Codec:            "codec failure",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error makes a Kind usable as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// ErrChannelShutdown is the reason carried by a TransportFailure when the
// channel is shut down while the call is waiting for its response.
var ErrChannelShutdown = errors.New("channel shut down during call")

// Error is the error type returned on the client path.
type Error struct {
	Kind Kind
	Op   string // Operation that failed, e.g. "call /greet.Greeter/SayHello"
	Err  error  // Underlying reason, may be nil
}

// E builds an *Error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error whose reason is formatted from format and args.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or Other.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}
