// Package chaterr defines the error taxonomy shared by the networking and
// sync layers: network failures, server-side rejections, and decode failures.
// Callers classify outcomes with errors.Is against the exported kinds.
package chaterr

import (
	"errors"
	"fmt"
)

// Kind sentinels. Every error produced by the gateway, REST client, or
// protocol layer wraps exactly one of these.
var (
	ErrNetwork  = errors.New("network error")
	ErrServer   = errors.New("server error")
	ErrDecoding = errors.New("decoding error")
)

// Network wraps err as a transport-level failure (unreachable, timeout,
// no session). A nil err yields a bare ErrNetwork with the given message.
func Network(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrNetwork, msg)
	}
	return fmt.Errorf("%w: %s: %w", ErrNetwork, msg, err)
}

// Server wraps a non-2xx response or explicit error payload.
func Server(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrServer, msg)
	}
	return fmt.Errorf("%w: %s: %w", ErrServer, msg, err)
}

// ServerStatus reports a rejected HTTP status code.
func ServerStatus(op string, status int) error {
	return fmt.Errorf("%w: %s: http status %d", ErrServer, op, status)
}

// Decoding wraps a malformed or unexpected payload shape.
func Decoding(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrDecoding, msg)
	}
	return fmt.Errorf("%w: %s: %w", ErrDecoding, msg, err)
}
