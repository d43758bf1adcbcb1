// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Wrap with fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	// BER decoding errors. Either one aborts decoding of the current datagram only.
	ErrBufferExhausted = errors.New("trapd: buffer exhausted")
	ErrLengthTooLong   = errors.New("trapd: length field longer than 4 bytes")

	// Sink errors
	ErrSinkUnknownType = errors.New("trapd: unknown sink type")
	ErrSinkClosed      = errors.New("trapd: sink closed")
	ErrSinkNotReadable = errors.New("trapd: no readable sink configured (enable sqlite or memory)")

	// Query errors
	ErrFilterInvalid = errors.New("trapd: invalid filter expression")

	// Configuration errors
	ErrConfigInvalid = errors.New("trapd: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("trapd: daemon not running")
)
