package sfp

import "errors"

// Framing errors, returned by the codec when a frame closes malformed
// (spec.md §7). These are recovered locally by the session: the codec
// soft-resets and, if connected, a NAK(rx_seq) is emitted.
var (
	ErrDataTooShort  = errors.New("sfp: frame body shorter than the CRC trailer")
	ErrCrcFailed     = errors.New("sfp: CRC check failed")
	ErrUnknownHeader = errors.New("sfp: unknown frame header type")
)

// Errors surfaced to the caller — peer misbehaviour or window overflow,
// not auto-recoverable.
var (
	ErrHistoryMiss = errors.New("sfp: NAK for a sequence no longer retained in history")
	ErrInvalidSyn  = errors.New("sfp: SYN with an out-of-range sequence code")
)

// Precondition failures on Write/Connect, surfaced synchronously without
// altering session state.
var (
	ErrWriteSinkAbsent = errors.New("sfp: no write sink installed")
	ErrNotConnected    = errors.New("sfp: session is not connected")
)
