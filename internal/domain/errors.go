package domain

import "errors"

var (
	ErrBadRequest        = errors.New("bad request")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrRejectedSignature = errors.New("rejected signature")
	ErrInvalidState      = errors.New("invalid state")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrDeadline          = errors.New("deadline exceeded")
	ErrSlowPeer          = errors.New("chunk read timeout")
	ErrDecrypt           = errors.New("decrypt failed")
	ErrVerification      = errors.New("verification failed")
	ErrWasm              = errors.New("wasm execution failed")
	ErrProxy             = errors.New("outbound bridge unavailable")
	ErrInternal          = errors.New("internal error")
)
