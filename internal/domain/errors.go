package domain

import "errors"

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrRunTerminal    = errors.New("run already terminal")
	ErrLogUnavailable = errors.New("audit log unavailable")
	ErrLogRejected    = errors.New("audit log rejected entry")
)
