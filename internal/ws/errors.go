package ws

import "errors"

var (
	ErrConnectionClosed           = errors.New("connection closed")
	ErrWriteTimeout               = errors.New("write timeout")
	ErrInvalidJSON                = errors.New("invalid JSON")
	ErrNilConnection              = errors.New("nil connection")
	ErrConnectionNotAuthenticated = errors.New("connection not authenticated")
)
