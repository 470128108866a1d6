package state

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrAlreadyRegistered = errors.New("session already registered")
)
