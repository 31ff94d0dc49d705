package domain

import "errors"

var (
	ErrAuthRequired    = errors.New("auth token required")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrConnectTimeout  = errors.New("connect timeout")
	ErrConnectionLost  = errors.New("connection lost")
	ErrNotConnected    = errors.New("channel not connected")
	ErrAlreadyJoined   = errors.New("session already joined")
	ErrNotJoined       = errors.New("no session joined")
	ErrSessionNotFound = errors.New("session not found")
	ErrProfileNotFound = errors.New("quality profile not found")
)
