package session

import "errors"

var (
	ErrHandshake   = errors.New("handshake failed")
	ErrNoRemoteID  = errors.New("no valid id received")
	ErrClosedEarly = errors.New("connection closed before id")
)
