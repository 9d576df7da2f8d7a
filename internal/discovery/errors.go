package discovery

import "errors"

var (
	ErrNoAnnouncer      = errors.New("no mechanism can announce")
	ErrMechanismStarted = errors.New("mechanism start failed")
)
