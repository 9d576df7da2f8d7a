package identity

import "errors"

var (
	ErrStorage       = errors.New("identity storage failure")
	ErrEmptyUserName = errors.New("user name is empty")
	ErrNilDB         = errors.New("database connection is nil")
)
