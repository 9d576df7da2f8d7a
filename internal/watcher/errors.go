package watcher

import "errors"

var (
	ErrClosed    = errors.New("watcher is closed")
	ErrDirectory = errors.New("path is a directory")
)
