package watcher

import (
	"log/slog"
	"time"
)

const (
	DefaultDebounce    = 500 * time.Millisecond
	DefaultErrorBuffer = 16
)

// Handler is told about a watched file once its changes have settled.
// exists is false when the file was removed or renamed away.
type Handler interface {
	FileChanged(path string, exists bool) error
}

type Config struct {
	Debounce    time.Duration
	ErrorBuffer int
	Logger      *slog.Logger
}

// Stats is a point-in-time copy of the watcher counters.
type Stats struct {
	Events    int64
	Delivered int64
	Failed    int64
	LastEvent time.Time
}
