// Package events is the single ordered sink every chat, status and history
// line goes through on its way to the shell.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	KindChat    Kind = "chat"
	KindStatus  Kind = "status"
	KindHistory Kind = "history"
)

const DefaultBufferSize = 256

type Event struct {
	Kind Kind
	Line string
	Time time.Time
}

// Log keeps every published line for polling shells and forwards each
// event to a buffered channel for subscribing ones. A full channel drops
// the event from the channel only.
type Log struct {
	log *slog.Logger

	mu       sync.RWMutex
	messages []string
	ch       chan Event
	closed   bool

	dropped atomic.Int64
}

func NewLog(bufferSize int, log *slog.Logger) *Log {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Log{
		log:      log.With(slog.String("component", "events")),
		messages: make([]string, 0, 64),
		ch:       make(chan Event, bufferSize),
	}
}

func (l *Log) Publish(kind Kind, line string) {
	ev := Event{Kind: kind, Line: line, Time: time.Now()}

	// lock held across the send keeps channel order equal to snapshot order
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, line)
	if l.closed {
		return
	}

	select {
	case l.ch <- ev:
	default:
		if l.dropped.Add(1) == 1 {
			l.log.Warn("event channel full, dropping events for subscriber",
				slog.Int("buffer", cap(l.ch)))
		}
	}
}

func (l *Log) Chat(line string)    { l.Publish(KindChat, line) }
func (l *Log) Status(line string)  { l.Publish(KindStatus, line) }
func (l *Log) History(line string) { l.Publish(KindHistory, line) }

// Messages returns a snapshot of everything published so far, in order.
func (l *Log) Messages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snapshot := make([]string, len(l.messages))
	copy(snapshot, l.messages)
	return snapshot
}

// Events is closed by Close.
func (l *Log) Events() <-chan Event {
	return l.ch
}

// Dropped counts events that did not fit in the channel.
func (l *Log) Dropped() int64 {
	return l.dropped.Load()
}

func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.ch)
}
