package watcher

import (
	"sync"
	"time"
)

// debouncer runs the last fn given for a key once the key has been quiet
// for the configured duration.
type debouncer struct {
	wait time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func newDebouncer(wait time.Duration) *debouncer {
	return &debouncer{
		wait:    wait,
		pending: make(map[string]*time.Timer),
	}
}

func (d *debouncer) trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.pending[key]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d.wait, func() {
		d.mu.Lock()
		// a newer trigger replaced us
		if d.pending[key] != t {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()
		fn()
	})
	d.pending[key] = t
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, t := range d.pending {
		t.Stop()
		delete(d.pending, key)
	}
}

func (d *debouncer) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
