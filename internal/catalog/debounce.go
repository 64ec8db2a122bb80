package catalog

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiescence window applied to search input
const DefaultDebounce = 500 * time.Millisecond

// Debouncer delivers the last term of a burst once input has been stable
// for the configured window. Intermediate terms are dropped.
type Debouncer struct {
	wait time.Duration
	fire func(term string)

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	pending    string
	hasPending bool
	stopped    bool
}

func NewDebouncer(wait time.Duration, fire func(term string)) *Debouncer {
	if wait <= 0 {
		wait = DefaultDebounce
	}
	return &Debouncer{wait: wait, fire: fire}
}

// Trigger records term and restarts the quiescence window
func (d *Debouncer) Trigger(term string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending = term
	d.hasPending = true
	d.generation++
	gen := d.generation

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, func() { d.deliver(gen) })
}

func (d *Debouncer) deliver(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.generation || !d.hasPending {
		d.mu.Unlock()
		return
	}
	term := d.pending
	d.hasPending = false
	d.mu.Unlock()

	d.fire(term)
}

// Flush delivers a pending term immediately
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.stopped || !d.hasPending {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	term := d.pending
	d.hasPending = false
	d.mu.Unlock()

	d.fire(term)
}

// Stop drops any pending term. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.hasPending = false
	if d.timer != nil {
		d.timer.Stop()
	}
}
