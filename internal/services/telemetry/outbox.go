package telemetry

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrOutboxClosed is returned by Send once the outbox has been closed.
var ErrOutboxClosed = errors.New("telemetry outbox closed")

// Outbox is a Subscriber that hands snapshots to its own writer goroutine, so
// a slow connection never holds up the broadcaster tick. Only the newest
// snapshot waits; an older one still queued is replaced.
type Outbox struct {
	id    string
	write func(text string) error

	queue chan string
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
	err   error

	replaced atomic.Uint64
}

// NewOutbox starts the writer goroutine. write is only ever called from it.
func NewOutbox(id string, write func(text string) error) *Outbox {
	o := &Outbox{
		id:    id,
		write: write,
		queue: make(chan string, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go o.loop()
	return o
}

func (o *Outbox) ID() string { return o.id }

// Send queues text without blocking. It reports the writer's error once the
// writer has stopped. Only one goroutine may call Send.
func (o *Outbox) Send(text string) error {
	select {
	case <-o.done:
		return o.err
	default:
	}

	select {
	case o.queue <- text:
		return nil
	default:
	}
	select {
	case <-o.queue:
		o.replaced.Add(1)
	default:
	}
	select {
	case o.queue <- text:
	default:
	}
	return nil
}

// Close stops the writer. It does not wait for a write in progress.
func (o *Outbox) Close() {
	o.once.Do(func() { close(o.quit) })
}

// Replaced counts snapshots superseded before the writer got to them.
func (o *Outbox) Replaced() uint64 {
	return o.replaced.Load()
}

func (o *Outbox) loop() {
	defer close(o.done)
	for {
		select {
		case <-o.quit:
			o.err = ErrOutboxClosed
			return
		case text := <-o.queue:
			if err := o.write(text); err != nil {
				o.err = err
				return
			}
		}
	}
}
