package telemetry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"droneaid/internal/logger"

	"github.com/benbjohnson/clock"
)

// ErrStopped is returned when the broadcaster is no longer running.
var ErrStopped = errors.New("telemetry broadcaster stopped")

// Subscriber receives encoded snapshots.
type Subscriber interface {
	ID() string
	Send(text string) error
}

// Stats are the broadcaster counters.
type Stats struct {
	Snapshots   uint64 `json:"snapshots"`
	Delivered   uint64 `json:"delivered"`
	Commands    uint64 `json:"commands"`
	Subscribers int64  `json:"subscribers"`
	Commanders  int64  `json:"commanders"`
}

type command struct {
	id   string
	text string
}

// Broadcaster sends one snapshot per tick to every subscriber. All of its
// state is owned by the goroutine running Run.
type Broadcaster struct {
	interval time.Duration
	clock    clock.Clock
	synth    *Synthesizer
	logger   *logger.Logger

	register   chan Subscriber
	unregister chan string
	attach     chan string
	detach     chan string
	commands   chan command
	done       chan struct{}

	snapshots   atomic.Uint64
	delivered   atomic.Uint64
	received    atomic.Uint64
	subscribers atomic.Int64
	commanders  atomic.Int64
}

func NewBroadcaster(interval time.Duration, synth *Synthesizer, clk clock.Clock, logger *logger.Logger) *Broadcaster {
	if clk == nil {
		clk = clock.New()
	}
	return &Broadcaster{
		interval:   interval,
		clock:      clk,
		synth:      synth,
		logger:     logger,
		register:   make(chan Subscriber),
		unregister: make(chan string),
		attach:     make(chan string),
		detach:     make(chan string),
		commands:   make(chan command),
		done:       make(chan struct{}),
	}
}

// Run is the single worker loop. It returns when ctx ends.
func (b *Broadcaster) Run(ctx context.Context) error {
	defer close(b.done)

	ticker := b.clock.Ticker(b.interval)
	defer ticker.Stop()

	subscribers := make(map[string]Subscriber)
	commanders := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telemetry broadcaster stopped after %d snapshot(s)", b.snapshots.Load())
			return nil

		case sub := <-b.register:
			subscribers[sub.ID()] = sub
			b.subscribers.Store(int64(len(subscribers)))
			b.logger.Info("Telemetry client %s connected. Total: %d", sub.ID(), len(subscribers))

		case id := <-b.unregister:
			if _, ok := subscribers[id]; ok {
				delete(subscribers, id)
				b.subscribers.Store(int64(len(subscribers)))
				b.logger.Info("Telemetry client %s disconnected. Total: %d", id, len(subscribers))
			}

		case id := <-b.attach:
			commanders[id] = struct{}{}
			b.commanders.Store(int64(len(commanders)))
			b.logger.Info("Command client %s connected", id)

		case id := <-b.detach:
			if _, ok := commanders[id]; ok {
				delete(commanders, id)
				b.commanders.Store(int64(len(commanders)))
				b.logger.Info("Command client %s disconnected", id)
			}

		case cmd := <-b.commands:
			b.received.Add(1)
			b.logger.Info("Demo mode - received command: %s", cmd.text)

		case <-ticker.C:
			text := b.synth.Next().String()
			b.snapshots.Add(1)
			for id, sub := range subscribers {
				if err := sub.Send(text); err != nil {
					b.logger.Warning("Dropping telemetry client %s: %v", id, err)
					delete(subscribers, id)
					b.subscribers.Store(int64(len(subscribers)))
					continue
				}
				b.delivered.Add(1)
			}
		}
	}
}

func send[T any](b *Broadcaster, ch chan T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-b.done:
		return ErrStopped
	}
}

// Subscribe adds a telemetry receiver. It gets snapshots from the next tick on.
func (b *Broadcaster) Subscribe(sub Subscriber) error {
	return send(b, b.register, sub)
}

func (b *Broadcaster) Unsubscribe(id string) error {
	return send(b, b.unregister, id)
}

// AttachCommander records a command channel client.
func (b *Broadcaster) AttachCommander(id string) error {
	return send(b, b.attach, id)
}

func (b *Broadcaster) DetachCommander(id string) error {
	return send(b, b.detach, id)
}

// Command hands an inbound command to the worker. Commands are only logged.
func (b *Broadcaster) Command(id, text string) error {
	return send(b, b.commands, command{id: id, text: text})
}

func (b *Broadcaster) Stats() Stats {
	return Stats{
		Snapshots:   b.snapshots.Load(),
		Delivered:   b.delivered.Load(),
		Commands:    b.received.Load(),
		Subscribers: b.subscribers.Load(),
		Commanders:  b.commanders.Load(),
	}
}
