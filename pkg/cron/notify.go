package cron

import (
	"context"
	"sync"
)

// defaultBusBuffer is the per-subscriber channel capacity.
const defaultBusBuffer = 64

// NotificationBus fans job-completion notifications out to all current
// subscribers. A slow subscriber never blocks the publisher: when its
// buffer is full the oldest pending notification is dropped and the
// subscriber learns how many it missed on its next receive.
type NotificationBus struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	buffer int
}

// Subscription is one receiver's position on the bus.
type Subscription struct {
	bus    *NotificationBus
	id     int
	ch     chan Notification
	missed int
	closed bool
}

// NewNotificationBus creates a bus with the default per-subscriber
// buffer.
func NewNotificationBus() *NotificationBus {
	return &NotificationBus{
		subs:   make(map[int]*Subscription),
		buffer: defaultBusBuffer,
	}
}

// Subscribe registers a new receiver. It only sees notifications
// published after this call.
func (b *NotificationBus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		bus: b,
		id:  b.nextID,
		ch:  make(chan Notification, b.buffer),
	}
	b.subs[b.nextID] = sub
	b.nextID++
	return sub
}

// Publish delivers n to every current subscriber without blocking.
func (b *NotificationBus) Publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- n:
		default:
			// Full buffer: drop the oldest so the newest survives.
			select {
			case <-sub.ch:
				sub.missed++
			default:
			}
			select {
			case sub.ch <- n:
			default:
				sub.missed++
			}
		}
	}
}

// Subscribers reports the current subscriber count.
func (b *NotificationBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Recv blocks for the next notification. missed reports how many
// notifications were dropped for this subscriber since the previous
// Recv; delivery resumes from the next message, with no replay.
func (s *Subscription) Recv(ctx context.Context) (n Notification, missed int, err error) {
	s.bus.mu.Lock()
	missed = s.missed
	s.missed = 0
	s.bus.mu.Unlock()

	select {
	case n, ok := <-s.ch:
		if !ok {
			return Notification{}, missed, context.Canceled
		}
		return n, missed, nil
	case <-ctx.Done():
		return Notification{}, missed, ctx.Err()
	}
}

// Close removes the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.bus.subs, s.id)
	close(s.ch)
}
