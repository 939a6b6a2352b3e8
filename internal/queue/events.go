/**
 * Scheduler notification bus.
 *
 * Generalizes the sync engine's typed event bus (fan-out handlers, buffered
 * channels, priority ordering) down to the four notifications the
 * acquisition engine's scheduler is required to emit.
 *
 * Author: fetchkit Team
 */

package queue

import (
	"sync"
	"time"
)

// NotificationType names one of the scheduler's external notifications.
type NotificationType int

const (
	NotificationStarted NotificationType = iota
	NotificationStartedTransfer
	NotificationFinished
	NotificationError
)

// Notification is a single scheduler event. Item is always the work item
// the notification concerns; for NotificationError, Err carries the
// classified error alongside it (mirroring the "error notifications also
// carry the item under a downloadItem key" contract).
type Notification struct {
	Timestamp time.Time
	Item      *Item
	Err       error
	Type      NotificationType
}

// NotificationHandler consumes notifications.
type NotificationHandler func(Notification)

// NotificationBus fans out scheduler notifications to subscribers. Handlers
// run synchronously under a copy-under-lock, iterate-unlocked pattern: the
// handler slice is copied while holding the lock, then invoked without it,
// so a handler that subscribes/unsubscribes does not deadlock the bus.
type NotificationBus struct {
	mu       sync.RWMutex
	handlers map[NotificationType][]NotificationHandler
	all      []NotificationHandler
}

// NewNotificationBus creates an empty notification bus.
func NewNotificationBus() *NotificationBus {
	return &NotificationBus{
		handlers: make(map[NotificationType][]NotificationHandler),
	}
}

// Subscribe registers a handler for one notification type.
func (nb *NotificationBus) Subscribe(t NotificationType, h NotificationHandler) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	nb.handlers[t] = append(nb.handlers[t], h)
}

// SubscribeAll registers a handler invoked for every notification type.
func (nb *NotificationBus) SubscribeAll(h NotificationHandler) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	nb.all = append(nb.all, h)
}

// Publish delivers a notification to all matching subscribers.
func (nb *NotificationBus) Publish(n Notification) {
	n.Timestamp = time.Now()

	nb.mu.RLock()
	specific := make([]NotificationHandler, len(nb.handlers[n.Type]))
	copy(specific, nb.handlers[n.Type])
	all := make([]NotificationHandler, len(nb.all))
	copy(all, nb.all)
	nb.mu.RUnlock()

	for _, h := range specific {
		h(n)
	}
	for _, h := range all {
		h(n)
	}
}
