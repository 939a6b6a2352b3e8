/**
 * Scheduler — the download queue/dispatcher (component C3).
 *
 * Generalizes the sync engine's WorkerPool dispatch loop (taskHeap +
 * dispatchTasks + processResults) into a processor-agnostic scheduler: a
 * single owned PriorityQueue, a registered list of capability processors,
 * and a delegate (the resource manager) notified of every lifecycle event.
 * All queue/map mutation happens under one mutex — the scheduler's own
 * serial execution context. The lock is released before the delegate is
 * called and before a Processor's Process, Pause, Resume or EnqueuePending
 * runs; only the quick SetDelegate, IsActive and CanProcess calls are made
 * while it is held.
 *
 * Author: fetchkit Team
 */

package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/VatsalSy/fetchkit/internal/errors"
	"github.com/VatsalSy/fetchkit/internal/logger"
)

// SchedulerDelegate is notified of every scheduler lifecycle transition.
// DownloadDidFinish must synchronously move the temp file into its owning
// location before returning — the processor may delete the temp path
// immediately afterward.
type SchedulerDelegate interface {
	DownloadDidStart(it *Item)
	DownloadDidFinish(it *Item, tempLocation string) error
	DownloadDidFail(it *Item, err error)
}

// Config controls scheduler dispatch behavior.
type Config struct {
	// SimultaneousDownloads caps how many items may be in flight at once.
	// Zero means nothing is dispatched until raised.
	SimultaneousDownloads int
}

// DefaultConfig returns the engine's default scheduler configuration.
func DefaultConfig() Config {
	return Config{SimultaneousDownloads: 20}
}

// Scheduler owns one priority queue and a set of registered processors; it
// is component C3 of the acquisition engine.
type Scheduler struct {
	mu         sync.Mutex
	queue      *PriorityQueue
	processors []Processor
	inFlight   map[string]*inFlightEntry
	active     bool
	cap        int

	delegate      SchedulerDelegate
	notifications *NotificationBus
	logger        *logger.Logger

	processed int64
	failed    int64
	completed int64
}

type inFlightEntry struct {
	item      *Item
	processor Processor
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler with the given delegate and config.
func NewScheduler(cfg Config, delegate SchedulerDelegate, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Global()
	}
	s := &Scheduler{
		queue:         NewPriorityQueue(),
		inFlight:      make(map[string]*inFlightEntry),
		cap:           cfg.SimultaneousDownloads,
		active:        true,
		delegate:      delegate,
		notifications: NewNotificationBus(),
		logger:        log,
	}
	return s
}

// SetDelegate installs (or replaces) the scheduler's delegate. Useful when
// the delegate itself needs a reference to the scheduler at construction
// time, breaking the constructor cycle — mirrors the worker pool's
// SetDownloadManager pattern.
func (s *Scheduler) SetDelegate(d SchedulerDelegate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegate = d
}

// Notifications returns the bus callers can subscribe to for
// download.started / started_transfer / finished / error events.
func (s *Scheduler) Notifications() *NotificationBus { return s.notifications }

// Add registers a processor. Processors are tried in registration order at
// dispatch time, first-accepting wins.
func (s *Scheduler) Add(p Processor) {
	s.mu.Lock()
	p.SetDelegate(s)
	s.processors = append(s.processors, p)
	s.mu.Unlock()
	s.dispatch()
}

// Download enqueues one or more work items. An item whose ID is already
// queued is upgraded in place if the new priority is strictly higher;
// equal-or-lower priority resubmission is a no-op. An item whose ID is
// already in flight is likewise a no-op — the in-flight attempt continues.
func (s *Scheduler) Download(items ...*Item) {
	s.mu.Lock()
	for _, it := range items {
		if _, inFlight := s.inFlight[it.ID]; inFlight {
			continue
		}
		if existing := s.queue.Find(it.ID); existing != nil {
			if it.Priority > existing.Priority {
				s.queue.UpdatePriority(it.ID, it.Priority)
			}
			continue
		}
		s.queue.Enqueue(it)
	}
	s.mu.Unlock()
	s.dispatch()
}

// Cancel cancels one item by ID, whether queued or in flight. Queued items
// are removed from the heap; in-flight items are cancelled via their
// context, which causes the owning processor to report Errored with a
// cancellation error — the resource manager's delegate path then suppresses
// any mirror-policy retry for that outcome.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	removedFromQueue := s.queue.RemoveWhere(func(it *Item) bool { return it.ID == id }) > 0
	entry, inFlight := s.inFlight[id]
	s.mu.Unlock()

	if inFlight && entry.cancel != nil {
		entry.cancel()
	}
	_ = removedFromQueue
}

// CancelAll cancels every queued and in-flight item.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	s.queue.Clear()
	entries := make([]*inFlightEntry, 0, len(s.inFlight))
	for _, e := range s.inFlight {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		if e.cancel != nil {
			e.cancel()
		}
	}
}

// Pause stops new dispatch without disturbing in-flight transfers.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.active = false
	procs := append([]Processor(nil), s.processors...)
	s.mu.Unlock()
	for _, p := range procs {
		p.Pause()
	}
}

// Resume re-enables dispatch and reattaches any out-of-band transfers.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.active = true
	procs := append([]Processor(nil), s.processors...)
	s.mu.Unlock()
	for _, p := range procs {
		p.Resume()
	}
	s.EnqueuePending()
	s.dispatch()
}

// EnqueuePending asks every registered processor to report any transfers
// already underway out-of-band, admitting each into the in-flight set so
// its later lifecycle events flow through the normal delegate path.
func (s *Scheduler) EnqueuePending() {
	s.mu.Lock()
	procs := append([]Processor(nil), s.processors...)
	s.mu.Unlock()
	for _, p := range procs {
		_ = p.EnqueuePending(func(it *Item) {
			s.mu.Lock()
			s.inFlight[it.ID] = &inFlightEntry{item: it, processor: p}
			s.mu.Unlock()
		})
	}
}

// CurrentMaxPriority returns the highest priority currently queued, or
// false if the queue is empty.
func (s *Scheduler) CurrentMaxPriority() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := s.queue.Peek()
	if top == nil {
		return 0, false
	}
	return top.Priority, true
}

// Stats is a point-in-time snapshot of scheduler counters.
type Stats struct {
	Queued    int
	InFlight  int
	Processed int64
	Failed    int64
	Completed int64
}

// Stats returns current scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Queued:    s.queue.Len(),
		InFlight:  len(s.inFlight),
		Processed: atomic.LoadInt64(&s.processed),
		Failed:    atomic.LoadInt64(&s.failed),
		Completed: atomic.LoadInt64(&s.completed),
	}
}

// dispatch drains as much of the queue as capacity allows: while active and
// under the simultaneous-downloads cap, dequeue the highest-priority item,
// find the first processor willing to handle it, and hand it off. An item
// no processor accepts is reported to the delegate's DownloadDidFail with
// an ErrorTypeNoProcessor error; the scheduler itself does not retry it.
func (s *Scheduler) dispatch() {
	for {
		s.mu.Lock()
		if !s.active || s.cap <= 0 || len(s.inFlight) >= s.cap {
			s.mu.Unlock()
			return
		}
		it := s.queue.Dequeue()
		if it == nil {
			s.mu.Unlock()
			return
		}

		var chosen Processor
		for _, p := range s.processors {
			if p.IsActive() && p.CanProcess(it) {
				chosen = p
				break
			}
		}
		if chosen == nil {
			s.mu.Unlock()
			s.logger.Warn("no processor accepted item", "item_id", it.ID)
			if s.delegate != nil {
				s.delegate.DownloadDidFail(it, errors.New(errors.ErrorTypeNoProcessor, "dispatch", it.ID, errNoProcessor))
			}
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		s.inFlight[it.ID] = &inFlightEntry{item: it, processor: chosen, cancel: cancel}
		s.mu.Unlock()

		if s.delegate != nil {
			s.delegate.DownloadDidStart(it)
		}
		s.notifications.Publish(Notification{Type: NotificationStarted, Item: it})

		go s.run(ctx, chosen, it)
	}
}

func (s *Scheduler) run(ctx context.Context, p Processor, it *Item) {
	if err := p.Process(ctx, it); err != nil {
		s.Errored(it, err)
	}
}

var errNoProcessor = &noProcessorError{}

type noProcessorError struct{}

func (e *noProcessorError) Error() string { return "no registered processor accepted this item" }

// The Scheduler is its own Processors' delegate — ProcessorDelegate methods
// below translate transport lifecycle events into scheduler state changes
// and delegate/notification fan-out, per the dispatch algorithm.

func (s *Scheduler) Began(it *Item) {}

func (s *Scheduler) StartedTransfer(it *Item) {
	s.notifications.Publish(Notification{Type: NotificationStartedTransfer, Item: it})
}

func (s *Scheduler) TransferredData(it *Item, downloaded, total int64) {
	it.SetProgress(downloaded, total)
}

// FinishedTransfer is called synchronously on the processor's goroutine: it
// must complete promotion before returning, since the processor may delete
// the temp file the instant this call returns.
func (s *Scheduler) FinishedTransfer(it *Item, tempLocation string) {
	var promoteErr error
	if s.delegate != nil {
		promoteErr = s.delegate.DownloadDidFinish(it, tempLocation)
	}

	s.mu.Lock()
	delete(s.inFlight, it.ID)
	atomic.AddInt64(&s.processed, 1)
	if promoteErr == nil {
		atomic.AddInt64(&s.completed, 1)
	} else {
		atomic.AddInt64(&s.failed, 1)
	}
	s.mu.Unlock()

	if promoteErr != nil {
		s.notifications.Publish(Notification{Type: NotificationError, Item: it, Err: promoteErr})
	} else {
		s.notifications.Publish(Notification{Type: NotificationFinished, Item: it})
	}
	s.dispatch()
}

func (s *Scheduler) Errored(it *Item, err error) {
	s.mu.Lock()
	delete(s.inFlight, it.ID)
	atomic.AddInt64(&s.processed, 1)
	atomic.AddInt64(&s.failed, 1)
	s.mu.Unlock()

	if s.delegate != nil {
		s.delegate.DownloadDidFail(it, err)
	}
	s.notifications.Publish(Notification{Type: NotificationError, Item: it, Err: err})
	s.dispatch()
}

func (s *Scheduler) Finished(it *Item) {}
