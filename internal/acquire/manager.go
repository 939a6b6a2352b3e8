/**
 * Resource manager (component C6) — the acquisition engine's top-level
 * orchestrator.
 *
 * Owns the cache, the worker scheduling, and the progress tracker, and
 * demultiplexes completion callbacks by resource id.
 *
 * Author: fetchkit Team
 */

package acquire

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/VatsalSy/fetchkit/internal/cache"
	"github.com/VatsalSy/fetchkit/internal/checkpoint"
	"github.com/VatsalSy/fetchkit/internal/logger"
	"github.com/VatsalSy/fetchkit/internal/mirror"
	"github.com/VatsalSy/fetchkit/internal/queue"
	"github.com/VatsalSy/fetchkit/pkg/progress"
)

// CompletionCallback fires once, in registration order, when a resource's
// acquisition ends (successfully or not).
type CompletionCallback func(success bool, resourceID string)

// Manager is component C6 of the acquisition engine.
type Manager struct {
	mu          sync.Mutex
	cache       *cache.Cache
	checkpoints *checkpoint.Store // optional; nil disables session bookkeeping
	normal      *queue.Scheduler
	priority    *queue.Scheduler // optional; nil routes urgent work onto normal at priority 1000
	tracker     *progress.NodeTracker
	logger      *logger.Logger
	callbacks   map[string][]CompletionCallback
	itemToOwner map[string]*queue.Scheduler // which scheduler currently owns each item ID
	resources   map[string]mirror.Resource  // resources currently being acquired, for retry lookups
	sessionOf   map[string]string           // resourceID -> checkpoint session ID, for the life of that resource's acquisition
	sessions    map[string]*sessionProgress // checkpoint session ID -> running counters
}

// sessionProgress is the in-memory running total behind one checkpoint
// session's persisted counters, kept so each UPDATE only needs to carry the
// latest snapshot rather than re-deriving it from the database.
type sessionProgress struct {
	total     int
	completed int
	failed    int
	bytes     int64
}

// New creates a resource manager. priorityScheduler may be nil, in which
// case urgent requests are dispatched on normal at an elevated priority
// rather than a dedicated scheduler. checkpoints may also be nil, in which
// case Request's callers get no session bookkeeping for their runs.
func New(c *cache.Cache, checkpoints *checkpoint.Store, normal, priorityScheduler *queue.Scheduler, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Global()
	}
	m := &Manager{
		cache:       c,
		checkpoints: checkpoints,
		normal:      normal,
		priority:    priorityScheduler,
		tracker:     progress.NewNodeTracker(),
		logger:      log,
		callbacks:   make(map[string][]CompletionCallback),
		itemToOwner: make(map[string]*queue.Scheduler),
		resources:   make(map[string]mirror.Resource),
		sessionOf:   make(map[string]string),
		sessions:    make(map[string]*sessionProgress),
	}
	return m
}

// Tracker exposes the manager's progress node tracker.
func (m *Manager) Tracker() *progress.NodeTracker { return m.tracker }

// priorityScore maps a caller-facing download priority to the scheduler's
// integer priority space: normal -> 0, high -> 100, urgent -> effectively
// unbounded (routed to the dedicated priority scheduler when present, or
// priority 1000 on the normal scheduler as a fallback).
func priorityScore(p cache.DownloadPriority, hasDedicatedPriorityScheduler bool) int64 {
	switch p {
	case cache.PriorityHigh:
		return 100
	case cache.PriorityUrgent:
		if hasDedicatedPriorityScheduler {
			return math.MaxInt64
		}
		return 1000
	default:
		return 0
	}
}

func (m *Manager) schedulerFor(p cache.DownloadPriority) *queue.Scheduler {
	if p == cache.PriorityUrgent && m.priority != nil {
		return m.priority
	}
	return m.normal
}

// Request consults the cache for each resource and routes whatever needs
// acquiring onto the appropriate scheduler, registering progress-tracker
// entries for the returned items.
func (m *Manager) Request(ctx context.Context, resources []mirror.Resource, opts cache.RequestOptions) ([]cache.DownloadRequest, error) {
	m.mu.Lock()
	for _, r := range resources {
		m.resources[r.ID] = r
	}
	m.mu.Unlock()

	requests, err := m.cache.RequestDownloads(ctx, resources, opts)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return requests, nil
	}

	sessionID := m.openCheckpointSession(ctx, opts.SessionLabel, requests)

	ids := make([]string, 0, len(requests))
	for i := range requests {
		req := requests[i]
		req.Item.Priority = priorityScore(opts.DownloadPriority, m.priority != nil)
		sched := m.schedulerFor(opts.DownloadPriority)

		m.mu.Lock()
		m.itemToOwner[req.Item.ID] = sched
		if sessionID != "" {
			m.sessionOf[req.ResourceID] = sessionID
		}
		m.mu.Unlock()

		sched.Download(req.Item)
		ids = append(ids, req.Item.ID)
	}
	m.tracker.Add(ids...)

	return requests, nil
}

// openCheckpointSession records a new resumable-run session covering every
// resource this Request call is about to dispatch, so a process restart can
// discover how far an in-flight run got. Returns "" (and logs a warning)
// when no checkpoint store is configured or the session can't be created;
// callers then simply skip per-resource session bookkeeping for this run.
func (m *Manager) openCheckpointSession(ctx context.Context, label string, requests []cache.DownloadRequest) string {
	if m.checkpoints == nil || len(requests) == 0 {
		return ""
	}

	sess := &checkpoint.Session{
		ID:             uuid.NewString(),
		Label:          label,
		Status:         checkpoint.StatusActive,
		TotalResources: len(requests),
	}
	if err := m.checkpoints.Create(ctx, sess); err != nil {
		m.logger.Warn("failed to create checkpoint session", "error", err.Error())
		return ""
	}

	m.mu.Lock()
	m.sessions[sess.ID] = &sessionProgress{total: len(requests)}
	m.mu.Unlock()

	return sess.ID
}

// AddResourceCompletion registers a one-shot callback fired the next time
// resourceID's acquisition completes, successfully or not. Multiple
// callbacks may be registered for the same resource id; they fire in
// registration order.
func (m *Manager) AddResourceCompletion(resourceID string, cb CompletionCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[resourceID] = append(m.callbacks[resourceID], cb)
}

func (m *Manager) fireCallbacks(resourceID string, success bool, bytes int64) {
	m.mu.Lock()
	cbs := m.callbacks[resourceID]
	delete(m.callbacks, resourceID)
	delete(m.resources, resourceID)
	sessionID, hasSession := m.sessionOf[resourceID]
	delete(m.sessionOf, resourceID)
	m.mu.Unlock()

	if hasSession {
		m.recordCheckpointOutcome(sessionID, success, bytes)
	}

	for _, cb := range cbs {
		cb(success, resourceID)
	}
}

// recordCheckpointOutcome persists one resource's terminal outcome against
// its run's checkpoint session, transitioning the session to its own
// terminal status once every resource it covers has reported in.
func (m *Manager) recordCheckpointOutcome(sessionID string, success bool, bytes int64) {
	if m.checkpoints == nil {
		return
	}

	m.mu.Lock()
	sp, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if success {
		sp.completed++
	} else {
		sp.failed++
	}
	sp.bytes += bytes
	completed, failed, total, totalBytes := sp.completed, sp.failed, sp.total, sp.bytes
	done := completed+failed >= total
	if done {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	ctx := context.Background()
	if err := m.checkpoints.UpdateProgress(ctx, sessionID, completed, failed, totalBytes); err != nil {
		m.logger.Warn("failed to update checkpoint progress", "error", err.Error())
	}
	if !done {
		return
	}

	status := checkpoint.StatusCompleted
	if failed > 0 {
		status = checkpoint.StatusFailed
	}
	if err := m.checkpoints.UpdateStatus(ctx, sessionID, status); err != nil {
		m.logger.Warn("failed to update checkpoint status", "error", err.Error())
	}
}

// Resume forwards to both schedulers and reattaches any out-of-band
// transfers.
func (m *Manager) Resume() {
	m.normal.Resume()
	if m.priority != nil {
		m.priority.Resume()
	}
}

// Pause forwards to both schedulers.
func (m *Manager) Pause() {
	m.normal.Pause()
	if m.priority != nil {
		m.priority.Pause()
	}
}

// DownloadDidStart implements queue.SchedulerDelegate; it is a no-op here
// since nothing in this component needs to react to dispatch, only to
// terminal outcomes.
func (m *Manager) DownloadDidStart(it *queue.Item) {}

// DownloadDidFinish implements queue.SchedulerDelegate: on success it
// promotes the transfer via the cache, fires the resource's completion
// callbacks, and records the completion in the progress tracker.
func (m *Manager) DownloadDidFinish(it *queue.Item, tempLocation string) error {
	req, err := m.cache.Finish(context.Background(), it.ID, tempLocation)
	if err != nil {
		m.tracker.Complete(it.ID, err)
		if req == nil {
			req = m.cache.DownloadRequestFor(it.ID)
		}
		if req != nil {
			m.fireCallbacks(req.ResourceID, false, 0)
		}
		return err
	}
	if req == nil {
		return nil
	}

	m.mu.Lock()
	delete(m.itemToOwner, it.ID)
	m.mu.Unlock()

	m.tracker.Complete(it.ID, nil)
	m.fireCallbacks(req.ResourceID, true, it.Progress().Downloaded)
	return nil
}

// DownloadDidFail implements queue.SchedulerDelegate: it consults the
// cache (and, through it, the mirror policy) for a replacement work item.
// If one comes back, it is resubmitted to the owning scheduler; otherwise
// the resource's acquisition is terminal and callbacks fire with failure.
func (m *Manager) DownloadDidFail(it *queue.Item, failErr error) {
	resourceReq := m.cache.DownloadRequestFor(it.ID)
	if resourceReq == nil {
		m.tracker.Complete(it.ID, failErr)
		return
	}

	resource, ok := m.resourceLookup(resourceReq.ResourceID)
	if !ok {
		m.tracker.Complete(it.ID, failErr)
		m.fireCallbacks(resourceReq.ResourceID, false, 0)
		return
	}

	retryReq, err := m.cache.Fail(resource, it.ID, failErr)
	if err != nil {
		m.tracker.Complete(it.ID, err)
		m.fireCallbacks(resourceReq.ResourceID, false, 0)
		return
	}

	m.tracker.Complete(it.ID, failErr)

	if retryReq == nil {
		m.fireCallbacks(resourceReq.ResourceID, false, 0)
		return
	}

	m.mu.Lock()
	sched := m.itemToOwner[it.ID]
	delete(m.itemToOwner, it.ID)
	if sched == nil {
		sched = m.normal
	}
	m.itemToOwner[retryReq.Item.ID] = sched
	m.mu.Unlock()

	m.tracker.Add(retryReq.Item.ID)
	sched.Download(retryReq.Item)
}

// resourceLookup resolves a resource ID against the resources recorded by
// Request (entries are dropped once the resource's callbacks fire), so a
// failed item can be retried against the resource's remaining mirrors.
func (m *Manager) resourceLookup(resourceID string) (mirror.Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[resourceID]
	return r, ok
}
