package queue

import "context"

// Processor is a pluggable transport capability: it knows how to move the
// bytes for a work item from some remote location into a local temp file.
// Implementations live in internal/transport/*; the Scheduler never knows
// which concrete transport is in play, only that it satisfies this
// contract.
type Processor interface {
	// CanProcess reports whether this processor's scheme/capability can
	// handle the given item (inspecting its Handle).
	CanProcess(it *Item) bool

	// Process begins (or resumes) the transfer for it. It must report
	// exactly one terminal event — FinishedTransfer or Errored — to the
	// delegate registered via SetDelegate, unless the item is cancelled
	// first, in which case Errored is still called with a cancellation
	// error.
	Process(ctx context.Context, it *Item) error

	// EnqueuePending re-attaches any transfers that are already underway
	// out-of-band (e.g. a background URLSession the process did not
	// start), reporting them through the same delegate callbacks as cb.
	EnqueuePending(cb func(*Item)) error

	// Pause suspends new dispatch to this processor without cancelling
	// in-flight transfers.
	Pause()

	// Resume reverses Pause.
	Resume()

	// IsActive reports whether the processor is currently accepting work.
	IsActive() bool

	// SetDelegate installs the capability-only back-channel the processor
	// uses to report lifecycle events. Scheduler calls this once at
	// registration time.
	SetDelegate(d ProcessorDelegate)
}

// ProcessorDelegate is the narrow, capability-only handle a Processor holds
// back to its Scheduler. Processors never see the Scheduler itself — only
// this interface — so they cannot reach into scheduler-owned state,
// matching the "processors hold a weak capability-only back-channel"
// guidance.
type ProcessorDelegate interface {
	Began(it *Item)
	StartedTransfer(it *Item)
	TransferredData(it *Item, downloaded, total int64)
	FinishedTransfer(it *Item, tempLocation string)
	Errored(it *Item, err error)
	Finished(it *Item)
}

// CancellationHandle is a handle that cancels one in-flight transfer. The
// Scheduler itself does not use it: it cancels in-flight items through the
// context passed to Process, and removes queued items from the heap.
type CancellationHandle interface {
	Cancel()
}
