/**
 * Work items for the acquisition queue.
 *
 * Author: fetchkit Team
 */

package queue

import "sync/atomic"

// ByteProgress tracks how many bytes of a work item have transferred so far.
type ByteProgress struct {
	Downloaded int64
	Total      int64
}

// Item is a single unit of work dispatched by a Scheduler: one resource's
// current attempt at acquisition, carrying whatever the active Processor
// needs to resume or start the transfer.
type Item struct {
	Handle   interface{}
	ID       string
	Priority int64
	sequence int64
	progress atomic.Pointer[ByteProgress]
}

// NewItem creates a work item. Handle is processor-specific (e.g. a URL,
// a resumable-session token, an object-store key) and is opaque to the
// queue itself.
func NewItem(id string, priority int64, handle interface{}) *Item {
	it := &Item{ID: id, Priority: priority, Handle: handle}
	it.progress.Store(&ByteProgress{})
	return it
}

// Progress returns an immutable snapshot of the item's byte progress.
func (it *Item) Progress() ByteProgress {
	return *it.progress.Load()
}

// SetProgress records a new byte-progress snapshot. Safe for concurrent use.
func (it *Item) SetProgress(downloaded, total int64) {
	it.progress.Store(&ByteProgress{Downloaded: downloaded, Total: total})
}
