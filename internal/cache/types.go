package cache

import "github.com/VatsalSy/fetchkit/internal/queue"

// DownloadPriority is the caller-facing priority tier for a request.
type DownloadPriority int

const (
	PriorityNormal DownloadPriority = iota
	PriorityHigh
	PriorityUrgent
)

// RequestOptions configures how a resource acquisition should be treated.
type RequestOptions struct {
	DownloadPriority DownloadPriority
	StoragePriority  StoragePriority

	// SessionLabel, if set, names the checkpoint session acquire.Manager
	// opens to track this Request call's resources; purely descriptive.
	SessionLabel string
}

// DownloadRequest is the handle callers and the cache exchange for a
// resource that needs acquiring (or is already being acquired).
type DownloadRequest struct {
	Item       *queue.Item
	ResourceID string
	Options    RequestOptions
}
