/**
 * Cache (component C5) — local file cache gating enqueue decisions and
 * owning where finished transfers end up on disk.
 *
 * Promotion from temp to final location renames, falling back to
 * copy+delete across devices; collision-safe naming picks a copy-N suffix
 * on conflict, bounded to a handful of attempts before giving up.
 *
 * Author: fetchkit Team
 */

package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/VatsalSy/fetchkit/internal/errors"
	"github.com/VatsalSy/fetchkit/internal/logger"
	"github.com/VatsalSy/fetchkit/internal/mirror"
	"github.com/VatsalSy/fetchkit/internal/queue"
)

// maxCollisionAttempts bounds how many "copy-N." prefixes Finish will try
// before giving up on promoting a finished transfer.
const maxCollisionAttempts = 3

// ItemBuilder turns a resource + chosen mirror into a dispatchable work
// item; see mirror.ItemBuilder.
type ItemBuilder = mirror.ItemBuilder

// TerminalSink is notified when a resource's acquisition ends terminally
// without ever producing a cached file.
type TerminalSink interface {
	ExhaustedMirrors(resourceID string)
	FailedToGenerate(resourceID, mirrorID string)
}

// Cache is component C5 of the acquisition engine.
type Cache struct {
	mu      sync.Mutex
	baseDir string
	index   *Index
	policy  *mirror.Policy
	logger  *logger.Logger

	pending        map[string]*DownloadRequest // resourceID -> in-flight request
	resourceByItem map[string]string           // item ID -> resource ID
	mirrorByItem   map[string]string           // item ID -> mirror ID
	outerSink      TerminalSink
}

// New creates a cache rooted at baseDir, backed by the sqlite index at
// indexPath, using build to turn a chosen mirror into a work item.
func New(baseDir, indexPath string, maxRetries int, build ItemBuilder, sink TerminalSink, log *logger.Logger) (*Cache, error) {
	if log == nil {
		log = logger.Global()
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	idx, err := OpenIndex(indexPath)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		baseDir:        baseDir,
		index:          idx,
		logger:         log,
		pending:        make(map[string]*DownloadRequest),
		resourceByItem: make(map[string]string),
		mirrorByItem:   make(map[string]string),
		outerSink:      sink,
	}

	wrapped := func(resource mirror.Resource, m mirror.Mirror) (*queue.Item, error) {
		it, err := build(resource, m)
		if err == nil && it != nil {
			c.mu.Lock()
			c.mirrorByItem[it.ID] = m.ID
			c.mu.Unlock()
		}
		return it, err
	}
	c.policy = mirror.New(maxRetries, wrapped, c, log)
	return c, nil
}

// Close releases the underlying index database.
func (c *Cache) Close() error { return c.index.Close() }

// ExhaustedMirrors implements mirror.EventSink.
func (c *Cache) ExhaustedMirrors(resourceID string) {
	c.mu.Lock()
	delete(c.pending, resourceID)
	c.mu.Unlock()
	if c.outerSink != nil {
		c.outerSink.ExhaustedMirrors(resourceID)
	}
}

// FailedToGenerate implements mirror.EventSink.
func (c *Cache) FailedToGenerate(resourceID, mirrorID string) {
	c.mu.Lock()
	delete(c.pending, resourceID)
	c.mu.Unlock()
	if c.outerSink != nil {
		c.outerSink.FailedToGenerate(resourceID, mirrorID)
	}
}

// RequestDownloads consults the cache for each resource: already-cached and
// fresh resources are skipped entirely (no mirror policy call, no
// network); resources already in flight return their existing request
// (request_downloads is idempotent under concurrent duplicate calls);
// everything else is handed to the mirror policy for its initial work
// item.
func (c *Cache) RequestDownloads(ctx context.Context, resources []mirror.Resource, opts RequestOptions) ([]DownloadRequest, error) {
	var out []DownloadRequest

	for _, r := range resources {
		fresh, err := c.isFresh(ctx, r)
		if err != nil {
			return out, err
		}
		if fresh {
			continue
		}

		c.mu.Lock()
		if existing, ok := c.pending[r.ID]; ok {
			c.mu.Unlock()
			out = append(out, *existing)
			continue
		}
		c.mu.Unlock()

		it, err := c.policy.Select(r)
		if err != nil {
			return out, err
		}
		if it == nil {
			continue
		}

		req := DownloadRequest{ResourceID: r.ID, Item: it, Options: opts}
		c.mu.Lock()
		c.pending[r.ID] = &req
		c.resourceByItem[it.ID] = r.ID
		c.mu.Unlock()

		out = append(out, req)
	}

	return out, nil
}

func (c *Cache) isFresh(ctx context.Context, r mirror.Resource) (bool, error) {
	entry, err := c.index.Get(ctx, r.ID)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	if _, statErr := os.Stat(entry.LocalPath); statErr != nil {
		return false, nil
	}
	if r.ModTime != nil && entry.ModTime != nil && entry.ModTime.Before(*r.ModTime) {
		return false, nil
	}
	return true, nil
}

// DownloadRequestFor reverse-looks-up the download request owning a work
// item, or nil if none is tracked.
func (c *Cache) DownloadRequestFor(downloadableID string) *DownloadRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	resourceID, ok := c.resourceByItem[downloadableID]
	if !ok {
		return nil
	}
	req, ok := c.pending[resourceID]
	if !ok {
		return nil
	}
	cp := *req
	return &cp
}

// Finish atomically promotes a finished transfer's temp file into the
// cache directory, records it in the index, clears the resource's mirror
// retry state, and returns the request it completed.
func (c *Cache) Finish(ctx context.Context, downloadableID, tempLocation string) (*DownloadRequest, error) {
	c.mu.Lock()
	resourceID, ok := c.resourceByItem[downloadableID]
	if !ok {
		c.mu.Unlock()
		return nil, nil
	}
	req := c.pending[resourceID]
	mirrorID := c.mirrorByItem[downloadableID]
	c.mu.Unlock()
	if req == nil {
		return nil, nil
	}

	if _, err := os.Stat(tempLocation); err != nil {
		return nil, errors.New(errors.ErrorTypeFilesystem, "cache.finish", tempLocation, err)
	}

	finalPath, err := c.reservePath(ctx, resourceID, filepath.Base(tempLocation))
	if err != nil {
		return nil, err
	}

	if err := promote(tempLocation, finalPath); err != nil {
		return nil, errors.New(errors.ErrorTypeFilesystem, "cache.finish", finalPath, err)
	}

	now := time.Now()
	if err := c.index.Upsert(ctx, IndexEntry{
		ResourceID:      resourceID,
		LocalPath:       finalPath,
		ModTime:         &now,
		StoragePriority: int(req.Options.StoragePriority),
		SourceMirrorID:  mirrorID,
	}); err != nil {
		return nil, err
	}

	c.policy.OnSuccess(resourceID)

	c.mu.Lock()
	delete(c.pending, resourceID)
	delete(c.resourceByItem, downloadableID)
	delete(c.mirrorByItem, downloadableID)
	c.mu.Unlock()

	return req, nil
}

// reservePath picks a collision-free final path for a resource's file,
// trying the bare name first and then up to maxCollisionAttempts
// "copy-N." prefixed variants.
func (c *Cache) reservePath(ctx context.Context, resourceID, baseName string) (string, error) {
	candidate := filepath.Join(c.baseDir, fmt.Sprintf("%s%s", resourceID, filepath.Ext(baseName)))
	for attempt := 0; attempt <= maxCollisionAttempts; attempt++ {
		inUse, err := c.index.PathInUse(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !inUse {
			if _, statErr := os.Stat(candidate); os.IsNotExist(statErr) {
				return candidate, nil
			}
		}
		attempt1 := attempt + 1
		candidate = filepath.Join(c.baseDir, fmt.Sprintf("copy-%d.%s%s", attempt1, resourceID, filepath.Ext(baseName)))
	}
	return "", errors.New(errors.ErrorTypeFilesystem, "cache.reservePath", candidate, fmt.Errorf("exceeded %d filename collision attempts", maxCollisionAttempts))
}

// promote moves src to dst atomically when possible, falling back to a
// copy-then-delete for cross-device moves.
func promote(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close destination file: %w", err)
	}
	return os.Remove(src)
}

// Fail consults the mirror policy for the next work item to retry, or
// returns nil to signal terminal failure for this resource.
func (c *Cache) Fail(resource mirror.Resource, downloadableID string, err error) (*DownloadRequest, error) {
	c.mu.Lock()
	mirrorID := c.mirrorByItem[downloadableID]
	c.mu.Unlock()

	nextItem, policyErr := c.policy.OnFailure(resource, mirrorID, err)
	if policyErr != nil {
		return nil, policyErr
	}
	if nextItem == nil {
		c.mu.Lock()
		delete(c.pending, resource.ID)
		delete(c.resourceByItem, downloadableID)
		delete(c.mirrorByItem, downloadableID)
		c.mu.Unlock()
		return nil, nil
	}

	c.mu.Lock()
	req := c.pending[resource.ID]
	if req != nil {
		req.Item = nextItem
	}
	delete(c.resourceByItem, downloadableID)
	delete(c.mirrorByItem, downloadableID)
	c.resourceByItem[nextItem.ID] = resource.ID
	c.mu.Unlock()

	if req == nil {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

// Cleanup deletes every non-permanent cached file whose path is not in
// exclude.
func (c *Cache) Cleanup(ctx context.Context, exclude map[string]bool) error {
	entries, err := c.index.All(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if StoragePriority(e.StoragePriority) == StoragePriorityPermanent {
			continue
		}
		if exclude[e.LocalPath] {
			continue
		}
		if err := os.Remove(e.LocalPath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("cache cleanup failed to remove file", "path", e.LocalPath, "error", err)
			continue
		}
		if err := c.index.Delete(ctx, e.ResourceID); err != nil {
			return err
		}
	}
	return nil
}
