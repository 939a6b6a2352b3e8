package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VatsalSy/fetchkit/internal/mirror"
	"github.com/VatsalSy/fetchkit/internal/queue"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	build := func(r mirror.Resource, m mirror.Mirror) (*queue.Item, error) {
		return queue.NewItem(r.ID+"#"+m.ID, 0, m.Location), nil
	}
	c, err := New(filepath.Join(dir, "files"), filepath.Join(dir, "index.db"), 2, build, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testResource(id string) mirror.Resource {
	return mirror.Resource{
		ID:   id,
		Main: mirror.Mirror{ID: "main", Location: "https://example/" + id},
	}
}

// S4: request_downloads on a pre-populated, fresh resource returns no
// requests and never consults the mirror policy.
func TestCacheRequestDownloadsSkipsFreshEntry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	r := testResource("r1")

	reqs, err := c.RequestDownloads(ctx, []mirror.Resource{r}, RequestOptions{})
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	tempFile := filepath.Join(t.TempDir(), "r1.bin")
	require.NoError(t, os.WriteFile(tempFile, []byte("hello"), 0o644))

	_, err = c.Finish(ctx, reqs[0].Item.ID, tempFile)
	require.NoError(t, err)

	reqs2, err := c.RequestDownloads(ctx, []mirror.Resource{r}, RequestOptions{})
	require.NoError(t, err)
	require.Empty(t, reqs2)
}

// S6: two concurrent request_downloads calls for the same uncached
// resource must not enqueue two work items.
func TestCacheRequestDownloadsDedupesConcurrentRequests(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	r := testResource("r2")

	reqsA, err := c.RequestDownloads(ctx, []mirror.Resource{r}, RequestOptions{})
	require.NoError(t, err)
	require.Len(t, reqsA, 1)

	reqsB, err := c.RequestDownloads(ctx, []mirror.Resource{r}, RequestOptions{})
	require.NoError(t, err)
	require.Len(t, reqsB, 1)

	require.Equal(t, reqsA[0].Item.ID, reqsB[0].Item.ID)
}

func TestCacheFinishCollisionNaming(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	r := testResource("dup")
	reqs, err := c.RequestDownloads(ctx, []mirror.Resource{r}, RequestOptions{})
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	// Simulate a stray, untracked file already occupying the path the
	// cache would otherwise pick for this resource.
	strayPath := filepath.Join(c.baseDir, "dup"+filepath.Ext("payload.bin"))
	require.NoError(t, os.MkdirAll(filepath.Dir(strayPath), 0o750))
	require.NoError(t, os.WriteFile(strayPath, []byte("stray"), 0o644))

	tempFile := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(tempFile, []byte("payload"), 0o644))

	req, err := c.Finish(ctx, reqs[0].Item.ID, tempFile)
	require.NoError(t, err)
	require.NotNil(t, req)

	entry, err := c.index.Get(ctx, "dup")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.NotEqual(t, strayPath, entry.LocalPath, "collision must resolve to a copy-N path")
	require.Contains(t, entry.LocalPath, "copy-1.")
}

func TestCacheCleanupSkipsPermanent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	r := testResource("perm")
	reqs, err := c.RequestDownloads(ctx, []mirror.Resource{r}, RequestOptions{StoragePriority: StoragePriorityPermanent})
	require.NoError(t, err)

	tempFile := filepath.Join(t.TempDir(), "perm.bin")
	require.NoError(t, os.WriteFile(tempFile, []byte("x"), 0o644))
	_, err = c.Finish(ctx, reqs[0].Item.ID, tempFile)
	require.NoError(t, err)

	require.NoError(t, c.Cleanup(ctx, nil))

	entries, err := c.index.All(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1, "permanent entry must survive cleanup")
}
