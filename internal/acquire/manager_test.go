package acquire

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fkcache "github.com/VatsalSy/fetchkit/internal/cache"
	"github.com/VatsalSy/fetchkit/internal/checkpoint"
	fkerrors "github.com/VatsalSy/fetchkit/internal/errors"
	"github.com/VatsalSy/fetchkit/internal/mirror"
	"github.com/VatsalSy/fetchkit/internal/queue"
)

// controllableProcessor accepts every item, announces it on began, and
// holds it until its context is cancelled, then reports a cancellation
// error.
type controllableProcessor struct {
	mu       sync.Mutex
	delegate queue.ProcessorDelegate
	began    chan *queue.Item
}

func newControllableProcessor() *controllableProcessor {
	return &controllableProcessor{began: make(chan *queue.Item, 16)}
}

func (p *controllableProcessor) SetDelegate(d queue.ProcessorDelegate)  { p.delegate = d }
func (p *controllableProcessor) CanProcess(it *queue.Item) bool         { return true }
func (p *controllableProcessor) IsActive() bool                        { return true }
func (p *controllableProcessor) Pause()                                {}
func (p *controllableProcessor) Resume()                               {}
func (p *controllableProcessor) EnqueuePending(cb func(*queue.Item)) error { return nil }

func (p *controllableProcessor) Process(ctx context.Context, it *queue.Item) error {
	p.delegate.Began(it)
	p.began <- it
	<-ctx.Done()
	p.delegate.Errored(it, fkerrors.New(fkerrors.ErrorTypeCancelled, "test", it.ID, ctx.Err()))
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fkcache.Cache) {
	t.Helper()
	m, c, _ := newTestManagerWithCheckpoints(t)
	return m, c
}

// newTestManagerWithCheckpoints is like newTestManager but also stands up a
// real checkpoint store, for tests that exercise session bookkeeping.
func newTestManagerWithCheckpoints(t *testing.T) (*Manager, *fkcache.Cache, *checkpoint.Store) {
	t.Helper()
	dir := t.TempDir()
	build := func(r mirror.Resource, m mirror.Mirror) (*queue.Item, error) {
		return queue.NewItem(r.ID+"#"+m.ID, 0, m.Location), nil
	}
	c, err := fkcache.New(filepath.Join(dir, "files"), filepath.Join(dir, "index.db"), 2, build, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	cp, err := checkpoint.Open(filepath.Join(dir, "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cp.Close() })

	normal := queue.NewScheduler(queue.Config{SimultaneousDownloads: 5}, nil, nil)
	m := New(c, cp, normal, nil, nil)
	normal.SetDelegate(m)
	return m, c, cp
}

func testResource(id string) mirror.Resource {
	return mirror.Resource{ID: id, Main: mirror.Mirror{ID: "main", Location: "https://example/" + id}}
}

// S5: cancelling an in-flight resource must not trigger a mirror-policy
// retry, and must fire exactly one failure callback.
func TestManagerCancellationSuppressesRetry(t *testing.T) {
	m, _ := newTestManager(t)
	proc := newControllableProcessor()
	m.normal.Add(proc)

	var callbackCount int
	var callbackSuccess bool
	var mu sync.Mutex
	m.AddResourceCompletion("r1", func(success bool, resourceID string) {
		mu.Lock()
		callbackCount++
		callbackSuccess = success
		mu.Unlock()
	})

	_, err := m.Request(context.Background(), []mirror.Resource{testResource("r1")}, fkcache.RequestOptions{})
	require.NoError(t, err)

	var it *queue.Item
	select {
	case it = <-proc.began:
	case <-time.After(time.Second):
		t.Fatal("item never began processing")
	}

	m.normal.Cancel(it.ID)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return callbackCount == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.False(t, callbackSuccess)
	require.Equal(t, 1, callbackCount)
}

func TestManagerSuccessfulCompletionFiresCallback(t *testing.T) {
	m, _ := newTestManager(t)

	done := make(chan bool, 1)
	m.AddResourceCompletion("ok", func(success bool, resourceID string) {
		done <- success
	})

	reqs, err := m.Request(context.Background(), []mirror.Resource{testResource("ok")}, fkcache.RequestOptions{})
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	tempFile := filepath.Join(t.TempDir(), "ok.bin")
	require.NoError(t, os.WriteFile(tempFile, []byte("x"), 0o644))

	err = m.DownloadDidFinish(reqs[0].Item, tempFile)
	require.NoError(t, err)

	select {
	case success := <-done:
		require.True(t, success)
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired")
	}
}

// With no processor registered, every dispatch attempt fails terminally at
// the scheduler level; the mirror policy should still walk alt -> main ->
// main(retry) -> main(retry) before exhausting and failing the resource
// exactly once.
func TestManagerNoProcessorCascadesThroughMirrorPolicyThenFails(t *testing.T) {
	m, _ := newTestManager(t)

	var callbackCount int
	var callbackSuccess bool
	var mu sync.Mutex
	m.AddResourceCompletion("retryme", func(success bool, resourceID string) {
		mu.Lock()
		callbackCount++
		callbackSuccess = success
		mu.Unlock()
	})

	_, err := m.Request(context.Background(), []mirror.Resource{
		{
			ID:   "retryme",
			Main: mirror.Mirror{ID: "main"},
			Alternates: []mirror.Mirror{
				{ID: "alt", Metadata: map[string]interface{}{"weight": 1}},
			},
		},
	}, fkcache.RequestOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return callbackCount == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.False(t, callbackSuccess)
	require.Equal(t, 0, m.normal.Stats().Queued)
	require.Equal(t, 0, m.normal.Stats().InFlight)
}

// A successful Request/DownloadDidFinish round trip must leave a completed
// checkpoint session behind, discoverable the same way a restarted process
// would discover it.
func TestManagerPersistsCheckpointSessionOnSuccess(t *testing.T) {
	m, _, cp := newTestManagerWithCheckpoints(t)
	ctx := context.Background()

	done := make(chan bool, 1)
	m.AddResourceCompletion("ok", func(success bool, resourceID string) {
		done <- success
	})

	reqs, err := m.Request(ctx, []mirror.Resource{testResource("ok")}, fkcache.RequestOptions{SessionLabel: "nightly pull"})
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	tempFile := filepath.Join(t.TempDir(), "ok.bin")
	require.NoError(t, os.WriteFile(tempFile, []byte("x"), 0o644))

	require.NoError(t, m.DownloadDidFinish(reqs[0].Item, tempFile))

	select {
	case success := <-done:
		require.True(t, success)
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired")
	}

	require.Eventually(t, func() bool {
		active, err := cp.Active(ctx)
		require.NoError(t, err)
		return len(active) == 0
	}, time.Second, time.Millisecond)
}

// A failed resource (no processor registered) must still leave behind a
// checkpoint session transitioned to failed, not left active forever.
func TestManagerPersistsCheckpointSessionOnFailure(t *testing.T) {
	m, _, cp := newTestManagerWithCheckpoints(t)
	ctx := context.Background()

	var callbackCount int
	var mu sync.Mutex
	m.AddResourceCompletion("retryme", func(success bool, resourceID string) {
		mu.Lock()
		callbackCount++
		mu.Unlock()
	})

	_, err := m.Request(ctx, []mirror.Resource{
		{
			ID:   "retryme",
			Main: mirror.Mirror{ID: "main"},
			Alternates: []mirror.Mirror{
				{ID: "alt", Metadata: map[string]interface{}{"weight": 1}},
			},
		},
	}, fkcache.RequestOptions{SessionLabel: "retry test"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return callbackCount == 1
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		active, err := cp.Active(ctx)
		require.NoError(t, err)
		return len(active) == 0
	}, time.Second, time.Millisecond)
}
