package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alwaysAcceptProcessor accepts every item, recording dispatch order as it
// goes, and finishes each one when the test sends on release.
type alwaysAcceptProcessor struct {
	mu       sync.Mutex
	delegate ProcessorDelegate
	order    []string
	release  chan struct{}
}

func newAlwaysAcceptProcessor() *alwaysAcceptProcessor {
	return &alwaysAcceptProcessor{release: make(chan struct{}, 64)}
}

func (p *alwaysAcceptProcessor) SetDelegate(d ProcessorDelegate) { p.delegate = d }
func (p *alwaysAcceptProcessor) CanProcess(it *Item) bool        { return true }
func (p *alwaysAcceptProcessor) IsActive() bool                  { return true }
func (p *alwaysAcceptProcessor) Pause()                          {}
func (p *alwaysAcceptProcessor) Resume()                         {}
func (p *alwaysAcceptProcessor) EnqueuePending(cb func(*Item)) error { return nil }

func (p *alwaysAcceptProcessor) Process(ctx context.Context, it *Item) error {
	p.mu.Lock()
	p.order = append(p.order, it.ID)
	p.mu.Unlock()

	p.delegate.Began(it)
	p.delegate.StartedTransfer(it)
	<-p.release
	p.delegate.FinishedTransfer(it, "/tmp/"+it.ID)
	p.delegate.Finished(it)
	return nil
}

func (p *alwaysAcceptProcessor) dispatchOrder() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

type recordingDelegate struct {
	mu       sync.Mutex
	started  []string
	finished []string
	failed   []string
}

func (d *recordingDelegate) DownloadDidStart(it *Item) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = append(d.started, it.ID)
}

func (d *recordingDelegate) DownloadDidFinish(it *Item, tempLocation string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finished = append(d.finished, it.ID)
	return nil
}

func (d *recordingDelegate) DownloadDidFail(it *Item, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = append(d.failed, it.ID)
}

// S1: items a(p=0), b(p=10), c(p=5) with simultaneous_downloads=1 dispatch
// in priority order b, c, a.
func TestSchedulerPriorityReorder(t *testing.T) {
	delegate := &recordingDelegate{}
	proc := newAlwaysAcceptProcessor()
	s := NewScheduler(Config{SimultaneousDownloads: 1}, delegate, nil)
	s.Add(proc)

	a := NewItem("a", 0, nil)
	b := NewItem("b", 10, nil)
	c := NewItem("c", 5, nil)
	s.Download(a, b, c)

	require.Eventually(t, func() bool { return len(proc.dispatchOrder()) == 1 }, time.Second, time.Millisecond)
	proc.release <- struct{}{}
	require.Eventually(t, func() bool { return len(proc.dispatchOrder()) == 2 }, time.Second, time.Millisecond)
	proc.release <- struct{}{}
	require.Eventually(t, func() bool { return len(proc.dispatchOrder()) == 3 }, time.Second, time.Millisecond)
	proc.release <- struct{}{}

	require.Eventually(t, func() bool {
		return s.Stats().Completed == 3
	}, time.Second, time.Millisecond)

	assert.Equal(t, []string{"b", "c", "a"}, proc.dispatchOrder())
}

// S2: resubmitting an already-queued item at a higher priority upgrades it
// in place rather than duplicating it.
func TestSchedulerPriorityUpgrade(t *testing.T) {
	delegate := &recordingDelegate{}
	proc := newAlwaysAcceptProcessor()
	s := NewScheduler(Config{SimultaneousDownloads: 0}, delegate, nil)
	s.Add(proc)

	s.Download(NewItem("a", 0, nil))
	assert.Equal(t, 1, s.queue.Len())

	s.Download(NewItem("a", 100, nil))
	assert.Equal(t, 1, s.queue.Len())
	assert.Equal(t, int64(100), s.queue.Peek().Priority)
}

func TestSchedulerNoProcessorAcceptsIsTerminal(t *testing.T) {
	delegate := &recordingDelegate{}
	s := NewScheduler(Config{SimultaneousDownloads: 1}, delegate, nil)
	s.Download(NewItem("orphan", 0, nil))

	require.Eventually(t, func() bool {
		delegate.mu.Lock()
		defer delegate.mu.Unlock()
		return len(delegate.failed) == 1
	}, time.Second, time.Millisecond)
}

func TestSchedulerZeroCapacityDispatchesNothing(t *testing.T) {
	delegate := &recordingDelegate{}
	proc := newAlwaysAcceptProcessor()
	s := NewScheduler(Config{SimultaneousDownloads: 0}, delegate, nil)
	s.Add(proc)
	s.Download(NewItem("a", 0, nil))

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, proc.dispatchOrder())
	assert.Equal(t, 1, s.Stats().Queued)
}
