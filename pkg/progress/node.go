/**
 * Progress node aggregation (component C7's node half).
 *
 * NodeTracker implements the per-request aggregation the acquisition
 * engine needs: a caller asking
 * for N resources gets one progress.Node reporting completion across all
 * of them, even though each resource completes independently and
 * out-of-order. Each item contributes one unit to its node's total, so a
 * node only reports complete once every item has received an explicit
 * Complete call — matching bytes alone is not enough, since a cancelled or
 * failed item never reaches 100% byte parity.
 *
 * Author: fetchkit Team
 */

package progress

import "sync"

// itemProgress is one work item's last known byte progress and terminal
// state.
type itemProgress struct {
	err       error
	completed bool
	downloaded int64
	total      int64
}

// Node aggregates the progress of a fixed set of work items requested
// together (e.g. everything a single caller's Request call returned).
type Node struct {
	firstError error
	itemIDs    map[string]struct{}
	completed  map[string]bool
}

// TotalUnitCount is the number of items this node tracks.
func (n *Node) TotalUnitCount() int { return len(n.itemIDs) }

// CompletedUnitCount is how many of those items have received a terminal
// Complete call, success or failure.
func (n *Node) CompletedUnitCount() int {
	count := 0
	for _, done := range n.completed {
		if done {
			count++
		}
	}
	return count
}

// IsCompleted reports whether every item in the node has completed.
func (n *Node) IsCompleted() bool {
	return n.CompletedUnitCount() == n.TotalUnitCount()
}

// FirstError returns the first error recorded against any item in the
// node, or nil if every completed item so far succeeded.
func (n *Node) FirstError() error { return n.firstError }

// NodeTracker is the aggregation half of component C7. All state
// transitions are serialized through one mutex — its own serial execution
// context — and callers only ever see immutable snapshots (copies) of
// Node, never the live value.
type NodeTracker struct {
	mu        sync.Mutex
	items     map[string]*itemProgress
	nodes     map[string]*Node
	completed int64
	failed    int64
}

// NewNodeTracker creates an empty node tracker.
func NewNodeTracker() *NodeTracker {
	return &NodeTracker{
		items: make(map[string]*itemProgress),
		nodes: make(map[string]*Node),
	}
}

// Add registers work items as in-progress, each contributing one unit to
// whatever node(s) it later gets grouped under.
func (nt *NodeTracker) Add(itemIDs ...string) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	for _, id := range itemIDs {
		if _, ok := nt.items[id]; !ok {
			nt.items[id] = &itemProgress{}
		}
	}
}

// UpdateBytes records a work item's latest byte progress.
func (nt *NodeTracker) UpdateBytes(itemID string, downloaded, total int64) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	ip, ok := nt.items[itemID]
	if !ok {
		ip = &itemProgress{}
		nt.items[itemID] = ip
	}
	ip.downloaded = downloaded
	ip.total = total
}

// Complete marks a work item terminally finished (err == nil for success),
// updates every node containing it, removes the item, and drops any node
// that is now fully completed.
func (nt *NodeTracker) Complete(itemID string, err error) {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	if err != nil {
		nt.failed++
	} else {
		nt.completed++
	}

	for _, node := range nt.nodes {
		if _, tracked := node.itemIDs[itemID]; !tracked {
			continue
		}
		node.completed[itemID] = true
		if err != nil && node.firstError == nil {
			node.firstError = err
		}
	}

	delete(nt.items, itemID)

	for id, node := range nt.nodes {
		if node.IsCompleted() {
			delete(nt.nodes, id)
		}
	}
}

// Node returns the progress node for requestID aggregating downloadableIDs.
// If a node with that ID already tracks exactly this set of items it is
// reused; otherwise a fresh node replacing it is created (merge-and-replace
// semantics): it holds the existing node's items, completion state and
// first error plus downloadableIDs, letting a caller re-request the same
// node ID with an expanded item set.
func (nt *NodeTracker) Node(requestID string, downloadableIDs []string) *Node {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	existing, ok := nt.nodes[requestID]
	if ok && sameSet(existing.itemIDs, downloadableIDs) {
		cp := *existing
		return &cp
	}

	node := &Node{
		itemIDs:   make(map[string]struct{}, len(downloadableIDs)),
		completed: make(map[string]bool, len(downloadableIDs)),
	}
	if ok {
		for id := range existing.itemIDs {
			node.itemIDs[id] = struct{}{}
		}
		for id, done := range existing.completed {
			node.completed[id] = done
		}
		node.firstError = existing.firstError
	}
	for _, id := range downloadableIDs {
		node.itemIDs[id] = struct{}{}
		if ip, ok := nt.items[id]; ok && ip.completed {
			node.completed[id] = true
		}
	}
	nt.nodes[requestID] = node
	cp := *node
	return &cp
}

// Counts returns the running success/failure counters across all items
// ever completed.
func (nt *NodeTracker) Counts() (completed, failed int64) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	return nt.completed, nt.failed
}

func sameSet(set map[string]struct{}, ids []string) bool {
	if len(set) != len(ids) {
		return false
	}
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
