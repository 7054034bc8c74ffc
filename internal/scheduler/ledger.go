package scheduler

import "sync"

// Ledger tracks committed CPU slots per node. Capacity comes from a
// callback so runtime config changes (set_config ncpus) take effect on the
// next admission check without any re-plumbing.
type Ledger struct {
	mu        sync.Mutex
	capacity  func(node string) int
	committed map[string]int
}

// NewLedger creates a Ledger backed by the given capacity source.
func NewLedger(capacity func(node string) int) *Ledger {
	return &Ledger{
		capacity:  capacity,
		committed: make(map[string]int),
	}
}

// Capacity returns the total CPU slots of a node.
func (l *Ledger) Capacity(node string) int {
	return l.capacity(node)
}

// Committed returns the CPU slots currently reserved on a node.
func (l *Ledger) Committed(node string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed[node]
}

// TryReserve atomically commits cpus on node iff they fit the remaining
// capacity. It is the only way slots are ever taken.
func (l *Ledger) TryReserve(node string, cpus int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.committed[node]+cpus > l.capacity(node) {
		return false
	}
	l.committed[node] += cpus
	return true
}

// Release returns cpus to the node, flooring at zero. The floor guards
// against double-release on duplicate termination signals.
func (l *Ledger) Release(node string, cpus int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed[node] -= cpus
	if l.committed[node] < 0 {
		l.committed[node] = 0
	}
}
