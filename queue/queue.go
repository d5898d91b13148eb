// Package queue implements the dataset hand-off between the internal
// C-STORE listener and the C-MOVE response loop that drains it.
//
// The original design used one process-global queue shared by every
// in-flight retrieval, which lets concurrent C-MOVE/C-GET operations
// interleave and misattribute datasets. This package instead keys a
// fresh bounded queue per in-flight operation (a correlation id chosen
// by the caller, typically the internal AE title or a generated token
// for that retrieval), per the scoped-channel redesign.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/dicomshield/proxy/dicom"
)

// DefaultCapacity bounds a single operation's in-flight dataset backlog.
// Put blocks once a queue is full, applying back-pressure to the
// internal C-STORE handler rather than dropping or erroring.
const DefaultCapacity = 32

// Queue is a bounded FIFO of fully-shielded datasets awaiting forwarding
// for exactly one in-flight retrieval operation. Safe for concurrent
// Put and Get; Put is single-producer per the internal listener's
// sub-operation callback, Get is drained serially by the owning
// MOVE/GET handler.
type Queue struct {
	items chan *dicom.Dataset
}

func newQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{items: make(chan *dicom.Dataset, capacity)}
}

// Put enqueues a dataset, blocking while the queue is full until space
// frees or ctx is done.
func (q *Queue) Put(ctx context.Context, ds *dicom.Dataset) error {
	select {
	case q.items <- ds:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the next dataset, blocking until one arrives, the queue
// is closed and drained, or ctx is done. ok is false once the queue is
// closed and empty.
func (q *Queue) Get(ctx context.Context) (ds *dicom.Dataset, ok bool, err error) {
	select {
	case ds, ok := <-q.items:
		return ds, ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Size reports the number of datasets currently buffered.
func (q *Queue) Size() int {
	return len(q.items)
}

// Discard drains and discards every remaining buffered dataset without
// forwarding them anywhere, used when a client aborts its association
// before a MOVE drain completes.
func (q *Queue) Discard() {
	for {
		select {
		case <-q.items:
		default:
			return
		}
	}
}

func (q *Queue) close() {
	close(q.items)
}

// Manager allocates and tracks per-operation queues keyed by a
// correlation id, replacing the single global queue of the original
// design.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*Queue
}

// NewManager builds an empty queue manager.
func NewManager() *Manager {
	return &Manager{queues: make(map[string]*Queue)}
}

// Open allocates a new queue for the given correlation key. It is an
// error to open a key that already has a live queue - callers must
// choose distinct keys per in-flight operation (e.g. a generated token
// per C-MOVE/C-GET).
func (m *Manager) Open(key string, capacity int) (*Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.queues[key]; exists {
		return nil, fmt.Errorf("queue: operation %q already has an open queue", key)
	}
	q := newQueue(capacity)
	m.queues[key] = q
	return q, nil
}

// Lookup returns the queue registered for key, if any. The internal
// C-STORE listener uses this to route a sub-operation C-STORE to the
// retrieval that requested it.
func (m *Manager) Lookup(key string) (*Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[key]
	return q, ok
}

// Close discards any datasets still buffered and removes the queue from
// the manager. Safe to call once an operation's drain has completed or
// been aborted.
func (m *Manager) Close(key string) {
	m.mu.Lock()
	q, ok := m.queues[key]
	if ok {
		delete(m.queues, key)
	}
	m.mu.Unlock()

	if ok {
		q.Discard()
		q.close()
	}
}
