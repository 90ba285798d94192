package orchestrator

import "sync"

// CapturedBlob is a self-contained audio payload representing one user
// utterance as delimited by the VAD. Blobs are immutable once constructed.
type CapturedBlob struct {
	Audio     []byte
	Language  Language
	CapturedAt int64 // unix millis, informational only
}

// CaptureQueue decouples the VAD (a real-time producer) from the
// Orchestrator (a variable-latency consumer). It holds at most N blobs and
// applies a coalesce-on-overflow policy: a Push that would exceed N discards
// everything already queued and keeps only the newest blob. Push never
// blocks; Pop blocks until a blob is available or the queue is closed.
type CaptureQueue struct {
	mu     sync.Mutex
	notify chan struct{} // signalled (non-blocking) whenever the queue transitions empty -> non-empty
	items  []CapturedBlob
	bound  int
	closed bool
}

// NewCaptureQueue creates a queue bounded to at most `bound` entries. A
// non-positive bound is treated as 1 (coalesce to "keep only the latest").
func NewCaptureQueue(bound int) *CaptureQueue {
	if bound <= 0 {
		bound = 1
	}
	return &CaptureQueue{
		notify: make(chan struct{}, 1),
		bound:  bound,
	}
}

// Push enqueues blob, never blocking. If the queue would exceed its bound,
// all existing entries are discarded and only blob is kept.
func (q *CaptureQueue) Push(blob CapturedBlob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	if len(q.items)+1 > q.bound {
		q.items = q.items[:0]
	}
	q.items = append(q.items, blob)

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until a blob is available or the queue is closed, in which case
// ok is false.
func (q *CaptureQueue) Pop() (blob CapturedBlob, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			blob = q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return blob, true
		}
		if q.closed {
			q.mu.Unlock()
			return CapturedBlob{}, false
		}
		q.mu.Unlock()

		<-q.notify
	}
}

// Len reports the current queue depth, for metrics.
func (q *CaptureQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close unblocks any waiting Pop and causes future Pops to return ok=false.
// Idempotent.
func (q *CaptureQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
