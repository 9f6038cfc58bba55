package broker

// QueueSet holds one FIFO waiting list per mode plus a reverse index so a
// connection can be located and removed in O(1) queues.
//
// Invariant: a connection appears in at most one queue at a time.
//
// QueueSet is not safe for concurrent use on its own; the Broker serializes
// all access under its single mutex.
type QueueSet struct {
	queues map[string][]string // mode id → connection ids, FIFO
	queued map[string]string   // connection id → mode id
}

// NewQueueSet creates an empty QueueSet.
func NewQueueSet() *QueueSet {
	return &QueueSet{
		queues: make(map[string][]string),
		queued: make(map[string]string),
	}
}

// Add appends a connection to the queue for the given mode, first removing it
// from any queue it currently occupies.
//
// Precondition: modeID must be a recognized mode (the caller validates).
// Postcondition: The connection is the newest entry of exactly one queue.
func (q *QueueSet) Add(connID, modeID string) {
	q.Remove(connID)
	q.queues[modeID] = append(q.queues[modeID], connID)
	q.queued[connID] = modeID
}

// Remove takes a connection out of whichever queue holds it. Idempotent.
//
// Postcondition: Returns true if the connection was queued.
func (q *QueueSet) Remove(connID string) bool {
	modeID, ok := q.queued[connID]
	if !ok {
		return false
	}
	delete(q.queued, connID)
	entries := q.queues[modeID]
	for i, id := range entries {
		if id == connID {
			q.queues[modeID] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(q.queues[modeID]) == 0 {
		delete(q.queues, modeID)
	}
	return true
}

// PopReady removes and returns the first required entries of the mode's queue
// when it has reached the required count.
//
// Postcondition: Returns (group, true) with len(group) == required and the
// popped connections no longer queued, or (nil, false) if below threshold.
func (q *QueueSet) PopReady(modeID string, required int) ([]string, bool) {
	entries := q.queues[modeID]
	if len(entries) < required {
		return nil, false
	}
	group := make([]string, required)
	copy(group, entries[:required])
	rest := entries[required:]
	if len(rest) == 0 {
		delete(q.queues, modeID)
	} else {
		q.queues[modeID] = append([]string(nil), rest...)
	}
	for _, id := range group {
		delete(q.queued, id)
	}
	return group, true
}

// Len returns the number of connections waiting in the given mode's queue.
func (q *QueueSet) Len(modeID string) int {
	return len(q.queues[modeID])
}

// ModeOf returns the mode a connection is queued for.
//
// Postcondition: Returns (mode, true) if queued, or ("", false) otherwise.
func (q *QueueSet) ModeOf(connID string) (string, bool) {
	m, ok := q.queued[connID]
	return m, ok
}

// WaitingCount returns the total number of queued connections across modes.
func (q *QueueSet) WaitingCount() int {
	return len(q.queued)
}
