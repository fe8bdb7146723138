package gateway

import "sort"

type replayEntry struct {
	Seq  int64
	Data []byte // envelope JSON
}

// ReplayBuffer keeps the most recent envelopes in hub sequence order so a
// reconnecting client can be backfilled with what it missed. It is not
// safe for concurrent use; the hub calls it with its lock held.
type ReplayBuffer struct {
	entries []replayEntry
	limit   int
}

// NewReplayBuffer creates a buffer holding at most capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = defaultReplaySize
	}
	return &ReplayBuffer{entries: make([]replayEntry, 0, capacity), limit: capacity}
}

// Push appends an envelope. Sequence numbers must be increasing. The oldest
// entry is dropped once the buffer is full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	if len(rb.entries) == rb.limit {
		n := copy(rb.entries, rb.entries[1:])
		rb.entries = rb.entries[:n]
	}
	rb.entries = append(rb.entries, replayEntry{Seq: seq, Data: data})
}

// After returns the envelopes with a sequence number greater than seq,
// oldest first.
func (rb *ReplayBuffer) After(seq int64) []replayEntry {
	i := sort.Search(len(rb.entries), func(i int) bool { return rb.entries[i].Seq > seq })
	return rb.entries[i:]
}

// Oldest returns the first buffered sequence number, 0 when empty.
func (rb *ReplayBuffer) Oldest() int64 {
	if len(rb.entries) == 0 {
		return 0
	}
	return rb.entries[0].Seq
}

func (rb *ReplayBuffer) Len() int { return len(rb.entries) }
