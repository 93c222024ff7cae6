package message

import (
	"sort"
	"sync"
)

// DefaultMaxPending bounds the optimistic message map. Sends issued faster
// than confirmations arrive evict the oldest pending entry once the cap is
// reached.
const DefaultMaxPending = 64

// Store merges the authoritative message list with locally-held optimistic
// messages into one ordered, de-duplicated view. Pending entries are never
// mutated, only dropped once a matching authoritative message appears, so
// the pending set shrinks monotonically as confirmations arrive.
//
// The pending map is owned exclusively by the Store and mutated only through
// AddOptimistic, ClearOptimistic, and retirement inside Merge.
type Store struct {
	mu         sync.Mutex
	pending    map[string]Message
	order      []string // pending ids in insertion order
	maxPending int
}

// NewStore creates a message store with the given pending-map cap.
// A cap of zero or less falls back to DefaultMaxPending.
func NewStore(maxPending int) *Store {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Store{
		pending:    make(map[string]Message),
		maxPending: maxPending,
	}
}

// AddOptimistic inserts a locally-synthesized message keyed by its id. When
// the cap is exceeded the oldest pending entry is evicted.
func (s *Store) AddOptimistic(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pending[msg.ID]; !exists {
		s.order = append(s.order, msg.ID)
	}
	s.pending[msg.ID] = msg

	for len(s.pending) > s.maxPending && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.pending, oldest)
	}
}

// ClearOptimistic empties the pending map. Invoked whenever the
// authoritative source context changes (conversation switch) so stale
// entries never leak across conversations.
func (s *Store) ClearOptimistic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]Message)
	s.order = nil
}

// Pending returns the unconfirmed optimistic messages in insertion order.
func (s *Store) Pending() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingInOrder()
}

// PendingCount returns the number of unconfirmed optimistic messages.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Merge combines the authoritative list with surviving pending messages.
// When loaded is false (authoritative list not yet available) it returns
// pending messages only, sorted by CreatedAt. Pending messages whose
// (role, content) signature already appears in the authoritative list are
// retired. The result is sorted ascending by CreatedAt, stable on ties.
func (s *Store) Merge(authoritative []Message, loaded bool) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !loaded {
		merged := s.pendingInOrder()
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].CreatedAt.Before(merged[j].CreatedAt)
		})
		return merged
	}

	confirmed := make(map[string]struct{}, len(authoritative))
	for _, m := range authoritative {
		confirmed[m.Signature()] = struct{}{}
	}

	// Retire confirmed pending entries before building the view.
	surviving := s.order[:0:0]
	for _, id := range s.order {
		if _, ok := confirmed[s.pending[id].Signature()]; ok {
			delete(s.pending, id)
			continue
		}
		surviving = append(surviving, id)
	}
	s.order = surviving

	merged := make([]Message, 0, len(authoritative)+len(s.pending))
	merged = append(merged, authoritative...)
	for _, id := range s.order {
		merged = append(merged, s.pending[id])
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}

// pendingInOrder returns pending messages in insertion order. Caller holds
// the lock.
func (s *Store) pendingInOrder() []Message {
	out := make([]Message, 0, len(s.pending))
	for _, id := range s.order {
		out = append(out, s.pending[id])
	}
	return out
}

// FindStreamingMessage returns the first assistant message in the
// authoritative list that is still being generated, or nil.
func FindStreamingMessage(authoritative []Message) *Message {
	for i := range authoritative {
		if authoritative[i].IsStreaming() {
			return &authoritative[i]
		}
	}
	return nil
}

// IsMessageStreaming reports whether the message with the given id should be
// rendered as streaming. The first tier checks the detected streaming
// message; the second falls back to evaluating the predicate directly on the
// message matching id. Both are gated on the caller-supplied isGenerating
// intent, which lets the UI distinguish "the backend thinks this message is
// unfinished" from "the user is actively still waiting on it".
func IsMessageStreaming(authoritative []Message, id string, isGenerating bool) bool {
	if !isGenerating {
		return false
	}
	if detected := FindStreamingMessage(authoritative); detected != nil && detected.ID == id {
		return true
	}
	for _, m := range authoritative {
		if m.ID == id {
			return m.IsStreaming()
		}
	}
	return false
}
