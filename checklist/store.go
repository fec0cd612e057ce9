package checklist

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/voiceline/checkgate/logging"
)

// Item is one reviewable compliance question. IDs are fixed at process start.
type Item struct {
	ID             string    `json:"id"`
	Question       string    `json:"question"`
	Status         Status    `json:"status"`
	Recommendation string    `json:"recommendation"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Snapshot is an immutable copy of the checklist at one point in time.
type Snapshot struct {
	UpdatedAt time.Time `json:"updatedAt"`
	Items     []Item    `json:"items"`
}

// DefaultItems returns the built-in review template: the Agora deployment
// checklist the gateway ships with.
func DefaultItems() []Item {
	now := time.Now()
	return []Item{
		{ID: "item-1", Question: "Mixed usage of string and integer UIDs.", Status: StatusPending, UpdatedAt: now},
		{ID: "item-2", Question: "Enabled token and deploy a token server.", Status: StatusPending, UpdatedAt: now},
		{ID: "item-3", Question: "Initialize Agora engine before join the channel.", Status: StatusPending, UpdatedAt: now},
	}
}

// Locator identifies a checklist item by id, 1-based position or a
// case-insensitive substring of the question, tried in that priority order.
type Locator struct {
	ID     string
	Number int64 // 1-based; 0 means unset
	Name   string
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this many snapshots behind is dropped instead of blocking mutations.
const subscriberBuffer = 8

type subscriber struct {
	ch     chan []byte
	closed bool
}

// Options configure a Store.
type Options struct {
	Logger logging.Logger
}

// Store owns the checklist document. Update and Reset are the only mutators
// and are atomic with respect to Snapshot readers. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	template []Item // immutable ids/questions used by Reset
	items    []Item
	subs     map[*subscriber]struct{}
	logger   logging.Logger
}

// NewStore constructs a store from the given items, or from DefaultItems
// when none are provided.
func NewStore(items []Item, optFns ...func(o *Options)) *Store {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(items) == 0 {
		items = DefaultItems()
	}

	s := &Store{
		template: append([]Item(nil), items...),
		items:    append([]Item(nil), items...),
		subs:     map[*subscriber]struct{}{},
		logger:   opts.Logger,
	}

	return s
}

// Snapshot returns a defensive copy of all items plus a timestamp. The
// returned slice never aliases internal state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		UpdatedAt: time.Now(),
		Items:     append([]Item(nil), s.items...),
	}
}

// Find resolves a locator to an item copy. Resolution priority: exact id
// match, then 1-based index, then first case-insensitive substring match
// against the question text.
func (s *Store) Find(loc Locator) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.findLocked(loc); idx >= 0 {
		return s.items[idx], true
	}
	return Item{}, false
}

func (s *Store) findLocked(loc Locator) int {
	if id := strings.ToLower(strings.TrimSpace(loc.ID)); id != "" {
		for i := range s.items {
			if strings.ToLower(s.items[i].ID) == id {
				return i
			}
		}
	}
	if loc.Number >= 1 && loc.Number <= int64(len(s.items)) {
		return int(loc.Number - 1)
	}
	if name := strings.ToLower(strings.TrimSpace(loc.Name)); name != "" {
		for i := range s.items {
			if strings.Contains(strings.ToLower(s.items[i].Question), name) {
				return i
			}
		}
	}
	return -1
}

// Update sets the status (and, when non-nil, the recommendation) of the item
// the locator resolves to and broadcasts the new snapshot. It returns the
// updated item, the status it replaced, and whether any item matched.
func (s *Store) Update(loc Locator, status Status, recommendation *string) (Item, Status, bool) {
	s.mu.Lock()
	idx := s.findLocked(loc)
	if idx < 0 {
		s.mu.Unlock()
		return Item{}, "", false
	}

	previous := s.items[idx].Status
	s.items[idx].Status = status
	if recommendation != nil {
		s.items[idx].Recommendation = *recommendation
	}
	s.items[idx].UpdatedAt = time.Now()
	updated := s.items[idx]
	s.mu.Unlock()

	s.logger.Info("checklist.item.updated",
		"item_id", updated.ID,
		"previous", string(previous),
		"status", string(status),
	)
	s.broadcast()

	return updated, previous, true
}

// Reset returns every item to pending with an empty recommendation and
// broadcasts the fresh snapshot.
func (s *Store) Reset() {
	now := time.Now()
	s.mu.Lock()
	items := make([]Item, len(s.template))
	for i, item := range s.template {
		item.Status = StatusPending
		item.Recommendation = ""
		item.UpdatedAt = now
		items[i] = item
	}
	s.items = items
	s.mu.Unlock()

	s.logger.Info("checklist.reset")
	s.broadcast()
}

// Subscribe registers a live snapshot sink. The returned channel receives one
// serialized snapshot per mutation; the cancel func must be called when the
// consumer goes away. A consumer that stops draining is pruned silently, and
// its channel is closed.
func (s *Store) Subscribe() (<-chan []byte, func()) {
	sub := &subscriber{ch: make(chan []byte, subscriberBuffer)}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		s.removeLocked(sub)
		s.mu.Unlock()
	}

	return sub.ch, cancel
}

// removeLocked drops a subscriber and closes its channel exactly once.
// Caller must hold the write lock.
func (s *Store) removeLocked(sub *subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(s.subs, sub)
	close(sub.ch)
}

// broadcast pushes the current snapshot to every live subscriber. Sends are
// non-blocking: a subscriber with a full buffer is dropped so a stalled
// consumer cannot delay mutations.
func (s *Store) broadcast() {
	payload, err := json.Marshal(s.Snapshot())
	if err != nil {
		s.logger.Error("checklist.broadcast.marshal_failed", "error", err.Error())
		return
	}

	s.mu.Lock()
	for sub := range s.subs {
		select {
		case sub.ch <- payload:
		default:
			s.logger.Warn("checklist.subscriber.dropped", "buffered", strconv.Itoa(len(sub.ch)))
			s.removeLocked(sub)
		}
	}
	s.mu.Unlock()
}
