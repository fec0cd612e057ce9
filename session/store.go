package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/voiceline/checkgate/checklist"
	"github.com/voiceline/checkgate/core"
	"github.com/voiceline/checkgate/logging"
)

// DefaultSessionID keys conversations whose requests carry no derivable
// session identifier.
const DefaultSessionID = "default-session"

// MemoryMarker prefixes the synthetic system message that carries the
// checklist digest, so the message can be found and replaced on later turns.
const MemoryMarker = "[SessionMemory]"

// contentKeyLimit bounds the content-derived dedupe key prefix.
const contentKeyLimit = 80

// Entry is one stored conversational turn.
type Entry struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	TurnID    int64           `json:"turn_id"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Memory is the durable state of one session. All access goes through the
// Store, which serializes operations per session.
type Memory struct {
	mu              sync.Mutex
	sessionID       string
	ledger          []Entry
	seen            map[string]struct{}
	statuses        map[string]checklist.Status
	recommendations map[string]string
	lastAskedItemID string
	nextTurn        int64
	updatedAt       time.Time
}

// Options configure a Store.
type Options struct {
	Logger logging.Logger
}

// Store holds every session's Memory, keyed by normalized session id.
// Memories are created lazily; concurrent requests for the same session are
// serialized by a per-memory mutex.
type Store struct {
	mu        sync.RWMutex
	memories  map[string]*Memory
	checklist *checklist.Store
	logger    logging.Logger
}

// NewStore constructs a session store bound to the shared checklist it
// synchronizes from.
func NewStore(cl *checklist.Store, optFns ...func(o *Options)) *Store {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{memories: map[string]*Memory{}, checklist: cl, logger: opts.Logger}
}

// NormalizeID trims a candidate session id, substituting the default key for
// empty values.
func NormalizeID(sessionID string) string {
	if id := strings.TrimSpace(sessionID); id != "" {
		return id
	}
	return DefaultSessionID
}

// get lazily creates and returns the session's memory.
func (s *Store) get(sessionID string) *Memory {
	key := NormalizeID(sessionID)

	s.mu.RLock()
	mem, ok := s.memories[key]
	s.mu.RUnlock()
	if ok {
		return mem
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if mem, ok = s.memories[key]; ok {
		return mem
	}

	mem = &Memory{
		sessionID:       key,
		seen:            map[string]struct{}{},
		statuses:        map[string]checklist.Status{},
		recommendations: map[string]string{},
		updatedAt:       time.Now(),
	}
	for _, item := range s.checklist.Snapshot().Items {
		mem.statuses[item.ID] = checklist.StatusPending
	}
	s.memories[key] = mem
	s.logger.Debug("session.created", "session_id", key)

	return mem
}

// Append folds messages into the session ledger. Duplicates (by id, turn or
// content key) are skipped; messages without a turn id receive the next
// monotonic turn number. Tool-role messages additionally fold their embedded
// checklist result payloads into the session caches.
func (s *Store) Append(sessionID string, messages []core.Message) {
	mem := s.get(sessionID)
	mem.mu.Lock()
	defer mem.mu.Unlock()

	for _, msg := range messages {
		mem.appendLocked(msg)
		if msg.Role == "tool" {
			mem.foldToolPayloadLocked(msg.ContentText())
		}
	}
}

func (m *Memory) appendLocked(msg core.Message) {
	if msg.Role == "system" {
		return
	}

	key := m.dedupeKey(msg)
	if _, dup := m.seen[key]; dup {
		return
	}
	m.seen[key] = struct{}{}

	turn := m.nextTurn
	if msg.TurnID != nil && *msg.TurnID >= 0 {
		turn = *msg.TurnID
	} else {
		m.nextTurn++
	}

	m.ledger = append(m.ledger, Entry{
		Role:      roleOrDefault(msg.Role),
		Content:   msg.Content,
		TurnID:    turn,
		Timestamp: time.Now(),
		Metadata:  msg.Metadata,
	})
	m.updatedAt = time.Now()
	if turn >= m.nextTurn {
		m.nextTurn = turn + 1
	}
}

// dedupeKey derives the replay-idempotence key: explicit message id, then
// explicit turn id, then a content prefix.
func (m *Memory) dedupeKey(msg core.Message) string {
	if len(msg.Metadata) > 0 {
		for _, field := range []string{"message_id", "id"} {
			if v := gjson.GetBytes(msg.Metadata, field); v.Type == gjson.String {
				if id := strings.TrimSpace(v.String()); id != "" {
					return "id:" + id
				}
			}
		}
	}
	if msg.TurnID != nil {
		return fmt.Sprintf("turn:%d:%s", *msg.TurnID, roleOrDefault(msg.Role))
	}
	text := msg.ContentText()
	if runes := []rune(text); len(runes) > contentKeyLimit {
		text = string(runes[:contentKeyLimit])
	}
	return fmt.Sprintf("text:%s:%s", roleOrDefault(msg.Role), text)
}

func roleOrDefault(role string) string {
	if role == "" {
		return "unknown"
	}
	return role
}

// foldToolPayloadLocked mirrors a checklist tool result embedded in a
// tool-role message into the session caches.
func (m *Memory) foldToolPayloadLocked(content string) {
	payload := gjson.Parse(content)
	itemID := payload.Get("item.id").String()
	if itemID == "" {
		return
	}

	candidate := firstString(
		payload.Get("item.status"),
		payload.Get("newStatus"),
		payload.Get("status"),
	)
	if status, ok := checklist.NormalizeStatus(candidate); ok {
		m.statuses[itemID] = status
	}
	if rec := payload.Get("item.recommendation"); rec.Type == gjson.String {
		m.setRecommendationLocked(itemID, rec.String())
	}
}

func (m *Memory) setRecommendationLocked(itemID, rec string) {
	if trimmed := strings.TrimSpace(rec); trimmed != "" {
		m.recommendations[itemID] = trimmed
	} else {
		delete(m.recommendations, itemID)
	}
}

func firstString(results ...gjson.Result) string {
	for _, r := range results {
		if r.Exists() && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

// SyncFromChecklist copies the shared checklist's statuses and
// recommendations into the session caches, the one-directional path that
// realigns session belief with global truth.
func (s *Store) SyncFromChecklist(sessionID string) {
	mem := s.get(sessionID)
	mem.mu.Lock()
	defer mem.mu.Unlock()
	s.syncLocked(mem)
}

func (s *Store) syncLocked(mem *Memory) {
	for _, item := range s.checklist.Snapshot().Items {
		mem.statuses[item.ID] = item.Status
		mem.setRecommendationLocked(item.ID, item.Recommendation)
	}
}

// ApplyToolResult interprets a just-executed checklist tool call and updates
// the session caches directly, then re-syncs from the checklist. Calls to
// tools the session does not track are ignored apart from the sync.
func (s *Store) ApplyToolResult(sessionID string, call core.ToolCall, result any) {
	mem := s.get(sessionID)
	mem.mu.Lock()
	defer mem.mu.Unlock()

	switch call.Function.Name {
	case checklist.ToolUpdateStatus:
		s.applyUpdateLocked(mem, call, result)
	case checklist.ToolReset:
		for id := range mem.statuses {
			mem.statuses[id] = checklist.StatusPending
		}
		mem.recommendations = map[string]string{}
		mem.lastAskedItemID = ""
	}

	mem.updatedAt = time.Now()
	s.syncLocked(mem)
}

func (s *Store) applyUpdateLocked(mem *Memory, call core.ToolCall, result any) {
	args := gjson.Parse(call.Function.Arguments)
	resJSON, err := json.Marshal(result)
	if err != nil {
		resJSON = []byte("{}")
	}
	res := gjson.ParseBytes(resJSON)

	loc := checklist.Locator{
		ID:     firstString(args.Get("item_id"), res.Get("item.id"), res.Get("item_id")),
		Name:   args.Get("item_name").String(),
		Number: args.Get("item_number").Int(),
	}

	targetID := ""
	if item, ok := s.checklist.Find(loc); ok {
		targetID = item.ID
	} else if id := res.Get("item.id").String(); id != "" {
		targetID = id
	}

	candidate := firstString(
		args.Get("status"),
		res.Get("newStatus"),
		res.Get("item.status"),
		res.Get("status"),
	)
	status, ok := checklist.NormalizeStatus(candidate)
	if targetID == "" || !ok {
		return
	}

	mem.statuses[targetID] = status
	if rec := firstResult(args.Get("recommendation"), args.Get("note"), res.Get("item.recommendation")); rec != nil {
		mem.setRecommendationLocked(targetID, rec.String())
	}
	mem.lastAskedItemID = targetID
}

func firstResult(results ...gjson.Result) *gjson.Result {
	for i := range results {
		if results[i].Type == gjson.String {
			return &results[i]
		}
	}
	return nil
}

// Summary renders the session's view of the checklist as a deterministic
// digest, one line per item plus a pointer to the next pending item.
func (s *Store) Summary(sessionID string) string {
	mem := s.get(sessionID)
	mem.mu.Lock()
	defer mem.mu.Unlock()

	items := s.checklist.Snapshot().Items
	lines := make([]string, 0, len(items)+1)
	nextPending := -1

	for i, item := range items {
		status, ok := mem.statuses[item.ID]
		if !ok {
			status = checklist.StatusPending
		}
		if status == checklist.StatusPending && nextPending < 0 {
			nextPending = i
		}
		line := fmt.Sprintf("%d. %s -> %s", i+1, item.Question, status)
		if rec := mem.recommendations[item.ID]; rec != "" {
			line = fmt.Sprintf("%s (recommendation: %s)", line, rec)
		}
		lines = append(lines, line)
	}

	if nextPending >= 0 {
		lines = append(lines, fmt.Sprintf(
			"Next pending item: #%d %q. Ask about this next.",
			nextPending+1, items[nextPending].Question,
		))
	} else {
		lines = append(lines, "Next pending item: none. The checklist is complete—wrap up the session.")
	}

	return strings.Join(lines, "\n")
}

// HasAssistantTurn reports whether the session ledger already contains an
// assistant message, used to decide whether to inject a synthetic greeting.
func (s *Store) HasAssistantTurn(sessionID string) bool {
	mem := s.get(sessionID)
	mem.mu.Lock()
	defer mem.mu.Unlock()
	for _, e := range mem.ledger {
		if e.Role == "assistant" {
			return true
		}
	}
	return false
}

// History returns a copy of the session ledger.
func (s *Store) History(sessionID string) []Entry {
	mem := s.get(sessionID)
	mem.mu.Lock()
	defer mem.mu.Unlock()
	return append([]Entry(nil), mem.ledger...)
}

// Clear drops a single session's memory.
func (s *Store) Clear(sessionID string) {
	key := NormalizeID(sessionID)
	s.mu.Lock()
	delete(s.memories, key)
	s.mu.Unlock()
}

// Reset drops all session memories.
func (s *Store) Reset() {
	s.mu.Lock()
	s.memories = map[string]*Memory{}
	s.mu.Unlock()
	s.logger.Info("session.reset_all")
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memories)
}
