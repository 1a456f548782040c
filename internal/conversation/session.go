package conversation

import (
	"sync"
	"time"

	"bra_notification_bot/internal/domain/subscription"
)

// SessionTTL is how long a conversation survives without activity.
const SessionTTL = 10 * time.Minute

// Step is the position of a user in the chat flow.
type Step string

const (
	StepIdle             Step = "idle"
	StepSelectMountain   Step = "select_mountain"
	StepSelectMassif     Step = "select_massif"
	StepSelectContent    Step = "select_content"
	StepSelectSubContent Step = "select_sub_content"
)

// Action is what the user intends to do with the selected massif.
type Action string

const (
	ActionNone      Action = ""
	ActionBrowse    Action = "browse"
	ActionSubscribe Action = "subscribe"
	ActionDownload  Action = "download"
)

// State is the per-user conversation context.
type State struct {
	Step         Step
	Action       Action
	Mountain     string
	MassifCode   int
	Content      subscription.ContentPreferences
	LastActivity time.Time
}

func idleState() State {
	return State{Step: StepIdle}
}

// SessionStore holds conversation states in memory with a sliding TTL.
// Expired entries read as idle; Sweep removes them.
type SessionStore struct {
	mu     sync.Mutex
	states map[string]State
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &SessionStore{
		states: make(map[string]State),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *SessionStore) expired(st State, now time.Time) bool {
	return now.Sub(st.LastActivity) > s.ttl
}

// Get returns the user's state, or an idle state when absent or expired.
func (s *SessionStore) Get(userID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	if !ok || s.expired(st, s.now()) {
		return idleState()
	}
	return st
}

// Set stores the state and refreshes its activity time.
func (s *SessionStore) Set(userID string, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.LastActivity = s.now()
	s.states[userID] = st
}

func (s *SessionStore) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
}

// Sweep drops expired entries and returns how many were removed.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, st := range s.states {
		if s.expired(st, now) {
			delete(s.states, id)
			removed++
		}
	}
	return removed
}

// Len is the number of physically stored entries, expired or not.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
