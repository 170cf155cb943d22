package telegram

import (
	"sync"
	"time"
)

// Conversation states of the add-wallet flow
const (
	StateWaitLabel   = "wait_label"
	StateWaitAddress = "wait_address"
)

// stateTTL drops abandoned conversations
const stateTTL = 15 * time.Minute

// UserState is where a user is in a multi-step conversation
type UserState struct {
	State     string
	Label     string
	UpdatedAt time.Time
}

// StateManager keeps per-user conversation state in memory
type StateManager struct {
	mu     sync.Mutex
	states map[int64]*UserState
	now    func() time.Time
}

func NewStateManager() *StateManager {
	return &StateManager{
		states: make(map[int64]*UserState),
		now:    time.Now,
	}
}

// Set moves the user to state, keeping label for the next step
func (sm *StateManager) Set(userID int64, state, label string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.states[userID] = &UserState{
		State:     state,
		Label:     label,
		UpdatedAt: sm.now(),
	}
}

// Get returns a copy of the user's state, or nil when there is none or it went stale
func (sm *StateManager) Get(userID int64) *UserState {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	st, ok := sm.states[userID]
	if !ok {
		return nil
	}
	if sm.now().Sub(st.UpdatedAt) > stateTTL {
		delete(sm.states, userID)
		return nil
	}
	cp := *st
	return &cp
}

func (sm *StateManager) Clear(userID int64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.states, userID)
}
