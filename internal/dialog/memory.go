package dialog

import (
	"context"
	"slices"
	"sync"

	"travel-time-bot/internal/domain"
)

// MemoryStore is an in-process Store used by local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]domain.UserData
	convs map[string]ConversationState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.UserData),
		convs: make(map[string]ConversationState),
	}
}

func (m *MemoryStore) GetUserData(_ context.Context, key string) (domain.UserData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[key], nil
}

func (m *MemoryStore) PutUserData(_ context.Context, key string, data domain.UserData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[key] = data
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, key string) (ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.convs[key]
	st.Stack = slices.Clone(st.Stack)
	return st, nil
}

// PutConversation rejects writes whose Version no longer matches the stored one.
func (m *MemoryStore) PutConversation(_ context.Context, key string, st ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.convs[key].Version != st.Version {
		return ErrConflict
	}
	m.convs[key] = ConversationState{Stack: slices.Clone(st.Stack), Version: st.Version + 1}
	return nil
}
