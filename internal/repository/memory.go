package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"lifebot-chat/internal/domain"
)

// Memory is an in-process Store for local runs and tests.
type Memory struct {
	mu         sync.Mutex
	selections map[string]domain.Selection
	locks      map[string]actionLock
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		selections: make(map[string]domain.Selection),
		locks:      make(map[string]actionLock),
		now:        time.Now,
	}
}

func (m *Memory) Advance(_ context.Context, sessionID string, change domain.SelectionChange) (domain.Selection, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.Selection{}, errors.New("repository: Advance: session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sel := m.selections[sessionID]
	sel.SessionID = sessionID
	sel.Token++
	sel.ConversationID = change.ConversationID
	if change.SetBot {
		sel.BotID = change.BotID
	}
	sel.UpdatedAt = m.now().UTC().Format(time.RFC3339)
	m.selections[sessionID] = sel
	return sel, nil
}

func (m *Memory) Current(_ context.Context, sessionID string) (domain.Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sel, ok := m.selections[sessionID]
	if !ok {
		return domain.Selection{SessionID: sessionID}, nil
	}
	return sel, nil
}

type actionLock struct {
	owner     string
	expiresAt time.Time
}

func (m *Memory) AcquireAction(_ context.Context, sessionID, action, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessPK(sessionID) + "/" + lockSK(action)
	now := m.now()
	if l, ok := m.locks[key]; ok && !l.expiresAt.Before(now) {
		return false, nil
	}
	m.locks[key] = actionLock{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *Memory) ReleaseAction(_ context.Context, sessionID, action, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessPK(sessionID) + "/" + lockSK(action)
	if l, ok := m.locks[key]; ok && l.owner == owner {
		delete(m.locks, key)
	}
	return nil
}
