// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryConversation implements ConversationMemory in process.
// Data is lost on restart.
type InMemoryConversation struct {
	mu      sync.RWMutex
	threads map[string][]ConversationMessage
	config  ConversationConfig
}

// NewInMemoryConversation creates a new in-memory conversation store.
func NewInMemoryConversation(config ConversationConfig) *InMemoryConversation {
	return &InMemoryConversation{
		threads: make(map[string][]ConversationMessage),
		config:  config,
	}
}

// AppendMessage adds a message to the thread.
func (m *InMemoryConversation) AppendMessage(_ context.Context, threadID string, msg ConversationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.threads[threadID] = append(m.threads[threadID], normalize(threadID, msg))
	return nil
}

// GetMessages retrieves all messages for a thread.
func (m *InMemoryConversation) GetMessages(ctx context.Context, threadID string) ([]ConversationMessage, error) {
	m.mu.RLock()
	messages := make([]ConversationMessage, len(m.threads[threadID]))
	copy(messages, m.threads[threadID])
	m.mu.RUnlock()

	return m.config.truncate(ctx, messages)
}

// GetRecentMessages retrieves the last N messages for a thread.
func (m *InMemoryConversation) GetRecentMessages(_ context.Context, threadID string, limit int) ([]ConversationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lastN(m.threads[threadID], limit), nil
}

// Clear removes all messages for a thread.
func (m *InMemoryConversation) Clear(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	return nil
}

// ListThreads returns the ids of all threads with history.
func (m *InMemoryConversation) ListThreads() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.threads))
	for id := range m.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MessageCount returns the number of messages in a thread.
func (m *InMemoryConversation) MessageCount(threadID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads[threadID])
}

func normalize(threadID string, msg ConversationMessage) ConversationMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ThreadID = threadID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return msg
}
