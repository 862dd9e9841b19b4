// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps entries in process and ranks them with an exact scan.
type MemoryStore struct {
	mu      sync.RWMutex
	byAgent map[string][]Entry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byAgent: make(map[string][]Entry)}
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if e.AgentID == "" {
			return fmt.Errorf("knowledge entry %q has no agent id", e.ID)
		}
		e = prepare(e)
		list := s.byAgent[e.AgentID]
		replaced := false
		for i := range list {
			if list[i].ID == e.ID {
				list[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, e)
		}
		s.byAgent[e.AgentID] = list
	}
	return nil
}

// TopK implements Store.
func (s *MemoryStore) TopK(_ context.Context, agentID string, embedding []float32, k int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Rank(s.byAgent[agentID], embedding, k), nil
}

// Len returns the number of entries stored for agentID.
func (s *MemoryStore) Len(agentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAgent[agentID])
}

func prepare(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	vec := make([]float32, len(e.Embedding))
	copy(vec, e.Embedding)
	e.Embedding = vec
	return e
}
