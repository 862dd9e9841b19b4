// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package knowledge stores agent-scoped knowledge entries and ranks them by
// cosine similarity against a query embedding.
package knowledge

import (
	"context"
	"sort"
	"time"

	"github.com/viterin/vek/vek32"
)

// DefaultTopK is the number of entries a knowledge agent grounds its reply on.
const DefaultTopK = 3

// Entry is one piece of an agent's private knowledge.
type Entry struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Match is a ranked search hit. Similarity is 1 - cosine distance.
type Match struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Store is the vector index behind knowledge agents.
type Store interface {
	// TopK returns up to k entries of agentID ordered by descending
	// similarity. Ties keep the store's insertion order.
	TopK(ctx context.Context, agentID string, embedding []float32, k int) ([]Match, error)
	// Upsert inserts entries or replaces those with the same ID.
	Upsert(ctx context.Context, entries []Entry) error
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Vectors of different length, empty vectors and zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := vek32.Norm(a), vek32.Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return float64(vek32.Dot(a, b)) / (float64(na) * float64(nb))
}

// Rank scores entries against query and returns the k best, most similar first.
func Rank(entries []Entry, query []float32, k int) []Match {
	if k <= 0 || len(entries) == 0 {
		return nil
	}
	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		matches = append(matches, Match{
			ID:         e.ID,
			Content:    e.Content,
			Similarity: CosineSimilarity(query, e.Embedding),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
