// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package qdrant implements knowledge.Store on a qdrant collection using
// cosine distance, filtering points by their agent_id payload.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jllopis/deskpilot/pkg/knowledge"
)

const (
	payloadAgentID = "agent_id"
	payloadContent = "content"
	payloadEntryID = "entry_id"
)

// idNamespace derives stable point UUIDs from entry ids that are not UUIDs.
var idNamespace = uuid.MustParse("6f1c3c2e-4a53-4d61-9f51-2b7f0d8e5a10")

type Store struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	conn        *grpc.ClientConn
}

// New connects to addr (host:port of the gRPC API) without TLS.
func New(addr, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	s.conn = conn
	return s, nil
}

// NewWithClients builds a Store over existing clients.
func NewWithClients(points pb.PointsClient, collections pb.CollectionsClient, collection string) *Store {
	return &Store{points: points, collections: collections, collection: collection}
}

// Close releases the connection opened by New.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureCollection creates the collection with cosine distance when missing.
func (s *Store) EnsureCollection(ctx context.Context, dimensions uint64) error {
	resp, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if resp.GetResult().GetExists() {
		return nil
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     dimensions,
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Upsert implements knowledge.Store.
func (s *Store) Upsert(ctx context.Context, entries []knowledge.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, 0, len(entries))
	for _, e := range entries {
		if e.AgentID == "" {
			return fmt.Errorf("knowledge entry %q has no agent id", e.ID)
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		points = append(points, &pb.PointStruct{
			Id:      pb.NewID(PointID(e.ID)),
			Vectors: pb.NewVectorsDense(e.Embedding),
			Payload: map[string]*pb.Value{
				payloadAgentID: pb.NewValueString(e.AgentID),
				payloadContent: pb.NewValueString(e.Content),
				payloadEntryID: pb.NewValueString(e.ID),
			},
		})
	}
	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// TopK implements knowledge.Store. Qdrant reports cosine similarity as the
// score and returns hits best first.
func (s *Store) TopK(ctx context.Context, agentID string, embedding []float32, k int) ([]knowledge.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Filter: &pb.Filter{
			Must: []*pb.Condition{pb.NewMatch(payloadAgentID, agentID)},
		},
		Limit:       uint64(k),
		WithPayload: pb.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	matches := make([]knowledge.Match, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		id := r.GetPayload()[payloadEntryID].GetStringValue()
		if id == "" {
			id = r.GetId().GetUuid()
		}
		matches = append(matches, knowledge.Match{
			ID:         id,
			Content:    r.GetPayload()[payloadContent].GetStringValue(),
			Similarity: float64(r.GetScore()),
		})
	}
	return matches, nil
}

// PointID maps an entry id to the UUID used as qdrant point id.
func PointID(entryID string) string {
	if _, err := uuid.Parse(entryID); err == nil {
		return entryID
	}
	return uuid.NewSHA1(idNamespace, []byte(entryID)).String()
}
