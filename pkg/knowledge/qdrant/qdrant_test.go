// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package qdrant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/jllopis/deskpilot/pkg/knowledge"
)

type fakePoints struct {
	pb.PointsClient
	upserts []*pb.UpsertPoints
	search  *pb.SearchPoints
	result  []*pb.ScoredPoint
}

func (f *fakePoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.upserts = append(f.upserts, in)
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	f.search = in
	return &pb.SearchResponse{Result: f.result}, nil
}

type fakeCollections struct {
	pb.CollectionsClient
	exists  bool
	created *pb.CreateCollection
}

func (f *fakeCollections) CollectionExists(context.Context, *pb.CollectionExistsRequest, ...grpc.CallOption) (*pb.CollectionExistsResponse, error) {
	return &pb.CollectionExistsResponse{Result: &pb.CollectionExists{Exists: f.exists}}, nil
}

func (f *fakeCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.created = in
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func TestEnsureCollection(t *testing.T) {
	cols := &fakeCollections{}
	s := NewWithClients(&fakePoints{}, cols, "kb")
	if err := s.EnsureCollection(context.Background(), 1536); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if cols.created == nil {
		t.Fatal("collection not created")
	}
	params := cols.created.GetVectorsConfig().GetParams()
	if params.GetSize() != 1536 || params.GetDistance() != pb.Distance_Cosine {
		t.Fatalf("unexpected params: %v", params)
	}

	cols = &fakeCollections{exists: true}
	s = NewWithClients(&fakePoints{}, cols, "kb")
	if err := s.EnsureCollection(context.Background(), 1536); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if cols.created != nil {
		t.Fatal("existing collection recreated")
	}
}

func TestUpsertWritesPayload(t *testing.T) {
	points := &fakePoints{}
	s := NewWithClients(points, &fakeCollections{}, "kb")
	err := s.Upsert(context.Background(), []knowledge.Entry{
		{ID: "faq-1", AgentID: "billing", Content: "Refunds take 5 days", Embedding: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(points.upserts) != 1 || len(points.upserts[0].Points) != 1 {
		t.Fatalf("unexpected upserts: %v", points.upserts)
	}
	p := points.upserts[0].Points[0]
	if _, err := uuid.Parse(p.GetId().GetUuid()); err != nil {
		t.Fatalf("point id is not a uuid: %v", p.GetId())
	}
	if p.GetPayload()[payloadAgentID].GetStringValue() != "billing" {
		t.Errorf("agent payload missing")
	}
	if p.GetPayload()[payloadEntryID].GetStringValue() != "faq-1" {
		t.Errorf("entry id payload missing")
	}
}

func TestTopKFiltersByAgent(t *testing.T) {
	points := &fakePoints{result: []*pb.ScoredPoint{
		{
			Id:    pb.NewID(PointID("b")),
			Score: 0.95,
			Payload: map[string]*pb.Value{
				payloadEntryID: pb.NewValueString("b"),
				payloadContent: pb.NewValueString("plans"),
			},
		},
		{
			Id:    pb.NewID(PointID("a")),
			Score: 0.9,
			Payload: map[string]*pb.Value{
				payloadEntryID: pb.NewValueString("a"),
				payloadContent: pb.NewValueString("refunds"),
			},
		},
	}}
	s := NewWithClients(points, &fakeCollections{}, "kb")

	matches, err := s.TopK(context.Background(), "billing", []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if points.search.GetLimit() != 3 {
		t.Errorf("limit = %d", points.search.GetLimit())
	}
	must := points.search.GetFilter().GetMust()
	if len(must) != 1 || must[0].GetField().GetKey() != payloadAgentID || must[0].GetField().GetMatch().GetKeyword() != "billing" {
		t.Errorf("missing agent filter: %v", must)
	}
	if len(matches) != 2 || matches[0].ID != "b" || matches[1].Content != "refunds" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
}

func TestPointIDStable(t *testing.T) {
	if PointID("faq-1") != PointID("faq-1") {
		t.Fatal("derived ids must be stable")
	}
	id := uuid.NewString()
	if PointID(id) != id {
		t.Fatal("uuid ids must pass through")
	}
}
