// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jllopis/deskpilot/pkg/conversation"
	"github.com/jllopis/deskpilot/pkg/core"
	"github.com/jllopis/deskpilot/pkg/errors"
	"github.com/jllopis/deskpilot/pkg/memory"
)

// DefaultTurnTimeout bounds a turn started by Dispatch.
const DefaultTurnTimeout = 2 * time.Minute

// Service is the transport-facing side of the engine. It runs at most one
// turn per thread at a time, loads and saves checkpoints, records the thread
// history and publishes events.
type Service struct {
	engine      *Engine
	checkpoints conversation.CheckpointStore
	history     memory.ConversationMemory
	notifier    core.Notifier
	turnTimeout time.Duration
	locks       threadLocks
	background  sync.WaitGroup
	log         *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHistory records inbound messages and replies in h.
func WithHistory(h memory.ConversationMemory) ServiceOption {
	return func(s *Service) { s.history = h }
}

// WithNotifier publishes turn events to n.
func WithNotifier(n core.Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithTurnTimeout bounds each turn; <= 0 keeps the default.
func WithTurnTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.turnTimeout = d
		}
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

// NewService builds a Service over engine and checkpoints.
func NewService(engine *Engine, checkpoints conversation.CheckpointStore, opts ...ServiceOption) *Service {
	s := &Service{
		engine:      engine,
		checkpoints: checkpoints,
		notifier:    core.NoopNotifier{},
		turnTimeout: DefaultTurnTimeout,
		locks:       threadLocks{m: make(map[string]*threadLock)},
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage runs a turn for text and waits for it. Turns on the same
// thread run in arrival order.
func (s *Service) HandleMessage(ctx context.Context, workspaceID, threadID, text string) (*TurnReport, error) {
	if err := validateInput(workspaceID, threadID, text); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()
	return s.handle(ctx, workspaceID, threadID, conversation.HumanMessage(text))
}

// Dispatch accepts text and runs its turn in the background, detached from
// ctx cancellation. Replies are delivered through the notifier. The returned
// message is the inbound message as it will be recorded.
func (s *Service) Dispatch(ctx context.Context, workspaceID, threadID, text string) (conversation.Message, error) {
	if err := validateInput(workspaceID, threadID, text); err != nil {
		return conversation.Message{}, err
	}
	msg := conversation.HumanMessage(text)
	bg := context.WithoutCancel(ctx)

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(bg, s.turnTimeout)
		defer cancel()
		if _, err := s.handle(ctx, workspaceID, threadID, msg); err != nil {
			s.log.ErrorContext(ctx, "service.dispatch.error",
				slog.String("workspace_id", workspaceID),
				slog.String("thread_id", threadID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return msg, nil
}

// Wait blocks until every dispatched turn has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New(errors.CodeContextLost, "background turns still running", ctx.Err())
	}
}

// State returns the checkpointed state of threadID. A thread owned by another
// workspace is reported as CodeNotFound, like a missing one.
func (s *Service) State(ctx context.Context, workspaceID, threadID string) (*conversation.State, error) {
	st, err := s.checkpoints.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if st == nil || st.Params.WorkspaceID != workspaceID {
		return nil, errors.New(errors.CodeNotFound, "thread not found", nil).
			WithContext("workspace_id", workspaceID).
			WithContext("thread_id", threadID)
	}
	return st, nil
}

func (s *Service) handle(ctx context.Context, workspaceID, threadID string, inbound conversation.Message) (*TurnReport, error) {
	unlock := s.locks.lock(threadID)
	defer unlock()

	prev, err := s.checkpoints.Load(ctx, threadID)
	if err != nil {
		s.fail(ctx, workspaceID, threadID, err)
		return nil, err
	}

	report, err := s.engine.Run(ctx, workspaceID, threadID, inbound, prev)
	if err != nil {
		s.fail(ctx, workspaceID, threadID, err)
		return nil, err
	}
	// The turn's side effects already happened; persist it even if ctx expired.
	ctx = context.WithoutCancel(ctx)
	if err := s.checkpoints.Save(ctx, threadID, report.State); err != nil {
		s.fail(ctx, workspaceID, threadID, err)
		return nil, err
	}

	// Only a successful turn reaches history and subscribers.
	s.record(ctx, threadID, inbound)
	s.notify(ctx, workspaceID, threadID, core.EventMessageReceived, &inbound)
	for i := range report.Replies {
		reply := report.Replies[i]
		s.record(ctx, threadID, reply)
		s.notify(ctx, workspaceID, threadID, core.EventAgentReply, &reply)
	}
	ev := core.NewEvent(core.EventTurnCompleted, workspaceID, threadID)
	ev.TurnID = report.TurnID
	s.notifier.Notify(ctx, ev)
	return report, nil
}

func (s *Service) record(ctx context.Context, threadID string, msg conversation.Message) {
	if s.history == nil {
		return
	}
	if err := s.history.AppendMessage(ctx, threadID, conversation.ToHistory(threadID, msg)); err != nil {
		s.log.WarnContext(ctx, "service.history.error",
			slog.String("thread_id", threadID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) notify(ctx context.Context, workspaceID, threadID string, t core.EventType, msg *conversation.Message) {
	ev := core.NewEvent(t, workspaceID, threadID)
	if id, ok := core.TurnID(ctx); ok {
		ev.TurnID = id
	}
	if msg != nil {
		ev.Message = Payload(*msg)
	}
	s.notifier.Notify(ctx, ev)
}

func (s *Service) fail(ctx context.Context, workspaceID, threadID string, err error) {
	ev := core.NewEvent(core.EventTurnFailed, workspaceID, threadID)
	ev.Error = string(errors.As(err).Code)
	s.notifier.Notify(ctx, ev)
}

// Payload converts a message for events and API responses.
func Payload(m conversation.Message) *core.MessagePayload {
	p := &core.MessagePayload{
		ID:        m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	if m.Metadata != nil {
		p.AgentID = m.Metadata.AgentID
		p.AgentTitle = m.Metadata.AgentTitle
	}
	return p
}

func validateInput(workspaceID, threadID, text string) error {
	switch {
	case strings.TrimSpace(workspaceID) == "":
		return errors.New(errors.CodeInvalidInput, "workspace id is required", nil)
	case strings.TrimSpace(threadID) == "":
		return errors.New(errors.CodeInvalidInput, "thread id is required", nil)
	case strings.TrimSpace(text) == "":
		return errors.New(errors.CodeInvalidInput, "message text is required", nil)
	}
	return nil
}

// threadLocks hands out one mutex per thread. Entries are dropped when the
// last holder or waiter releases them.
type threadLocks struct {
	mu sync.Mutex
	m  map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

func (l *threadLocks) lock(threadID string) func() {
	l.mu.Lock()
	tl := l.m[threadID]
	if tl == nil {
		tl = &threadLock{}
		l.m[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.m, threadID)
		}
		l.mu.Unlock()
	}
}

func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
