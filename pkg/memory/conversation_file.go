// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileConversation implements ConversationMemory with one JSON file per thread.
type FileConversation struct {
	mu      sync.RWMutex
	baseDir string
	config  ConversationConfig
}

// NewFileConversation creates a new file-based conversation store.
func NewFileConversation(baseDir string, config ConversationConfig) (*FileConversation, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &FileConversation{
		baseDir: baseDir,
		config:  config,
	}, nil
}

func (f *FileConversation) threadFile(threadID string) string {
	// Escaping keeps ids inside baseDir without folding distinct ids together.
	return filepath.Join(f.baseDir, url.PathEscape(threadID)+".json")
}

// AppendMessage adds a message to the thread.
func (f *FileConversation) AppendMessage(_ context.Context, threadID string, msg ConversationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	messages, err := f.loadMessages(threadID)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	messages = append(messages, normalize(threadID, msg))
	return f.saveMessages(threadID, messages)
}

// GetMessages retrieves all messages for a thread.
func (f *FileConversation) GetMessages(ctx context.Context, threadID string) ([]ConversationMessage, error) {
	f.mu.RLock()
	messages, err := f.loadMessages(threadID)
	f.mu.RUnlock()

	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return f.config.truncate(ctx, messages)
}

// GetRecentMessages retrieves the last N messages for a thread.
func (f *FileConversation) GetRecentMessages(_ context.Context, threadID string, limit int) ([]ConversationMessage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	messages, err := f.loadMessages(threadID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return lastN(messages, limit), nil
}

// Clear removes all messages for a thread.
func (f *FileConversation) Clear(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.threadFile(threadID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ListThreads returns the ids of all threads with a history file.
func (f *FileConversation) ListThreads() ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, err
	}
	var threads []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		threads = append(threads, id)
	}
	sort.Strings(threads)
	return threads, nil
}

func (f *FileConversation) loadMessages(threadID string) ([]ConversationMessage, error) {
	data, err := os.ReadFile(f.threadFile(threadID))
	if err != nil {
		return nil, err
	}
	var messages []ConversationMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to parse history file: %w", err)
	}
	return messages, nil
}

func (f *FileConversation) saveMessages(threadID string, messages []ConversationMessage) error {
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	// Write then rename so readers never see a partial file.
	path := f.threadFile(threadID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
