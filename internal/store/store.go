// Package store provides durable persistence for the offline request queue.
package store

import (
	"sync"

	"github.com/fieldpulse/mobile-core/internal/models"
)

// Store persists queued requests across process restarts.
// Load returns requests in FIFO enqueue order.
type Store interface {
	Append(req *models.QueuedRequest) error
	Update(req *models.QueuedRequest) error
	Delete(id string) error
	Load() ([]*models.QueuedRequest, error)
	Clear() error
	Close() error
}

// MemoryStore is an in-memory Store for tests and callers that opt out
// of durability.
type MemoryStore struct {
	mu    sync.Mutex
	items []*models.QueuedRequest
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds a request to the end of the list.
func (s *MemoryStore) Append(req *models.QueuedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, req.Clone())
	return nil
}

// Update replaces the stored request with the same ID.
func (s *MemoryStore) Update(req *models.QueuedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item.ID == req.ID {
			s.items[i] = req.Clone()
			return nil
		}
	}
	return nil
}

// Delete removes the request with the given ID.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return nil
}

// Load returns all requests in enqueue order.
func (s *MemoryStore) Load() ([]*models.QueuedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.QueuedRequest, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.Clone())
	}
	return out, nil
}

// Clear removes all requests.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	return nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}
