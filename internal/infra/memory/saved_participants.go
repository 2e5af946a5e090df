package memory

import (
	"context"
	"sync"
)

// SavedParticipants is an in-memory implementation of app.SavedParticipants.
// It plays the role of a device's local storage in tests and single-node runs.
type SavedParticipants struct {
	mu    sync.RWMutex
	saved map[savedKey]string
}

type savedKey struct {
	userID string
	gameID string
}

func NewSavedParticipants() *SavedParticipants {
	return &SavedParticipants{
		saved: make(map[savedKey]string),
	}
}

func (s *SavedParticipants) Load(_ context.Context, userID, gameID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.saved[savedKey{userID, gameID}]
	return id, ok, nil
}

func (s *SavedParticipants) Save(_ context.Context, userID, gameID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[savedKey{userID, gameID}] = participantID
	return nil
}

func (s *SavedParticipants) Forget(_ context.Context, userID, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, savedKey{userID, gameID})
	return nil
}
