package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// SavedParticipants remembers device registrations in Redis with a TTL, so a
// reload on any instance finds the participant again.
type SavedParticipants struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSavedParticipants(client *redis.Client, ttl time.Duration) *SavedParticipants {
	return &SavedParticipants{client: client, ttl: ttl}
}

func (s *SavedParticipants) Load(ctx context.Context, userID, gameID string) (string, bool, error) {
	id, err := s.client.Get(ctx, s.key(userID, gameID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *SavedParticipants) Save(ctx context.Context, userID, gameID, participantID string) error {
	return s.client.Set(ctx, s.key(userID, gameID), participantID, s.ttl).Err()
}

func (s *SavedParticipants) Forget(ctx context.Context, userID, gameID string) error {
	return s.client.Del(ctx, s.key(userID, gameID)).Err()
}

func (s *SavedParticipants) key(userID, gameID string) string {
	return "participant:saved:" + gameID + ":" + userID
}
