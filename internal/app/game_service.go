package app

import (
	"context"
	"errors"
	"fmt"

	"live-quiz-service/internal/domain"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ServiceDeps wires the backend collaborators shared by every session.
type ServiceDeps struct {
	Store     Store
	Questions QuestionSource // typically a cache in front of Store
	Admin     QuizAdmin
	Feed      Feed
	Identity  Identity
	Saved     SavedParticipants
	Clock     clockwork.Clock
	Log       *zap.SugaredLogger
	Timing    Timing
}

// GameService authenticates devices and opens host and participant sessions.
type GameService struct {
	deps ServiceDeps
}

func NewGameService(deps ServiceDeps) *GameService {
	if deps.Questions == nil {
		deps.Questions = deps.Store
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	return &GameService{deps: deps}
}

// Game returns the game row, for surfaces outside a live session.
func (s *GameService) Game(ctx context.Context, gameID string) (domain.Game, error) {
	return s.deps.Store.GetGame(ctx, gameID)
}

// OpenHost resumes the host identity and returns a session for its game. Only
// the identity that created the game may drive it.
func (s *GameService) OpenHost(ctx context.Context, gameID, token string, cues Cues) (*HostSession, error) {
	id, err := s.deps.Identity.Resume(ctx, token)
	if err != nil {
		return nil, err
	}
	game, err := s.deps.Store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.HostUserID != id.UserID {
		return nil, domain.ErrNotHost
	}
	return NewHostSession(gameID, HostDeps{
		Store:     s.deps.Store,
		Questions: s.deps.Questions,
		Feed:      s.deps.Feed,
		Clock:     s.deps.Clock,
		Log:       s.deps.Log,
		Cues:      cues,
		Timing:    s.deps.Timing,
	}), nil
}

// OpenParticipant returns a session for a device joining gameID. An invalid
// or missing token is not an error: the device starts without an identity
// and gets one when it registers.
func (s *GameService) OpenParticipant(ctx context.Context, gameID, token string, cues Cues) (*ParticipantSession, error) {
	if _, err := s.deps.Store.GetGame(ctx, gameID); err != nil {
		return nil, err
	}
	var user domain.Identity
	if token != "" {
		id, err := s.deps.Identity.Resume(ctx, token)
		switch {
		case err == nil:
			user = id
		case errors.Is(err, domain.ErrNoSession):
			s.deps.Log.Debugw("ignoring stale participant token", "gameId", gameID, "error", err)
		default:
			return nil, err
		}
	}
	return NewParticipantSession(gameID, user, ParticipantDeps{
		Store:     s.deps.Store,
		Questions: s.deps.Questions,
		Feed:      s.deps.Feed,
		Identity:  s.deps.Identity,
		Saved:     s.deps.Saved,
		Clock:     s.deps.Clock,
		Log:       s.deps.Log,
		Cues:      cues,
		Timing:    s.deps.Timing,
	}), nil
}

// HostGame stores a copy of a quiz set and opens a game for it under a new
// anonymous host identity.
func (s *GameService) HostGame(ctx context.Context, qs domain.QuizSet) (domain.Game, domain.Identity, error) {
	if s.deps.Admin == nil {
		return domain.Game{}, domain.Identity{}, errors.New("quiz admin not configured")
	}
	if err := qs.Validate(); err != nil {
		return domain.Game{}, domain.Identity{}, err
	}
	// ids are always assigned by the store
	qs = qs.WithoutIDs()
	host, err := s.deps.Identity.SignInAnonymously(ctx)
	if err != nil {
		return domain.Game{}, domain.Identity{}, err
	}
	created, err := s.deps.Admin.CreateQuizSet(ctx, qs)
	if err != nil {
		return domain.Game{}, domain.Identity{}, fmt.Errorf("create quiz set: %w", err)
	}
	game, err := s.deps.Admin.CreateGame(ctx, created.ID, host.UserID)
	if err != nil {
		return domain.Game{}, domain.Identity{}, fmt.Errorf("create game: %w", err)
	}
	s.deps.Log.Infow("game created", "gameId", game.ID, "quizSetId", created.ID, "questions", len(created.Questions))
	return game, host, nil
}
