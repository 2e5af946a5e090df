package app

import (
	"context"
	"io"

	"live-quiz-service/internal/domain"
)

// QuestionSource loads the ordered questions of a quiz set, choices included.
type QuestionSource interface {
	ListQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error)
}

// Store is the row-level contract of the hosted backend.
type Store interface {
	QuestionSource

	GetGame(ctx context.Context, gameID string) (domain.Game, error)
	UpdateGame(ctx context.Context, gameID string, patch domain.GamePatch) (domain.Game, error)
	GetQuizSet(ctx context.Context, quizSetID string) (domain.QuizSet, error)

	CreateParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error)
	GetParticipant(ctx context.Context, gameID, participantID string) (domain.Participant, error)
	FindParticipantByUser(ctx context.Context, gameID, userID string) (domain.Participant, bool, error)
	ListParticipants(ctx context.Context, gameID string) ([]domain.Participant, error)
	SetParticipantTeam(ctx context.Context, participantID, teamID string) (domain.Participant, error)

	InsertAnswer(ctx context.Context, gameID string, a domain.Answer) (domain.Answer, error)
	InsertReaction(ctx context.Context, r domain.Reaction) (domain.Reaction, error)

	// GameResults returns the per-participant aggregates ordered by total score, highest first.
	GameResults(ctx context.Context, gameID string) ([]domain.GameResult, error)
}

// QuizAdmin creates content and games outside of a live session.
type QuizAdmin interface {
	CreateQuizSet(ctx context.Context, qs domain.QuizSet) (domain.QuizSet, error)
	CreateGame(ctx context.Context, quizSetID, hostUserID string) (domain.Game, error)
}

// Feed delivers committed row changes. Events of one subscription arrive in
// commit order. The caller must invoke the returned cancel function to avoid leaks.
type Feed interface {
	Subscribe(ctx context.Context, filter domain.Filter) (<-chan domain.ChangeEvent, func(), error)
}

// Identity issues and resumes anonymous user sessions.
type Identity interface {
	Resume(ctx context.Context, token string) (domain.Identity, error)
	SignInAnonymously(ctx context.Context) (domain.Identity, error)
}

// SavedParticipants remembers which participant a device registered as, per game.
type SavedParticipants interface {
	Load(ctx context.Context, userID, gameID string) (string, bool, error)
	Save(ctx context.Context, userID, gameID, participantID string) error
	Forget(ctx context.Context, userID, gameID string) error
}

// Blobs stores uploaded images and hands out public URLs for them.
type Blobs interface {
	Upload(ctx context.Context, bucket, path, contentType string, data []byte) error
	Open(ctx context.Context, bucket, path string) (io.ReadCloser, string, error)
	PublicURL(bucket, path string) string
}

// Sound names played on participant devices.
const (
	SoundCorrect = "correct"
	SoundWrong   = "wrong"
)

// Cues plays sounds and speech on the device a session renders to.
type Cues interface {
	Play(sound string)
	Speak(text string)
	StopSpeaking()
}

// NopCues discards every cue.
type NopCues struct{}

func (NopCues) Play(string)   {}
func (NopCues) Speak(string)  {}
func (NopCues) StopSpeaking() {}
