package domain

import (
	"fmt"
	"time"
)

// Phase is the coarse state of a game. Phases only move forward:
// lobby -> quiz -> result.
type Phase string

const (
	PhaseLobby  Phase = "lobby"
	PhaseQuiz   Phase = "quiz"
	PhaseResult Phase = "result"
)

func (p Phase) order() int {
	switch p {
	case PhaseLobby:
		return 0
	case PhaseQuiz:
		return 1
	case PhaseResult:
		return 2
	}
	return -1
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	return p.order() >= 0
}

// CanMoveTo reports whether a game in phase p may be switched to next.
// Staying in the same phase is allowed.
func (p Phase) CanMoveTo(next Phase) bool {
	if !p.Valid() || !next.Valid() {
		return false
	}
	return next.order() >= p.order()
}

// GameSettings are the host-facing knobs of a game. A quiz set carries
// defaults that are copied onto each game created from it.
type GameSettings struct {
	AutoAdvanceSeconds int    `json:"auto_advance_time" yaml:"auto_advance_time"`
	AutoRead           bool   `json:"auto_read" yaml:"auto_read"`
	ThemeID            string `json:"theme_id" yaml:"theme_id"`
	TeamCount          int    `json:"team_count" yaml:"team_count"`
}

// Game is the single row that drives a live session.
type Game struct {
	ID                      string       `json:"id"`
	QuizSetID               string       `json:"quiz_set_id"`
	HostUserID              string       `json:"host_user_id"`
	Phase                   Phase        `json:"phase"`
	CurrentQuestionSequence int          `json:"current_question_sequence"`
	IsAnswerRevealed        bool         `json:"is_answer_revealed"`
	Settings                GameSettings `json:"settings"`
	CreatedAt               time.Time    `json:"created_at"`
}

// GamePatch is a partial update of a game row. Nil fields are left untouched.
type GamePatch struct {
	Phase                   *Phase `json:"phase,omitempty"`
	CurrentQuestionSequence *int   `json:"current_question_sequence,omitempty"`
	IsAnswerRevealed        *bool  `json:"is_answer_revealed,omitempty"`
}

// Apply returns the game with the patch applied. Phase regressions are rejected.
func (g Game) Apply(p GamePatch) (Game, error) {
	if p.Phase != nil {
		if !g.Phase.CanMoveTo(*p.Phase) {
			return g, ErrPhaseRegression
		}
		g.Phase = *p.Phase
	}
	if p.CurrentQuestionSequence != nil {
		if *p.CurrentQuestionSequence < 0 {
			return g, ErrQuestionOutOfRange
		}
		g.CurrentQuestionSequence = *p.CurrentQuestionSequence
	}
	if p.IsAnswerRevealed != nil {
		g.IsAnswerRevealed = *p.IsAnswerRevealed
	}
	return g, nil
}

// QuizSet is the authored content a game plays through.
type QuizSet struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	Settings    GameSettings `json:"settings" yaml:"settings"`
	Questions   []Question   `json:"questions,omitempty" yaml:"questions"`
}

// Validate checks the quiz set is playable: at least one question, and every
// question has two or more choices with at least one correct.
func (qs QuizSet) Validate() error {
	if len(qs.Questions) == 0 {
		return fmt.Errorf("%w: no questions", ErrInvalidQuizSet)
	}
	for i, q := range qs.Questions {
		correct := 0
		for _, c := range q.Choices {
			if c.IsCorrect {
				correct++
			}
		}
		if len(q.Choices) < 2 || correct == 0 {
			return fmt.Errorf("%w: question %d needs at least two choices and a correct one", ErrInvalidQuizSet, i+1)
		}
	}
	return nil
}

// WithoutIDs returns a copy of the quiz set with every quiz set, question and
// choice id cleared, so the store assigns fresh ones.
func (qs QuizSet) WithoutIDs() QuizSet {
	qs.ID = ""
	questions := make([]Question, len(qs.Questions))
	for i, q := range qs.Questions {
		q.ID, q.QuizSetID = "", ""
		choices := make([]Choice, len(q.Choices))
		for j, c := range q.Choices {
			c.ID, c.QuestionID = "", ""
			choices[j] = c
		}
		q.Choices = choices
		questions[i] = q
	}
	qs.Questions = questions
	return qs
}

// Question is one prompt of a quiz set; Order is zero-based.
type Question struct {
	ID        string   `json:"id" yaml:"id"`
	QuizSetID string   `json:"quiz_set_id" yaml:"-"`
	Order     int      `json:"order" yaml:"order"`
	Body      string   `json:"body" yaml:"body"`
	ImageURL  string   `json:"image_url,omitempty" yaml:"image_url"`
	Choices   []Choice `json:"choices" yaml:"choices"`
}

// Choice looks up a choice of the question by id.
func (q Question) Choice(id string) (Choice, bool) {
	for _, c := range q.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return Choice{}, false
}

// Choice is a selectable answer of a question.
type Choice struct {
	ID         string `json:"id" yaml:"id"`
	QuestionID string `json:"question_id" yaml:"-"`
	Body       string `json:"body" yaml:"body"`
	IsCorrect  bool   `json:"is_correct" yaml:"is_correct"`
}

// Participant is a registered player of one game.
type Participant struct {
	ID        string    `json:"id"`
	GameID    string    `json:"game_id"`
	UserID    string    `json:"user_id"`
	Nickname  string    `json:"nickname"`
	AvatarID  string    `json:"avatar_id"`
	TeamID    string    `json:"team_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Answer is a participant's choice for a question together with its score.
type Answer struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	QuestionID    string    `json:"question_id"`
	ChoiceID      string    `json:"choice_id"`
	Score         int       `json:"score"`
	CreatedAt     time.Time `json:"created_at"`
}

// Reaction is an emoji a participant sent; only shown briefly.
type Reaction struct {
	ID            string    `json:"id"`
	GameID        string    `json:"game_id"`
	ParticipantID string    `json:"participant_id"`
	Emoji         string    `json:"emoji"`
	CreatedAt     time.Time `json:"created_at"`
}

// GameResult is the per-participant aggregate computed from answers.
type GameResult struct {
	GameID         string `json:"game_id"`
	ParticipantID  string `json:"participant_id"`
	Nickname       string `json:"nickname"`
	AvatarID       string `json:"avatar_id"`
	TeamID         string `json:"team_id,omitempty"`
	TotalScore     int    `json:"total_score"`
	CorrectAnswers int    `json:"correct_answers"`
	TotalAnswers   int    `json:"total_answers"`
	TotalQuestions int    `json:"total_questions"`
}

// Direction tells whether an entry moved on the leaderboard since the last ranking.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionNone Direction = "none"
)

// RankedResult is a GameResult placed on the leaderboard.
type RankedResult struct {
	GameResult
	Rank         int       `json:"rank"`
	PreviousRank int       `json:"previous_rank,omitempty"` // 0 when unranked before
	Direction    Direction `json:"direction"`
}

// TeamScore aggregates results of all members of a team.
type TeamScore struct {
	TeamID         string `json:"team_id"`
	Members        int    `json:"team_member_count"`
	TotalScore     int    `json:"total_team_score"`
	CorrectAnswers int    `json:"correct_answers"`
	TotalAnswers   int    `json:"total_answers"`
	Rank           int    `json:"rank"`
}

// Identity is an authenticated (possibly anonymous) user session.
type Identity struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
