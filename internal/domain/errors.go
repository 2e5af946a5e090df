package domain

import "errors"

var (
	// ErrGameNotFound is returned when no game row has the requested id.
	ErrGameNotFound = errors.New("game not found")
	// ErrQuizSetNotFound indicates the quiz set of a game could not be loaded.
	ErrQuizSetNotFound = errors.New("quiz set not found")
	// ErrQuizSetExists is returned when a quiz set, question or choice id is already stored.
	ErrQuizSetExists = errors.New("quiz content id already in use")
	// ErrInvalidQuizSet is returned for quiz sets that cannot be played.
	ErrInvalidQuizSet = errors.New("invalid quiz set")
	// ErrParticipantNotFound is returned when a participant lookup misses.
	ErrParticipantNotFound = errors.New("participant not found in game")
	// ErrChoiceNotFound indicates a submitted choice is not part of the current question.
	ErrChoiceNotFound = errors.New("choice not found")
	// ErrPhaseRegression is returned when a write would move a game back to an earlier phase.
	ErrPhaseRegression = errors.New("game phase cannot move backwards")
	// ErrQuestionOutOfRange means a question index is outside the quiz set.
	ErrQuestionOutOfRange = errors.New("question index out of range")
	// ErrNotRevealed is returned when the host advances before the answer is revealed.
	ErrNotRevealed = errors.New("answer not revealed yet")
	// ErrNotInQuiz is returned for quiz actions outside the quiz phase.
	ErrNotInQuiz = errors.New("game is not in quiz phase")
	// ErrNotInLobby is returned when a game is started twice.
	ErrNotInLobby = errors.New("game is not in lobby phase")
	// ErrAnswerNotAllowed means the choices are not open for answering.
	ErrAnswerNotAllowed = errors.New("answers are not accepted right now")
	// ErrAlreadyAnswered means the participant already picked a choice for this question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrNotRegistered is returned for participant actions before registration.
	ErrNotRegistered = errors.New("participant is not registered")
	// ErrInvalidNickname is returned for empty or too long nicknames.
	ErrInvalidNickname = errors.New("nickname must be 1-20 characters")
	// ErrUnknownAvatar is returned for avatar ids outside the catalog.
	ErrUnknownAvatar = errors.New("unknown avatar")
	// ErrUnknownTeam is returned for team ids not playable in the game.
	ErrUnknownTeam = errors.New("unknown team")
	// ErrUnknownEmoji is returned for reactions outside the emoji set.
	ErrUnknownEmoji = errors.New("unknown reaction emoji")
	// ErrNoSession means the presented identity token is missing or invalid.
	ErrNoSession = errors.New("no identity session")
	// ErrIdentityUnavailable means an anonymous identity could not be issued.
	ErrIdentityUnavailable = errors.New("identity could not be acquired")
	// ErrNotHost is returned when a non-host identity tries to drive a game.
	ErrNotHost = errors.New("identity is not the game host")
	// ErrBlobNotFound is returned when no blob is stored under a path.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrSessionClosed is returned for commands sent to a stopped session.
	ErrSessionClosed = errors.New("session closed")
)
