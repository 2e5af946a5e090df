package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"live-quiz-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
)

// Publisher receives committed row changes, typically the Redis feed.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// Store keeps games, quiz content and blobs in Postgres. Every write is
// published after its transaction commits.
type Store struct {
	pool       *pgxpool.Pool
	pub        Publisher
	log        *zap.SugaredLogger
	publicBase string

	// game updates of one game are committed and published one at a time
	gameLocks sync.Map
}

func NewStore(pool *pgxpool.Pool, pub Publisher, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{pool: pool, pub: pub, log: log}
}

// WithPublicBase sets the absolute URL prefix of PublicURL.
func (s *Store) WithPublicBase(base string) *Store {
	s.publicBase = strings.TrimRight(base, "/")
	return s
}

func (s *Store) publish(ctx context.Context, ev domain.ChangeEvent) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Errorw("publish change event failed", "table", ev.Table, "kind", ev.Kind, "error", err)
	}
}

func (s *Store) gameLock(gameID string) *sync.Mutex {
	mu, _ := s.gameLocks.LoadOrStore(gameID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

// isPrimaryKeyViolation reports a duplicate id, as opposed to other unique constraints.
func isPrimaryKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && strings.HasSuffix(pgErr.ConstraintName, "_pkey")
}

func (s *Store) CreateQuizSet(ctx context.Context, qs domain.QuizSet) (domain.QuizSet, error) {
	if qs.ID == "" {
		qs.ID = uuid.NewString()
	}
	settings, err := json.Marshal(qs.Settings)
	if err != nil {
		return domain.QuizSet{}, fmt.Errorf("marshal settings: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.QuizSet{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO quiz_sets (id, name, description, settings) VALUES ($1, $2, $3, $4::jsonb)`,
		qs.ID, qs.Name, qs.Description, string(settings))
	if err != nil {
		return domain.QuizSet{}, contentInsertError("insert quiz set", err)
	}
	for i := range qs.Questions {
		q := &qs.Questions[i]
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		q.QuizSetID = qs.ID
		_, err = tx.Exec(ctx, `INSERT INTO questions (id, quiz_set_id, position, body, image_url) VALUES ($1, $2, $3, $4, $5)`,
			q.ID, qs.ID, q.Order, q.Body, q.ImageURL)
		if err != nil {
			return domain.QuizSet{}, contentInsertError(fmt.Sprintf("insert question %d", q.Order), err)
		}
		for j := range q.Choices {
			c := &q.Choices[j]
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			c.QuestionID = q.ID
			_, err = tx.Exec(ctx, `INSERT INTO choices (id, question_id, position, body, is_correct) VALUES ($1, $2, $3, $4, $5)`,
				c.ID, q.ID, j, c.Body, c.IsCorrect)
			if err != nil {
				return domain.QuizSet{}, contentInsertError("insert choice", err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.QuizSet{}, fmt.Errorf("commit: %w", err)
	}
	return qs, nil
}

func contentInsertError(what string, err error) error {
	if isPrimaryKeyViolation(err) {
		return domain.ErrQuizSetExists
	}
	return fmt.Errorf("%s: %w", what, err)
}

const gameColumns = `id, quiz_set_id, host_user_id, phase, current_question_sequence, is_answer_revealed, settings, created_at`

func scanGame(row pgx.Row) (domain.Game, error) {
	var (
		g        domain.Game
		phase    string
		settings []byte
	)
	if err := row.Scan(&g.ID, &g.QuizSetID, &g.HostUserID, &phase, &g.CurrentQuestionSequence,
		&g.IsAnswerRevealed, &settings, &g.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Game{}, domain.ErrGameNotFound
		}
		return domain.Game{}, err
	}
	g.Phase = domain.Phase(phase)
	if err := json.Unmarshal(settings, &g.Settings); err != nil {
		return domain.Game{}, fmt.Errorf("unmarshal game settings: %w", err)
	}
	return g, nil
}

// CreateGame opens a lobby for the quiz set, copying its settings.
func (s *Store) CreateGame(ctx context.Context, quizSetID, hostUserID string) (domain.Game, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO games (id, quiz_set_id, host_user_id, settings)
SELECT $1, id, $2, settings FROM quiz_sets WHERE id = $3
RETURNING `+gameColumns, uuid.NewString(), hostUserID, quizSetID)
	g, err := scanGame(row)
	if errors.Is(err, domain.ErrGameNotFound) {
		return domain.Game{}, domain.ErrQuizSetNotFound
	}
	if err != nil {
		return domain.Game{}, fmt.Errorf("create game: %w", err)
	}
	return g, nil
}

func (s *Store) GetGame(ctx context.Context, gameID string) (domain.Game, error) {
	g, err := scanGame(s.pool.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, gameID))
	if err != nil && !errors.Is(err, domain.ErrGameNotFound) {
		return domain.Game{}, fmt.Errorf("get game: %w", err)
	}
	return g, err
}

// UpdateGame applies the patch under a row lock and publishes the new row.
func (s *Store) UpdateGame(ctx context.Context, gameID string, patch domain.GamePatch) (domain.Game, error) {
	mu := s.gameLock(gameID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Game{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	g, err := scanGame(tx.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1 FOR UPDATE`, gameID))
	if err != nil {
		return domain.Game{}, err
	}
	next, err := g.Apply(patch)
	if err != nil {
		return g, err
	}
	_, err = tx.Exec(ctx, `UPDATE games SET phase = $2, current_question_sequence = $3, is_answer_revealed = $4 WHERE id = $1`,
		gameID, string(next.Phase), next.CurrentQuestionSequence, next.IsAnswerRevealed)
	if err != nil {
		return domain.Game{}, fmt.Errorf("update game: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Game{}, fmt.Errorf("commit: %w", err)
	}
	s.publish(ctx, domain.GameUpdated(next))
	return next, nil
}

func (s *Store) GetQuizSet(ctx context.Context, quizSetID string) (domain.QuizSet, error) {
	var (
		qs       domain.QuizSet
		settings []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id, name, description, settings FROM quiz_sets WHERE id = $1`, quizSetID).
		Scan(&qs.ID, &qs.Name, &qs.Description, &settings)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizSet{}, domain.ErrQuizSetNotFound
	}
	if err != nil {
		return domain.QuizSet{}, fmt.Errorf("get quiz set: %w", err)
	}
	if err := json.Unmarshal(settings, &qs.Settings); err != nil {
		return domain.QuizSet{}, fmt.Errorf("unmarshal quiz set settings: %w", err)
	}
	return qs, nil
}

// ListQuestions returns the quiz set's questions ordered by position, choices included.
func (s *Store) ListQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `
SELECT q.id, q.position, q.body, q.image_url, c.id, c.body, c.is_correct
FROM questions q
LEFT JOIN choices c ON c.question_id = q.id
WHERE q.quiz_set_id = $1
ORDER BY q.position, c.position`, quizSetID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var (
			q              domain.Question
			choiceID, body *string
			isCorrect      *bool
		)
		if err := rows.Scan(&q.ID, &q.Order, &q.Body, &q.ImageURL, &choiceID, &body, &isCorrect); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if n := len(questions); n == 0 || questions[n-1].ID != q.ID {
			q.QuizSetID = quizSetID
			questions = append(questions, q)
		}
		if choiceID != nil {
			cur := &questions[len(questions)-1]
			cur.Choices = append(cur.Choices, domain.Choice{
				ID:         *choiceID,
				QuestionID: cur.ID,
				Body:       *body,
				IsCorrect:  *isCorrect,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		if _, err := s.GetQuizSet(ctx, quizSetID); err != nil {
			return nil, err
		}
	}
	return questions, nil
}

const participantColumns = `id, game_id, user_id, nickname, avatar_id, COALESCE(team_id, ''), created_at`

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(&p.ID, &p.GameID, &p.UserID, &p.Nickname, &p.AvatarID, &p.TeamID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, err
}

// CreateParticipant registers the user in the game. A user that already
// joined gets the existing row back and no event is published.
func (s *Store) CreateParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO participants (id, game_id, user_id, nickname, avatar_id, team_id)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
ON CONFLICT (game_id, user_id) DO NOTHING
RETURNING `+participantColumns, uuid.NewString(), p.GameID, p.UserID, p.Nickname, p.AvatarID, p.TeamID)
	created, err := scanParticipant(row)
	switch {
	case err == nil:
		s.publish(ctx, domain.ParticipantChanged(domain.EventInsert, created))
		return created, nil
	case errors.Is(err, domain.ErrParticipantNotFound):
		existing, ok, err := s.FindParticipantByUser(ctx, p.GameID, p.UserID)
		if err != nil {
			return domain.Participant{}, err
		}
		if !ok {
			return domain.Participant{}, domain.ErrParticipantNotFound
		}
		return existing, nil
	case isForeignKeyViolation(err):
		return domain.Participant{}, domain.ErrGameNotFound
	default:
		return domain.Participant{}, fmt.Errorf("create participant: %w", err)
	}
}

func (s *Store) GetParticipant(ctx context.Context, gameID, participantID string) (domain.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id = $1 AND game_id = $2`, participantID, gameID))
	if err != nil && !errors.Is(err, domain.ErrParticipantNotFound) {
		return domain.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return p, err
}

func (s *Store) FindParticipantByUser(ctx context.Context, gameID, userID string) (domain.Participant, bool, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE game_id = $1 AND user_id = $2`, gameID, userID))
	if errors.Is(err, domain.ErrParticipantNotFound) {
		return domain.Participant{}, false, nil
	}
	if err != nil {
		return domain.Participant{}, false, fmt.Errorf("find participant: %w", err)
	}
	return p, true, nil
}

// ListParticipants returns the game's participants in join order.
func (s *Store) ListParticipants(ctx context.Context, gameID string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE game_id = $1 ORDER BY created_at, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SetParticipantTeam(ctx context.Context, participantID, teamID string) (domain.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`UPDATE participants SET team_id = NULLIF($2, '') WHERE id = $1 RETURNING `+participantColumns, participantID, teamID))
	if err != nil {
		if errors.Is(err, domain.ErrParticipantNotFound) {
			return domain.Participant{}, err
		}
		return domain.Participant{}, fmt.Errorf("set participant team: %w", err)
	}
	s.publish(ctx, domain.ParticipantChanged(domain.EventUpdate, p))
	return p, nil
}

// InsertAnswer stores the answer if the participant belongs to gameID.
func (s *Store) InsertAnswer(ctx context.Context, gameID string, a domain.Answer) (domain.Answer, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO answers (id, participant_id, question_id, choice_id, score)
SELECT $1, p.id, $3, $4, $5 FROM participants p WHERE p.id = $2 AND p.game_id = $6
RETURNING id, created_at`, uuid.NewString(), a.ParticipantID, a.QuestionID, a.ChoiceID, a.Score, gameID).
		Scan(&a.ID, &a.CreatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.Answer{}, domain.ErrParticipantNotFound
	case isForeignKeyViolation(err):
		return domain.Answer{}, domain.ErrChoiceNotFound
	case err != nil:
		return domain.Answer{}, fmt.Errorf("insert answer: %w", err)
	}
	s.publish(ctx, domain.AnswerInserted(gameID, a))
	return a, nil
}

func (s *Store) InsertReaction(ctx context.Context, r domain.Reaction) (domain.Reaction, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO reactions (id, game_id, participant_id, emoji) VALUES ($1, $2, $3, $4)
RETURNING id, created_at`, uuid.NewString(), r.GameID, r.ParticipantID, r.Emoji).
		Scan(&r.ID, &r.CreatedAt)
	if isForeignKeyViolation(err) {
		return domain.Reaction{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Reaction{}, fmt.Errorf("insert reaction: %w", err)
	}
	s.publish(ctx, domain.ReactionInserted(r))
	return r, nil
}

// GameResults reads the game_results view, highest total first. Equal
// totals keep join order.
func (s *Store) GameResults(ctx context.Context, gameID string) ([]domain.GameResult, error) {
	if _, err := s.GetGame(ctx, gameID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
SELECT game_id, participant_id, nickname, avatar_id, team_id,
       total_score, correct_answers, total_answers, total_questions
FROM game_results
WHERE game_id = $1
ORDER BY total_score DESC, created_at ASC, participant_id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("game results: %w", err)
	}
	defer rows.Close()

	var out []domain.GameResult
	for rows.Next() {
		var r domain.GameResult
		if err := rows.Scan(&r.GameID, &r.ParticipantID, &r.Nickname, &r.AvatarID, &r.TeamID,
			&r.TotalScore, &r.CorrectAnswers, &r.TotalAnswers, &r.TotalQuestions); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Upload stores a blob under bucket/path, replacing any previous content.
func (s *Store) Upload(ctx context.Context, bucket, path, contentType string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO blobs (bucket, path, content_type, data) VALUES ($1, $2, $3, $4)
ON CONFLICT (bucket, path) DO UPDATE SET content_type = EXCLUDED.content_type, data = EXCLUDED.data`,
		bucket, path, contentType, data)
	if err != nil {
		return fmt.Errorf("upload blob: %w", err)
	}
	return nil
}

func (s *Store) Open(ctx context.Context, bucket, path string) (io.ReadCloser, string, error) {
	var (
		contentType string
		data        []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT content_type, data FROM blobs WHERE bucket = $1 AND path = $2`, bucket, path).
		Scan(&contentType, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", domain.ErrBlobNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("open blob: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), contentType, nil
}

// PublicURL is the address the blob is served under by the HTTP layer.
func (s *Store) PublicURL(bucket, path string) string {
	return s.publicBase + "/blobs/" + bucket + "/" + path
}
