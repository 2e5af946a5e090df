package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/google/uuid"
)

// Backend is an in-process stand-in for the hosted backend: rows, change
// feed and blob storage in one place. Writes publish their change events
// while the row lock is held, so every subscriber sees commit order.
type Backend struct {
	now        func() time.Time
	publicBase string

	mu           sync.RWMutex
	quizSets     map[string]domain.QuizSet
	games        map[string]domain.Game
	participants map[string]domain.Participant
	joinOrder    []string
	answers      []answerRow
	reactions    []domain.Reaction
	blobs        map[string]blob

	subMu sync.Mutex
	subs  map[*subscriber]struct{}
}

type answerRow struct {
	gameID string
	domain.Answer
}

type blob struct {
	contentType string
	data        []byte
}

func NewBackend() *Backend {
	return &Backend{
		now:          time.Now,
		quizSets:     make(map[string]domain.QuizSet),
		games:        make(map[string]domain.Game),
		participants: make(map[string]domain.Participant),
		blobs:        make(map[string]blob),
		subs:         make(map[*subscriber]struct{}),
	}
}

// CreateQuizSet stores a quiz set with its questions. Missing ids are
// generated, ids already in use are rejected.
func (b *Backend) CreateQuizSet(_ context.Context, qs domain.QuizSet) (domain.QuizSet, error) {
	if qs.ID == "" {
		qs.ID = uuid.NewString()
	}
	questions := make([]domain.Question, len(qs.Questions))
	for i, q := range qs.Questions {
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		q.QuizSetID = qs.ID
		choices := make([]domain.Choice, len(q.Choices))
		for j, c := range q.Choices {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			c.QuestionID = q.ID
			choices[j] = c
		}
		q.Choices = choices
		questions[i] = q
	}
	qs.Questions = questions

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.contentIDTaken(qs) {
		return domain.QuizSet{}, domain.ErrQuizSetExists
	}
	b.quizSets[qs.ID] = qs
	return qs, nil
}

// contentIDTaken reports whether any id of qs is already stored. Callers hold mu.
func (b *Backend) contentIDTaken(qs domain.QuizSet) bool {
	if _, ok := b.quizSets[qs.ID]; ok {
		return true
	}
	taken := make(map[string]struct{})
	for _, existing := range b.quizSets {
		for _, q := range existing.Questions {
			taken[q.ID] = struct{}{}
			for _, c := range q.Choices {
				taken["choice:"+c.ID] = struct{}{}
			}
		}
	}
	for _, q := range qs.Questions {
		if _, ok := taken[q.ID]; ok {
			return true
		}
		for _, c := range q.Choices {
			if _, ok := taken["choice:"+c.ID]; ok {
				return true
			}
		}
	}
	return false
}

// CreateGame opens a lobby for the quiz set, copying its settings.
func (b *Backend) CreateGame(_ context.Context, quizSetID, hostUserID string) (domain.Game, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	qs, ok := b.quizSets[quizSetID]
	if !ok {
		return domain.Game{}, domain.ErrQuizSetNotFound
	}
	g := domain.Game{
		ID:         uuid.NewString(),
		QuizSetID:  quizSetID,
		HostUserID: hostUserID,
		Phase:      domain.PhaseLobby,
		Settings:   qs.Settings,
		CreatedAt:  b.now(),
	}
	b.games[g.ID] = g
	return g, nil
}

func (b *Backend) GetGame(_ context.Context, gameID string) (domain.Game, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	g, ok := b.games[gameID]
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return g, nil
}

func (b *Backend) UpdateGame(_ context.Context, gameID string, patch domain.GamePatch) (domain.Game, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.games[gameID]
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	next, err := g.Apply(patch)
	if err != nil {
		return g, err
	}
	b.games[gameID] = next
	b.publish(domain.GameUpdated(next))
	return next, nil
}

func (b *Backend) GetQuizSet(_ context.Context, quizSetID string) (domain.QuizSet, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	qs, ok := b.quizSets[quizSetID]
	if !ok {
		return domain.QuizSet{}, domain.ErrQuizSetNotFound
	}
	return qs, nil
}

// ListQuestions returns the quiz set's questions ordered by Order.
func (b *Backend) ListQuestions(_ context.Context, quizSetID string) ([]domain.Question, error) {
	b.mu.RLock()
	qs, ok := b.quizSets[quizSetID]
	b.mu.RUnlock()
	if !ok {
		return nil, domain.ErrQuizSetNotFound
	}
	out := make([]domain.Question, len(qs.Questions))
	copy(out, qs.Questions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (b *Backend) CreateParticipant(_ context.Context, p domain.Participant) (domain.Participant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.games[p.GameID]; !ok {
		return domain.Participant{}, domain.ErrGameNotFound
	}
	for _, existing := range b.participants {
		if existing.GameID == p.GameID && existing.UserID == p.UserID {
			return existing, nil
		}
	}
	p.ID = uuid.NewString()
	p.CreatedAt = b.now()
	b.participants[p.ID] = p
	b.joinOrder = append(b.joinOrder, p.ID)
	b.publish(domain.ParticipantChanged(domain.EventInsert, p))
	return p, nil
}

func (b *Backend) GetParticipant(_ context.Context, gameID, participantID string) (domain.Participant, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.participants[participantID]
	if !ok || p.GameID != gameID {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, nil
}

func (b *Backend) FindParticipantByUser(_ context.Context, gameID, userID string) (domain.Participant, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.participants {
		if p.GameID == gameID && p.UserID == userID {
			return p, true, nil
		}
	}
	return domain.Participant{}, false, nil
}

// ListParticipants returns the game's participants in join order.
func (b *Backend) ListParticipants(_ context.Context, gameID string) ([]domain.Participant, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.participantsOf(gameID), nil
}

func (b *Backend) participantsOf(gameID string) []domain.Participant {
	var out []domain.Participant
	for _, id := range b.joinOrder {
		if p := b.participants[id]; p.GameID == gameID {
			out = append(out, p)
		}
	}
	return out
}

func (b *Backend) SetParticipantTeam(_ context.Context, participantID, teamID string) (domain.Participant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	p.TeamID = teamID
	b.participants[participantID] = p
	b.publish(domain.ParticipantChanged(domain.EventUpdate, p))
	return p, nil
}

func (b *Backend) InsertAnswer(_ context.Context, gameID string, a domain.Answer) (domain.Answer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.participants[a.ParticipantID]; !ok || p.GameID != gameID {
		return domain.Answer{}, domain.ErrParticipantNotFound
	}
	a.ID = uuid.NewString()
	a.CreatedAt = b.now()
	b.answers = append(b.answers, answerRow{gameID: gameID, Answer: a})
	b.publish(domain.AnswerInserted(gameID, a))
	return a, nil
}

func (b *Backend) InsertReaction(_ context.Context, r domain.Reaction) (domain.Reaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r.ID = uuid.NewString()
	r.CreatedAt = b.now()
	b.reactions = append(b.reactions, r)
	b.publish(domain.ReactionInserted(r))
	return r, nil
}

// GameResults aggregates answers per participant, highest total first.
// Participants with equal totals stay in join order.
func (b *Backend) GameResults(_ context.Context, gameID string) ([]domain.GameResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	g, ok := b.games[gameID]
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	qs := b.quizSets[g.QuizSetID]
	correct := make(map[string]bool)
	for _, q := range qs.Questions {
		for _, c := range q.Choices {
			correct[c.ID] = c.IsCorrect
		}
	}

	parts := b.participantsOf(gameID)
	index := make(map[string]int, len(parts))
	results := make([]domain.GameResult, len(parts))
	for i, p := range parts {
		index[p.ID] = i
		results[i] = domain.GameResult{
			GameID:         gameID,
			ParticipantID:  p.ID,
			Nickname:       p.Nickname,
			AvatarID:       p.AvatarID,
			TeamID:         p.TeamID,
			TotalQuestions: len(qs.Questions),
		}
	}
	for _, a := range b.answers {
		i, ok := index[a.ParticipantID]
		if a.gameID != gameID || !ok {
			continue
		}
		results[i].TotalScore += a.Score
		results[i].TotalAnswers++
		if correct[a.ChoiceID] {
			results[i].CorrectAnswers++
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].TotalScore > results[j].TotalScore })
	return results, nil
}

// Upload stores a blob under bucket/path.
func (b *Backend) Upload(_ context.Context, bucket, path, contentType string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[bucket+"/"+path] = blob{contentType: contentType, data: append([]byte(nil), data...)}
	return nil
}

func (b *Backend) Open(_ context.Context, bucket, path string) (io.ReadCloser, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bl, ok := b.blobs[bucket+"/"+path]
	if !ok {
		return nil, "", domain.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(bl.data)), bl.contentType, nil
}

// WithPublicBase sets the absolute URL prefix of PublicURL.
func (b *Backend) WithPublicBase(base string) *Backend {
	b.publicBase = strings.TrimRight(base, "/")
	return b
}

// PublicURL is the address the blob is served under by the HTTP layer.
func (b *Backend) PublicURL(bucket, path string) string {
	return b.publicBase + "/blobs/" + bucket + "/" + path
}
