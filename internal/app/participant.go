package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Screen is what a participant device currently shows.
type Screen string

const (
	ScreenRestoring Screen = "restoring"
	ScreenLobby     Screen = "lobby"
	ScreenQuiz      Screen = "quiz"
	ScreenResult    Screen = "result"
	ScreenReload    Screen = "reload"
)

// ParticipantDeps are the collaborators of a participant session.
type ParticipantDeps struct {
	Store     Store
	Questions QuestionSource // defaults to Store
	Feed      Feed
	Identity  Identity
	Saved     SavedParticipants
	Clock     clockwork.Clock
	Log       *zap.SugaredLogger
	Cues      Cues
	Timing    Timing
	Rand      *rand.Rand
}

// ChoiceView is a choice as rendered on a device. Correctness is only
// disclosed once the answer is revealed.
type ChoiceView struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	IsCorrect *bool  `json:"isCorrect,omitempty"`
}

// QuestionView is the current question on a participant device.
type QuestionView struct {
	Index            int          `json:"index"`
	Count            int          `json:"count"`
	ID               string       `json:"id"`
	Body             string       `json:"body"`
	ImageURL         string       `json:"imageUrl,omitempty"`
	Choices          []ChoiceView `json:"choices,omitempty"`
	ChoicesOpen      bool         `json:"choicesOpen"`
	Revealed         bool         `json:"revealed"`
	SelectedChoiceID string       `json:"selectedChoiceId,omitempty"`
	Score            int          `json:"score"`
	Correct          *bool        `json:"correct,omitempty"`
}

// ResultsView is the leaderboard as seen by one participant.
type ResultsView struct {
	Leaderboard []domain.RankedResult `json:"leaderboard"`
	Own         *domain.RankedResult  `json:"own,omitempty"`
	Teams       []domain.TeamScore    `json:"teams,omitempty"`
}

// ParticipantView is what a participant device renders.
type ParticipantView struct {
	GameID          string              `json:"gameId"`
	Screen          Screen              `json:"screen"`
	Phase           domain.Phase        `json:"phase"`
	ThemeID         string              `json:"themeId"`
	Token           string              `json:"token,omitempty"`
	Participant     *domain.Participant `json:"participant,omitempty"`
	SuggestedAvatar string              `json:"suggestedAvatar,omitempty"`
	Teams           []domain.Team       `json:"teams,omitempty"`
	Question        *QuestionView       `json:"question,omitempty"`
	Reactions       []domain.Reaction   `json:"reactions,omitempty"`
	Results         *ResultsView        `json:"results,omitempty"`
}

// ParticipantSession follows the game row for one device: it restores a
// previous registration, registers new players and submits their answers.
// The game row is authoritative; every update is adopted as delivered.
type ParticipantSession struct {
	gameID    string
	store     Store
	questions QuestionSource
	feed      Feed
	identity  Identity
	saved     SavedParticipants
	clock     clockwork.Clock
	log       *zap.SugaredLogger
	cues      Cues
	timing    Timing
	rnd       *rand.Rand

	eventLoop
	views chan ParticipantView
	ctx   context.Context

	// owned by the loop
	user        domain.Identity
	screen      Screen
	broken      bool
	game        domain.Game
	participant *domain.Participant
	suggested   string
	quiz        []domain.Question
	index       int
	current     *domain.Question
	revealed    bool
	choicesOpen bool
	shownAt     time.Time
	selected    string
	score       int
	lifetime    uint64
	choiceTask  *Task
	reactions   *reactionWindow
	ranker      *Ranker
	results     *ResultsView
}

// NewParticipantSession creates a session for the device signed in as user.
// A zero user means the device has no identity yet; one is issued on
// registration.
func NewParticipantSession(gameID string, user domain.Identity, deps ParticipantDeps) *ParticipantSession {
	if deps.Questions == nil {
		deps.Questions = deps.Store
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	if deps.Cues == nil {
		deps.Cues = NopCues{}
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(deps.Clock.Now().UnixNano()))
	}
	return &ParticipantSession{
		gameID:     gameID,
		store:      deps.Store,
		questions:  deps.Questions,
		feed:       deps.Feed,
		identity:   deps.Identity,
		saved:      deps.Saved,
		clock:      deps.Clock,
		log:        deps.Log.With("gameId", gameID, "role", "participant"),
		cues:       deps.Cues,
		timing:     deps.Timing,
		rnd:        deps.Rand,
		eventLoop:  newEventLoop(),
		views:      make(chan ParticipantView, 1),
		ctx:        context.Background(),
		user:       user,
		screen:     ScreenRestoring,
		suggested:  domain.DefaultAvatarID,
		choiceTask: NewTask(deps.Clock),
		reactions:  newReactionWindow(deps.Clock, deps.Timing.ReactionWindow),
		ranker:     NewRanker(),
	}
}

// Views streams the latest participant view. Unread views are replaced by newer ones.
func (p *ParticipantSession) Views() <-chan ParticipantView {
	return p.views
}

// Run restores a saved registration if there is one and then follows the game
// until ctx is done.
func (p *ParticipantSession) Run(ctx context.Context) error {
	defer close(p.done)
	p.ctx = ctx
	p.publish()

	games, stopGames, err := p.feed.Subscribe(ctx, domain.Filter{Table: domain.TableGames, Kind: domain.EventUpdate, Field: "id", Value: p.gameID})
	if err != nil {
		return fmt.Errorf("subscribe game: %w", err)
	}
	defer stopGames()
	reacts, stopReacts, err := p.feed.Subscribe(ctx, domain.Filter{Table: domain.TableReactions, Kind: domain.EventInsert, Field: "game_id", Value: p.gameID})
	if err != nil {
		return fmt.Errorf("subscribe reactions: %w", err)
	}
	defer stopReacts()
	defer p.shutdown()

	game, err := p.store.GetGame(ctx, p.gameID)
	if err != nil {
		return err
	}
	p.game = game
	quiz, err := loadQuestions(ctx, p.clock, p.questions, game.QuizSetID, p.timing, p.log)
	if err != nil {
		// the session stays usable; question screens render without content
		p.log.Errorw("questions unavailable", "error", err)
	}
	p.quiz = quiz

	p.screen = ScreenLobby
	p.suggested = domain.RandomAvatar(p.rnd).ID
	p.restore()
	p.publish()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-games:
			if !ok {
				return feedClosed(ctx, "game")
			}
			g, err := domain.DecodeRow[domain.Game](ev)
			if err != nil {
				p.log.Warnw("drop game event", "error", err)
				continue
			}
			p.applyGame(g)
		case ev, ok := <-reacts:
			if !ok {
				return feedClosed(ctx, "reaction")
			}
			if r, err := domain.DecodeRow[domain.Reaction](ev); err == nil {
				p.reactions.add(r, p.post)
			}
		case fn := <-p.events:
			fn()
		}
		p.publish()
	}
}

// restore validates the registration this device saved for the game. Any
// failure leaves the session unregistered in the lobby.
func (p *ParticipantSession) restore() {
	if p.user.UserID == "" {
		return
	}
	var found *domain.Participant
	if p.saved != nil {
		id, ok, err := p.saved.Load(p.ctx, p.user.UserID, p.gameID)
		if err != nil {
			p.log.Warnw("load saved participant", "error", err)
		} else if ok {
			part, err := p.store.GetParticipant(p.ctx, p.gameID, id)
			switch {
			case err == nil && part.UserID == p.user.UserID:
				found = &part
			case err == nil || errors.Is(err, domain.ErrParticipantNotFound):
				if err := p.saved.Forget(p.ctx, p.user.UserID, p.gameID); err != nil {
					p.log.Warnw("forget saved participant", "error", err)
				}
			default:
				p.log.Warnw("validate saved participant", "error", err)
			}
		}
	}
	if found == nil {
		part, ok, err := p.store.FindParticipantByUser(p.ctx, p.gameID, p.user.UserID)
		if err != nil {
			p.log.Warnw("find participant by user", "error", err)
			return
		}
		if !ok {
			return
		}
		found = &part
	}
	p.participant = found
	p.log.Infow("participant restored", "participantId", found.ID)
	p.applyGame(p.game)
}

// Register joins the game with a nickname and avatar. An empty avatar takes
// the suggested one. Registering again after success is a no-op.
func (p *ParticipantSession) Register(ctx context.Context, nickname, avatarID string) error {
	return p.call(ctx, func() error {
		if p.participant != nil {
			return nil
		}
		name, err := domain.ValidateNickname(nickname)
		if err != nil {
			return err
		}
		if avatarID == "" {
			avatarID = p.suggested
		}
		if _, ok := domain.AvatarByID(avatarID); !ok {
			return domain.ErrUnknownAvatar
		}
		if err := p.ensureIdentity(); err != nil {
			return err
		}

		part, ok, err := p.store.FindParticipantByUser(p.ctx, p.gameID, p.user.UserID)
		if err != nil {
			return fmt.Errorf("find participant: %w", err)
		}
		if !ok {
			part, err = p.store.CreateParticipant(p.ctx, domain.Participant{
				GameID:   p.gameID,
				UserID:   p.user.UserID,
				Nickname: name,
				AvatarID: avatarID,
			})
			if err != nil {
				return fmt.Errorf("create participant: %w", err)
			}
		}
		if p.saved != nil {
			if err := p.saved.Save(p.ctx, p.user.UserID, p.gameID, part.ID); err != nil {
				p.log.Warnw("save participant", "error", err)
			}
		}
		p.participant = &part
		p.log.Infow("participant registered", "participantId", part.ID, "nickname", part.Nickname)

		game, err := p.store.GetGame(p.ctx, p.gameID)
		if err != nil {
			p.log.Warnw("refresh game after registration", "error", err)
			game = p.game
		}
		p.applyGame(game)
		return nil
	})
}

func (p *ParticipantSession) ensureIdentity() error {
	if p.user.UserID != "" {
		return nil
	}
	if p.identity == nil {
		return domain.ErrIdentityUnavailable
	}
	id, err := p.identity.SignInAnonymously(p.ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIdentityUnavailable, err)
	}
	p.user = id
	return nil
}

// SubmitAnswer records the participant's choice for the current question.
// Only one choice is accepted per question and only while choices are open.
// A failed write clears the selection so the player can try again.
func (p *ParticipantSession) SubmitAnswer(ctx context.Context, choiceID string) error {
	return p.call(ctx, func() error {
		if p.participant == nil {
			return domain.ErrNotRegistered
		}
		if p.screen != ScreenQuiz || p.current == nil {
			return domain.ErrNotInQuiz
		}
		if p.selected != "" {
			return domain.ErrAlreadyAnswered
		}
		if p.revealed || !p.choicesOpen {
			return domain.ErrAnswerNotAllowed
		}
		choice, ok := p.current.Choice(choiceID)
		if !ok {
			return domain.ErrChoiceNotFound
		}

		score := Score(choice.IsCorrect, p.clock.Since(p.shownAt), p.timing.AnswerWindow)
		p.selected, p.score = choice.ID, score
		p.publish()

		_, err := p.store.InsertAnswer(p.ctx, p.gameID, domain.Answer{
			ParticipantID: p.participant.ID,
			QuestionID:    p.current.ID,
			ChoiceID:      choice.ID,
			Score:         score,
		})
		if err != nil {
			p.selected, p.score = "", 0
			return fmt.Errorf("submit answer: %w", err)
		}
		return nil
	})
}

// SendReaction broadcasts an emoji to everyone in the game.
func (p *ParticipantSession) SendReaction(ctx context.Context, emoji string) error {
	return p.call(ctx, func() error {
		if p.participant == nil {
			return domain.ErrNotRegistered
		}
		if !domain.ValidReaction(emoji) {
			return domain.ErrUnknownEmoji
		}
		_, err := p.store.InsertReaction(p.ctx, domain.Reaction{
			GameID:        p.gameID,
			ParticipantID: p.participant.ID,
			Emoji:         emoji,
		})
		if err != nil {
			return fmt.Errorf("send reaction: %w", err)
		}
		return nil
	})
}

// JoinTeam moves the participant into one of the game's teams.
func (p *ParticipantSession) JoinTeam(ctx context.Context, teamID string) error {
	return p.call(ctx, func() error {
		if p.participant == nil {
			return domain.ErrNotRegistered
		}
		if !domain.TeamPlayable(teamID, p.game.Settings.TeamCount) {
			return domain.ErrUnknownTeam
		}
		part, err := p.store.SetParticipantTeam(p.ctx, p.participant.ID, teamID)
		if err != nil {
			return fmt.Errorf("join team: %w", err)
		}
		p.participant = &part
		return nil
	})
}

// Snapshot returns the current participant view.
func (p *ParticipantSession) Snapshot(ctx context.Context) (ParticipantView, error) {
	var view ParticipantView
	err := p.call(ctx, func() error {
		view = p.safeRender()
		return nil
	})
	return view, err
}

// applyGame adopts a game row. Unregistered devices only remember it.
func (p *ParticipantSession) applyGame(g domain.Game) {
	prev := p.game
	p.game = g
	if p.participant == nil {
		return
	}

	switch g.Phase {
	case domain.PhaseResult:
		if p.screen != ScreenResult {
			p.endQuestion()
			p.screen = ScreenResult
			p.loadResults()
		}
	case domain.PhaseLobby:
		p.screen = ScreenLobby
	default:
		if p.screen != ScreenQuiz || prev.CurrentQuestionSequence != g.CurrentQuestionSequence {
			p.screen = ScreenQuiz
			p.beginQuestion(g.CurrentQuestionSequence, g.IsAnswerRevealed)
			return
		}
		if g.IsAnswerRevealed && !p.revealed {
			p.onReveal()
		}
		p.revealed = g.IsAnswerRevealed
	}
}

func (p *ParticipantSession) endQuestion() {
	p.lifetime++
	p.choiceTask.Cancel()
	p.current = nil
	p.revealed = false
	p.choicesOpen = false
	p.selected = ""
	p.score = 0
}

func (p *ParticipantSession) beginQuestion(index int, revealed bool) {
	p.endQuestion()
	p.index = index
	p.revealed = revealed
	if index < 0 || index >= len(p.quiz) {
		p.log.Warnw("question index out of range", "index", index, "questions", len(p.quiz))
		return
	}
	q := p.quiz[index]
	p.current = &q
	if revealed {
		return
	}
	lt := p.lifetime
	p.choiceTask.Start(p.timing.ChoiceRevealDelay, func() {
		p.post(func() {
			if lt != p.lifetime || p.revealed {
				return
			}
			p.choicesOpen = true
			p.shownAt = p.clock.Now()
		})
	})
}

func (p *ParticipantSession) onReveal() {
	p.choiceTask.Cancel()
	p.choicesOpen = false
	if p.current != nil && p.selected != "" {
		if c, ok := p.current.Choice(p.selected); ok && c.IsCorrect {
			p.cues.Play(SoundCorrect)
		} else {
			p.cues.Play(SoundWrong)
		}
	}
	p.loadResults()
}

func (p *ParticipantSession) loadResults() {
	results, err := p.store.GameResults(p.ctx, p.gameID)
	if err != nil {
		p.log.Errorw("fetch results", "error", err)
		return
	}
	view := &ResultsView{Leaderboard: p.ranker.Rank(results)}
	if p.game.Settings.TeamCount > 0 {
		view.Teams = RankTeams(results)
	}
	for i := range view.Leaderboard {
		if p.participant != nil && view.Leaderboard[i].ParticipantID == p.participant.ID {
			own := view.Leaderboard[i]
			view.Own = &own
			break
		}
	}
	p.results = view
}

func (p *ParticipantSession) shutdown() {
	p.endQuestion()
	p.reactions.stop()
}

func (p *ParticipantSession) publish() {
	offerLatest(p.views, p.safeRender())
}

// safeRender builds the view. A panic while rendering switches the device to
// the reload screen for the rest of the session.
func (p *ParticipantSession) safeRender() (view ParticipantView) {
	if p.broken {
		return p.reloadView()
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("render participant view", "panic", r)
			p.broken = true
			view = p.reloadView()
		}
	}()
	return p.render()
}

func (p *ParticipantSession) reloadView() ParticipantView {
	return ParticipantView{GameID: p.gameID, Screen: ScreenReload, Phase: p.game.Phase, ThemeID: domain.ResolveTheme(p.game.Settings.ThemeID)}
}

func (p *ParticipantSession) render() ParticipantView {
	view := ParticipantView{
		GameID:    p.gameID,
		Screen:    p.screen,
		Phase:     p.game.Phase,
		ThemeID:   domain.ResolveTheme(p.game.Settings.ThemeID),
		Token:     p.user.Token,
		Teams:     domain.TeamsByCount(p.game.Settings.TeamCount),
		Reactions: p.reactions.visible(),
	}
	if p.participant != nil {
		part := *p.participant
		view.Participant = &part
	} else {
		view.SuggestedAvatar = p.suggested
	}

	switch p.screen {
	case ScreenQuiz:
		view.Question = p.renderQuestion()
		if p.revealed {
			view.Results = p.results
		}
	case ScreenResult:
		view.Results = p.results
	}
	return view
}

func (p *ParticipantSession) renderQuestion() *QuestionView {
	if p.current == nil {
		return nil
	}
	q := p.current
	qv := &QuestionView{
		Index:            p.index,
		Count:            len(p.quiz),
		ID:               q.ID,
		Body:             q.Body,
		ImageURL:         q.ImageURL,
		ChoicesOpen:      p.choicesOpen,
		Revealed:         p.revealed,
		SelectedChoiceID: p.selected,
		Score:            p.score,
	}
	if p.choicesOpen || p.revealed || p.selected != "" {
		qv.Choices = make([]ChoiceView, len(q.Choices))
		for i, c := range q.Choices {
			qv.Choices[i] = ChoiceView{ID: c.ID, Body: c.Body}
			if p.revealed {
				correct := c.IsCorrect
				qv.Choices[i].IsCorrect = &correct
			}
		}
	}
	if p.revealed && p.selected != "" {
		c, _ := q.Choice(p.selected)
		correct := c.IsCorrect
		qv.Correct = &correct
	}
	return qv
}
