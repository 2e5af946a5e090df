package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// HostStage is the host's position within the current question.
type HostStage string

const (
	StageLobby        HostStage = "lobby"
	StageCountingDown HostStage = "counting-down-to-reveal-choices"
	StageCollecting   HostStage = "collecting-answers"
	StageRevealed     HostStage = "revealed"
	StageAutoAdvance  HostStage = "auto-advance-countdown"
	StageAdvancing    HostStage = "advancing"
	StageResult       HostStage = "result"
)

// HostDeps are the collaborators of a host session.
type HostDeps struct {
	Store     Store
	Questions QuestionSource // defaults to Store
	Feed      Feed
	Clock     clockwork.Clock
	Log       *zap.SugaredLogger
	Cues      Cues
	Timing    Timing
}

// HostView is what the host screen renders.
type HostView struct {
	GameID        string                `json:"gameId"`
	Phase         domain.Phase          `json:"phase"`
	Stage         HostStage             `json:"stage"`
	ThemeID       string                `json:"themeId"`
	QuestionIndex int                   `json:"questionIndex"`
	QuestionCount int                   `json:"questionCount"`
	Question      *domain.Question      `json:"question,omitempty"`
	ChoicesShown  bool                  `json:"choicesShown"`
	AnswerCount   int                   `json:"answerCount"`
	EligibleCount int                   `json:"eligibleCount"`
	ChoiceCounts  map[string]int        `json:"choiceCounts,omitempty"`
	Countdown     int                   `json:"countdown,omitempty"`
	AutoAdvance   bool                  `json:"autoAdvance"`
	ReadAloud     bool                  `json:"readAloud"`
	Participants  []domain.Participant  `json:"participants"`
	Leaderboard   []domain.RankedResult `json:"leaderboard,omitempty"`
	Teams         []domain.TeamScore    `json:"teams,omitempty"`
	Reactions     []domain.Reaction     `json:"reactions,omitempty"`
}

// HostSession drives one game: it advances the question sequence, tallies
// answers and reveals them. Every game write is a broadcast other sessions
// pick up through the change feed; the host's own index changes come back the
// same way and are what resets its per-question state.
type HostSession struct {
	gameID    string
	store     Store
	questions QuestionSource
	feed      Feed
	clock     clockwork.Clock
	log       *zap.SugaredLogger
	cues      Cues
	timing    Timing

	eventLoop
	views chan HostView
	ctx   context.Context

	// owned by the loop
	game         domain.Game
	adopted      bool
	quiz         []domain.Question
	participants []domain.Participant
	stage        HostStage
	index        int
	current      *domain.Question
	choicesShown bool
	lifetime     uint64
	tally        *AnswerTally
	answers      <-chan domain.ChangeEvent
	stopAnswers  func()
	countdown    int
	autoAdvance  bool
	readAloud    bool
	ranker       *Ranker
	leaderboard  []domain.RankedResult
	teams        []domain.TeamScore
	reactions    *reactionWindow

	choiceTask    *Task
	windowTask    *Task
	countdownTask *Task
	readTask      *Task
}

func NewHostSession(gameID string, deps HostDeps) *HostSession {
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
	return &HostSession{
		gameID:        gameID,
		store:         deps.Store,
		questions:     deps.Questions,
		feed:          deps.Feed,
		clock:         deps.Clock,
		log:           deps.Log.With("gameId", gameID, "role", "host"),
		cues:          deps.Cues,
		timing:        deps.Timing,
		eventLoop:     newEventLoop(),
		views:         make(chan HostView, 1),
		ctx:           context.Background(),
		stage:         StageLobby,
		ranker:        NewRanker(),
		reactions:     newReactionWindow(deps.Clock, deps.Timing.ReactionWindow),
		choiceTask:    NewTask(deps.Clock),
		windowTask:    NewTask(deps.Clock),
		countdownTask: NewTask(deps.Clock),
		readTask:      NewTask(deps.Clock),
	}
}

// Views streams the latest host view. Unread views are replaced by newer ones.
func (h *HostSession) Views() <-chan HostView {
	return h.views
}

// Run loads the game and processes events until ctx is done.
func (h *HostSession) Run(ctx context.Context) error {
	defer close(h.done)
	h.ctx = ctx

	// subscribe before reading so no update between the read and the
	// subscription is lost
	games, stopGames, err := h.feed.Subscribe(ctx, domain.Filter{Table: domain.TableGames, Kind: domain.EventUpdate, Field: "id", Value: h.gameID})
	if err != nil {
		return fmt.Errorf("subscribe game: %w", err)
	}
	defer stopGames()
	joins, stopJoins, err := h.feed.Subscribe(ctx, domain.Filter{Table: domain.TableParticipants, Field: "game_id", Value: h.gameID})
	if err != nil {
		return fmt.Errorf("subscribe participants: %w", err)
	}
	defer stopJoins()
	reacts, stopReacts, err := h.feed.Subscribe(ctx, domain.Filter{Table: domain.TableReactions, Kind: domain.EventInsert, Field: "game_id", Value: h.gameID})
	if err != nil {
		return fmt.Errorf("subscribe reactions: %w", err)
	}
	defer stopReacts()
	defer h.shutdown()

	game, err := h.store.GetGame(ctx, h.gameID)
	if err != nil {
		return err
	}
	quiz, err := loadQuestions(ctx, h.clock, h.questions, game.QuizSetID, h.timing, h.log)
	if err != nil {
		return err
	}
	participants, err := h.store.ListParticipants(ctx, h.gameID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}

	h.quiz = quiz
	h.participants = participants
	h.autoAdvance = game.Settings.AutoAdvanceSeconds > 0
	h.readAloud = game.Settings.AutoRead
	h.adopt(game)
	h.publish()

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
				h.log.Warnw("drop game event", "error", err)
				continue
			}
			h.adopt(g)
		case ev, ok := <-joins:
			if !ok {
				return feedClosed(ctx, "participant")
			}
			h.onParticipant(ev)
		case ev, ok := <-h.answers:
			if !ok {
				h.answers = nil
				continue
			}
			h.onAnswer(ev)
		case ev, ok := <-reacts:
			if !ok {
				return feedClosed(ctx, "reaction")
			}
			if r, err := domain.DecodeRow[domain.Reaction](ev); err == nil {
				h.reactions.add(r, h.post)
			}
		case fn := <-h.events:
			fn()
		}
		h.publish()
	}
}

// Start moves the game out of the lobby onto the first question.
func (h *HostSession) Start(ctx context.Context) error {
	return h.call(ctx, func() error {
		if h.game.Phase != domain.PhaseLobby {
			return domain.ErrNotInLobby
		}
		if len(h.quiz) == 0 {
			return domain.ErrQuestionOutOfRange
		}
		phase, first, revealed := domain.PhaseQuiz, 0, false
		_, err := h.store.UpdateGame(h.ctx, h.gameID, domain.GamePatch{
			Phase:                   &phase,
			CurrentQuestionSequence: &first,
			IsAnswerRevealed:        &revealed,
		})
		if err != nil {
			return fmt.Errorf("start game: %w", err)
		}
		return nil
	})
}

// Next advances to the following question, or to the results after the last
// one. It is only allowed once the current answer is revealed and cancels any
// running auto-advance countdown.
func (h *HostSession) Next(ctx context.Context) error {
	return h.call(ctx, h.advance)
}

// SetAutoAdvance toggles the automatic countdown after a reveal.
func (h *HostSession) SetAutoAdvance(ctx context.Context, enabled bool) error {
	return h.call(ctx, func() error {
		h.autoAdvance = enabled
		if !enabled {
			if h.stage == StageAutoAdvance {
				h.countdownTask.Cancel()
				h.countdown = 0
				h.stage = StageRevealed
			}
			return nil
		}
		if h.stage == StageRevealed {
			h.startCountdown()
		}
		return nil
	})
}

// SetReadAloud toggles reading the question body out loud.
func (h *HostSession) SetReadAloud(ctx context.Context, enabled bool) error {
	return h.call(ctx, func() error {
		h.readAloud = enabled
		if !enabled {
			h.readTask.Cancel()
			h.cues.StopSpeaking()
		}
		return nil
	})
}

// Snapshot returns the current host view.
func (h *HostSession) Snapshot(ctx context.Context) (HostView, error) {
	var view HostView
	err := h.call(ctx, func() error {
		view = h.render()
		return nil
	})
	return view, err
}

func (h *HostSession) adopt(g domain.Game) {
	prev, first := h.game, !h.adopted
	h.game = g
	h.adopted = true

	switch g.Phase {
	case domain.PhaseLobby:
		h.stage = StageLobby
	case domain.PhaseQuiz:
		if first || prev.Phase != domain.PhaseQuiz || prev.CurrentQuestionSequence != g.CurrentQuestionSequence {
			h.enterQuestion(g.CurrentQuestionSequence, g.IsAnswerRevealed)
			return
		}
		// another writer revealed this question; last writer wins
		if g.IsAnswerRevealed && (h.stage == StageCountingDown || h.stage == StageCollecting) {
			h.markRevealed()
		}
	case domain.PhaseResult:
		if first || prev.Phase != domain.PhaseResult {
			h.endQuestion()
			h.stage = StageResult
			h.refreshLeaderboard()
		}
	}
}

// endQuestion closes the current question lifetime: timers, subscription and tally.
func (h *HostSession) endQuestion() {
	h.lifetime++
	h.choiceTask.Cancel()
	h.windowTask.Cancel()
	h.countdownTask.Cancel()
	h.readTask.Cancel()
	if h.stopAnswers != nil {
		h.stopAnswers()
		h.stopAnswers = nil
	}
	h.answers = nil
	h.tally = nil
	h.current = nil
	h.countdown = 0
	h.choicesShown = false
}

func (h *HostSession) enterQuestion(index int, revealed bool) {
	h.endQuestion()
	h.index = index
	if index < 0 || index >= len(h.quiz) {
		h.log.Errorw("question index out of range", "index", index, "questions", len(h.quiz))
		h.stage = StageRevealed
		return
	}
	q := h.quiz[index]
	h.current = &q
	h.tally = NewAnswerTally(q.ID)

	answers, stop, err := h.feed.Subscribe(h.ctx, domain.Filter{Table: domain.TableAnswers, Kind: domain.EventInsert, Field: "question_id", Value: q.ID})
	if err != nil {
		h.log.Errorw("subscribe answers", "questionId", q.ID, "error", err)
	} else {
		h.answers, h.stopAnswers = answers, stop
	}

	if revealed {
		h.stage = StageRevealed
		h.choicesShown = true
		h.refreshLeaderboard()
		return
	}

	h.stage = StageCountingDown
	h.choiceTask.Start(h.timing.ChoiceRevealDelay, h.inLifetime(h.showChoices))
	if h.readAloud {
		body := q.Body
		h.readTask.Start(h.timing.ReadAloudDelay, h.inLifetime(func() { h.cues.Speak(body) }))
	}
}

// inLifetime wraps fn for a timer callback so it runs on the loop and only
// while the question that scheduled it is still current.
func (h *HostSession) inLifetime(fn func()) func() {
	lt := h.lifetime
	return func() {
		h.post(func() {
			if lt == h.lifetime {
				fn()
			}
		})
	}
}

func (h *HostSession) showChoices() {
	if h.stage != StageCountingDown {
		return
	}
	h.stage = StageCollecting
	h.choicesShown = true
	if h.timing.RevealOnTimeout && h.timing.AnswerWindow > 0 {
		h.windowTask.Start(h.timing.AnswerWindow, h.inLifetime(func() {
			if h.stage == StageCollecting {
				h.log.Infow("answer window elapsed", "questionIndex", h.index)
				h.reveal()
			}
		}))
	}
}

func (h *HostSession) onParticipant(ev domain.ChangeEvent) {
	p, err := domain.DecodeRow[domain.Participant](ev)
	if err != nil {
		h.log.Warnw("drop participant event", "error", err)
		return
	}
	for i := range h.participants {
		if h.participants[i].ID == p.ID {
			h.participants[i] = p
			return
		}
	}
	h.participants = append(h.participants, p)
}

func (h *HostSession) onAnswer(ev domain.ChangeEvent) {
	a, err := domain.DecodeRow[domain.Answer](ev)
	if err != nil {
		h.log.Warnw("drop answer event", "error", err)
		return
	}
	// answers are keyed by question, which games playing the same quiz set share
	if h.tally == nil || !h.isParticipant(a.ParticipantID) || !h.tally.Add(a) {
		return
	}
	if h.stage != StageCountingDown && h.stage != StageCollecting {
		return
	}
	if h.tally.Complete(h.eligible()) {
		h.reveal()
	}
}

// isParticipant reports whether id belongs to this game. A participant whose
// join event has not arrived yet is looked up in the store.
func (h *HostSession) isParticipant(id string) bool {
	for _, p := range h.participants {
		if p.ID == id {
			return true
		}
	}
	p, err := h.store.GetParticipant(h.ctx, h.gameID, id)
	if err != nil {
		if !errors.Is(err, domain.ErrParticipantNotFound) {
			h.log.Warnw("look up answering participant", "participantId", id, "error", err)
		}
		return false
	}
	h.participants = append(h.participants, p)
	return true
}

// eligible counts the participants expected to answer. The host's own
// identity never answers. The count is read live, so late joiners raise it.
func (h *HostSession) eligible() int {
	n := 0
	for _, p := range h.participants {
		if p.UserID != h.game.HostUserID {
			n++
		}
	}
	return n
}

func (h *HostSession) reveal() {
	h.markRevealed()
	revealed := true
	if _, err := h.store.UpdateGame(h.ctx, h.gameID, domain.GamePatch{IsAnswerRevealed: &revealed}); err != nil {
		h.log.Errorw("write reveal flag", "error", err)
	}
	h.startCountdown()
}

func (h *HostSession) markRevealed() {
	h.choiceTask.Cancel()
	h.windowTask.Cancel()
	h.stage = StageRevealed
	h.choicesShown = true
	h.game.IsAnswerRevealed = true
	h.refreshLeaderboard()
}

func (h *HostSession) startCountdown() {
	seconds := h.game.Settings.AutoAdvanceSeconds
	if !h.autoAdvance || seconds <= 0 {
		return
	}
	h.countdown = seconds
	h.stage = StageAutoAdvance
	h.scheduleTick()
}

func (h *HostSession) scheduleTick() {
	h.countdownTask.Start(time.Second, h.inLifetime(h.tick))
}

func (h *HostSession) tick() {
	if h.stage != StageAutoAdvance {
		return
	}
	h.countdown--
	if h.countdown > 0 {
		h.scheduleTick()
		return
	}
	h.countdown = 0
	if err := h.advance(); err != nil {
		h.log.Errorw("auto-advance", "error", err)
	}
}

func (h *HostSession) advance() error {
	if h.game.Phase != domain.PhaseQuiz {
		return domain.ErrNotInQuiz
	}
	switch h.stage {
	case StageAdvancing:
		return nil
	case StageRevealed, StageAutoAdvance:
	default:
		return domain.ErrNotRevealed
	}
	h.countdownTask.Cancel()
	h.countdown = 0
	h.stage = StageAdvancing

	var patch domain.GamePatch
	if h.index+1 >= len(h.quiz) {
		phase := domain.PhaseResult
		patch.Phase = &phase
	} else {
		next, revealed := h.index+1, false
		patch.CurrentQuestionSequence = &next
		patch.IsAnswerRevealed = &revealed
	}
	if _, err := h.store.UpdateGame(h.ctx, h.gameID, patch); err != nil {
		h.stage = StageRevealed
		return fmt.Errorf("advance game: %w", err)
	}
	return nil
}

func (h *HostSession) refreshLeaderboard() {
	results, err := h.store.GameResults(h.ctx, h.gameID)
	if err != nil {
		h.log.Errorw("fetch leaderboard", "error", err)
		return
	}
	h.leaderboard = h.ranker.Rank(results)
	if h.game.Settings.TeamCount > 0 {
		h.teams = RankTeams(results)
	}
}

func (h *HostSession) shutdown() {
	h.endQuestion()
	h.reactions.stop()
	h.cues.StopSpeaking()
}

func (h *HostSession) publish() {
	offerLatest(h.views, h.render())
}

func (h *HostSession) render() HostView {
	view := HostView{
		GameID:        h.gameID,
		Phase:         h.game.Phase,
		Stage:         h.stage,
		ThemeID:       domain.ResolveTheme(h.game.Settings.ThemeID),
		QuestionIndex: h.index,
		QuestionCount: len(h.quiz),
		ChoicesShown:  h.choicesShown,
		EligibleCount: h.eligible(),
		Countdown:     h.countdown,
		AutoAdvance:   h.autoAdvance,
		ReadAloud:     h.readAloud,
		Participants:  append([]domain.Participant(nil), h.participants...),
		Leaderboard:   h.leaderboard,
		Teams:         h.teams,
		Reactions:     h.reactions.visible(),
	}
	if h.current != nil {
		q := *h.current
		view.Question = &q
	}
	if h.tally != nil {
		view.AnswerCount = h.tally.Count()
		if h.game.IsAnswerRevealed || h.stage == StageRevealed || h.stage == StageAutoAdvance {
			view.ChoiceCounts = h.tally.ChoiceCounts()
		}
	}
	return view
}
