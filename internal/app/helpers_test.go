package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap/zaptest"
)

const hostUser = "host-user"

func testTiming() Timing {
	timing := DefaultTiming()
	timing.QuestionRetryBackoff = time.Millisecond
	return timing
}

func sampleQuizSet(n int, settings domain.GameSettings) domain.QuizSet {
	qs := domain.QuizSet{Name: "sample", Settings: settings}
	for i := 0; i < n; i++ {
		qs.Questions = append(qs.Questions, domain.Question{
			ID:    fmt.Sprintf("q%d", i),
			Order: i,
			Body:  fmt.Sprintf("Question %d?", i),
			Choices: []domain.Choice{
				{ID: fmt.Sprintf("q%d-right", i), Body: "right", IsCorrect: true},
				{ID: fmt.Sprintf("q%d-wrong", i), Body: "wrong"},
			},
		})
	}
	return qs
}

// fixture is a game on the in-memory backend driven by a fake clock.
type fixture struct {
	t       *testing.T
	ctx     context.Context
	backend *memory.Backend
	clock   clockwork.FakeClock
	game    domain.Game
}

func newFixture(t *testing.T, questions int, settings domain.GameSettings) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	backend := memory.NewBackend()
	qs, err := backend.CreateQuizSet(ctx, sampleQuizSet(questions, settings))
	if err != nil {
		t.Fatalf("create quiz set: %v", err)
	}
	game, err := backend.CreateGame(ctx, qs.ID, hostUser)
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	return &fixture{t: t, ctx: ctx, backend: backend, clock: clockwork.NewFakeClock(), game: game}
}

func (f *fixture) join(userID, nickname string) domain.Participant {
	f.t.Helper()
	p, err := f.backend.CreateParticipant(f.ctx, domain.Participant{GameID: f.game.ID, UserID: userID, Nickname: nickname, AvatarID: "cat"})
	if err != nil {
		f.t.Fatalf("join %s: %v", nickname, err)
	}
	return p
}

func (f *fixture) answer(p domain.Participant, questionIndex int, correct bool) {
	f.t.Helper()
	choice := fmt.Sprintf("q%d-wrong", questionIndex)
	score := 0
	if correct {
		choice, score = fmt.Sprintf("q%d-right", questionIndex), 500
	}
	_, err := f.backend.InsertAnswer(f.ctx, f.game.ID, domain.Answer{
		ParticipantID: p.ID,
		QuestionID:    fmt.Sprintf("q%d", questionIndex),
		ChoiceID:      choice,
		Score:         score,
	})
	if err != nil {
		f.t.Fatalf("answer: %v", err)
	}
}

func (f *fixture) update(patch domain.GamePatch) {
	f.t.Helper()
	if _, err := f.backend.UpdateGame(f.ctx, f.game.ID, patch); err != nil {
		f.t.Fatalf("update game: %v", err)
	}
}

func (f *fixture) toQuestion(index int, revealed bool) {
	phase := domain.PhaseQuiz
	f.update(domain.GamePatch{Phase: &phase, CurrentQuestionSequence: &index, IsAnswerRevealed: &revealed})
}

func (f *fixture) currentGame() domain.Game {
	f.t.Helper()
	g, err := f.backend.GetGame(f.ctx, f.game.ID)
	if err != nil {
		f.t.Fatalf("get game: %v", err)
	}
	return g
}

// run starts a session loop and fails the test if it exits with an error.
func run(t *testing.T, ctx context.Context, loop func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- loop(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("session exited: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("session did not stop")
		}
	})
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) startHost(deps func(*HostDeps)) *HostSession {
	f.t.Helper()
	d := HostDeps{
		Store:  f.backend,
		Feed:   f.backend,
		Clock:  f.clock,
		Log:    zaptest.NewLogger(f.t).Sugar(),
		Timing: testTiming(),
	}
	if deps != nil {
		deps(&d)
	}
	host := NewHostSession(f.game.ID, d)
	run(f.t, f.ctx, host.Run)
	return host
}

func hostView(t *testing.T, h *HostSession) HostView {
	t.Helper()
	v, err := h.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("host snapshot: %v", err)
	}
	return v
}

func waitHost(t *testing.T, h *HostSession, what string, cond func(HostView) bool) HostView {
	t.Helper()
	var v HostView
	eventually(t, what, func() bool {
		var err error
		v, err = h.Snapshot(context.Background())
		return err == nil && cond(v)
	})
	return v
}

func waitStage(t *testing.T, h *HostSession, stage HostStage) HostView {
	t.Helper()
	return waitHost(t, h, "stage "+string(stage), func(v HostView) bool { return v.Stage == stage })
}

func (f *fixture) startParticipant(user domain.Identity, deps func(*ParticipantDeps)) *ParticipantSession {
	f.t.Helper()
	session := f.newParticipant(user, deps)
	run(f.t, f.ctx, session.Run)
	return session
}

func (f *fixture) newParticipant(user domain.Identity, deps func(*ParticipantDeps)) *ParticipantSession {
	d := ParticipantDeps{
		Store:    f.backend,
		Feed:     f.backend,
		Identity: &fakeIdentity{},
		Saved:    memory.NewSavedParticipants(),
		Clock:    f.clock,
		Log:      zaptest.NewLogger(f.t).Sugar(),
		Timing:   testTiming(),
	}
	if deps != nil {
		deps(&d)
	}
	return NewParticipantSession(f.game.ID, user, d)
}

func waitParticipant(t *testing.T, p *ParticipantSession, what string, cond func(ParticipantView) bool) ParticipantView {
	t.Helper()
	var v ParticipantView
	eventually(t, what, func() bool {
		var err error
		v, err = p.Snapshot(context.Background())
		return err == nil && cond(v)
	})
	return v
}

func waitScreen(t *testing.T, p *ParticipantSession, screen Screen) ParticipantView {
	t.Helper()
	return waitParticipant(t, p, "screen "+string(screen), func(v ParticipantView) bool { return v.Screen == screen })
}

type fakeIdentity struct {
	mu    sync.Mutex
	n     int
	fail  bool
	calls int
}

func (f *fakeIdentity) Resume(_ context.Context, token string) (domain.Identity, error) {
	return domain.Identity{}, domain.ErrNoSession
}

func (f *fakeIdentity) SignInAnonymously(context.Context) (domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return domain.Identity{}, errors.New("auth backend down")
	}
	f.n++
	id := fmt.Sprintf("anon-%d", f.n)
	return domain.Identity{UserID: id, Token: "token-" + id}, nil
}

type recordingCues struct {
	mu     sync.Mutex
	sounds []string
	spoken []string
	stops  int
}

func (c *recordingCues) Play(sound string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sounds = append(c.sounds, sound)
}

func (c *recordingCues) Speak(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spoken = append(c.spoken, text)
}

func (c *recordingCues) StopSpeaking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

func (c *recordingCues) played() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sounds...)
}

func (c *recordingCues) said() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.spoken...)
}

// revealCounter counts the writes that flip the reveal flag on.
type revealCounter struct {
	Store
	mu      sync.Mutex
	reveals int
}

func (s *revealCounter) UpdateGame(ctx context.Context, gameID string, patch domain.GamePatch) (domain.Game, error) {
	if patch.IsAnswerRevealed != nil && *patch.IsAnswerRevealed {
		s.mu.Lock()
		s.reveals++
		s.mu.Unlock()
	}
	return s.Store.UpdateGame(ctx, gameID, patch)
}

func (s *revealCounter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reveals
}
