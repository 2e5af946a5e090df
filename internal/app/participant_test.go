package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func TestParticipantRegistersWithAnonymousIdentity(t *testing.T) {
	f := newFixture(t, 1, domain.GameSettings{})
	ids := &fakeIdentity{}
	saved := memory.NewSavedParticipants()
	p := f.startParticipant(domain.Identity{}, func(d *ParticipantDeps) {
		d.Identity = ids
		d.Saved = saved
	})
	v := waitScreen(t, p, ScreenLobby)
	if v.Participant != nil || v.SuggestedAvatar == "" {
		t.Fatalf("expected unregistered lobby with avatar suggestion, got %+v", v)
	}
	if _, ok := domain.AvatarByID(v.SuggestedAvatar); !ok {
		t.Fatalf("suggested avatar %q not in catalog", v.SuggestedAvatar)
	}

	if err := p.Register(f.ctx, "  ann  ", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	v, _ = p.Snapshot(f.ctx)
	if v.Screen != ScreenLobby || v.Participant == nil {
		t.Fatalf("expected registered participant waiting in lobby, got %+v", v)
	}
	if v.Participant.Nickname != "ann" || v.Participant.AvatarID == "" {
		t.Fatalf("unexpected participant %+v", v.Participant)
	}
	if v.Token != "token-anon-1" || v.Participant.UserID != "anon-1" {
		t.Fatalf("expected anonymous identity, got token %q user %q", v.Token, v.Participant.UserID)
	}
	if id, ok, _ := saved.Load(f.ctx, "anon-1", f.game.ID); !ok || id != v.Participant.ID {
		t.Fatalf("expected participant id saved, got %q ok=%v", id, ok)
	}

	if err := p.Register(f.ctx, "again", ""); err != nil {
		t.Fatalf("second register: %v", err)
	}
	parts, _ := f.backend.ListParticipants(f.ctx, f.game.ID)
	ids.mu.Lock()
	calls := ids.calls
	ids.mu.Unlock()
	if len(parts) != 1 || calls != 1 {
		t.Fatalf("expected a single registration, got %d participants and %d sign-ins", len(parts), calls)
	}
}

func TestParticipantRegisterUsesSuggestedAvatar(t *testing.T) {
	f := newFixture(t, 1, domain.GameSettings{})
	p := f.startParticipant(domain.Identity{UserID: "u1"}, nil)
	v := waitScreen(t, p, ScreenLobby)

	if err := p.Register(f.ctx, "ann", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, _ := p.Snapshot(f.ctx)
	if got.Participant.AvatarID != v.SuggestedAvatar {
		t.Fatalf("expected suggested avatar %q, got %q", v.SuggestedAvatar, got.Participant.AvatarID)
	}
}

func TestParticipantRegisterValidates(t *testing.T) {
	f := newFixture(t, 1, domain.GameSettings{})
	p := f.startParticipant(domain.Identity{UserID: "u1"}, nil)
	waitScreen(t, p, ScreenLobby)

	if err := p.Register(f.ctx, "   ", ""); !errors.Is(err, domain.ErrInvalidNickname) {
		t.Fatalf("expected ErrInvalidNickname for blank name, got %v", err)
	}
	if err := p.Register(f.ctx, "abcdefghijklmnopqrstu", ""); !errors.Is(err, domain.ErrInvalidNickname) {
		t.Fatalf("expected ErrInvalidNickname for 21 chars, got %v", err)
	}
	if err := p.Register(f.ctx, "ann", "unicorn-robot"); !errors.Is(err, domain.ErrUnknownAvatar) {
		t.Fatalf("expected ErrUnknownAvatar, got %v", err)
	}
	if err := p.SubmitAnswer(f.ctx, "q0-right"); !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestParticipantIdentityFailureBlocksRegistration(t *testing.T) {
	f := newFixture(t, 1, domain.GameSettings{})
	ids := &fakeIdentity{fail: true}
	p := f.startParticipant(domain.Identity{}, func(d *ParticipantDeps) { d.Identity = ids })
	waitScreen(t, p, ScreenLobby)

	if err := p.Register(f.ctx, "ann", "cat"); !errors.Is(err, domain.ErrIdentityUnavailable) {
		t.Fatalf("expected ErrIdentityUnavailable, got %v", err)
	}
	ids.mu.Lock()
	ids.fail = false
	ids.mu.Unlock()
	if err := p.Register(f.ctx, "ann", "cat"); err != nil {
		t.Fatalf("retry register: %v", err)
	}
}

func TestParticipantRegisteringMidQuizJoinsCurrentQuestion(t *testing.T) {
	f := newFixture(t, 3, domain.GameSettings{})
	f.toQuestion(2, false)
	p := f.startParticipant(domain.Identity{UserID: "u1"}, nil)
	waitScreen(t, p, ScreenLobby)

	if err := p.Register(f.ctx, "ann", "cat"); err != nil {
		t.Fatalf("register: %v", err)
	}
	v, _ := p.Snapshot(f.ctx)
	if v.Screen != ScreenQuiz || v.Question == nil || v.Question.Index != 2 {
		t.Fatalf("expected quiz screen at question 2, got %+v", v)
	}
}

func TestParticipantUnregisteredIgnoresGameUpdates(t *testing.T) {
	f := newFixture(t, 2, domain.GameSettings{})
	p := f.startParticipant(domain.Identity{UserID: "u1"}, nil)
	waitScreen(t, p, ScreenLobby)

	f.toQuestion(0, false)
	waitParticipant(t, p, "game update seen", func(v ParticipantView) bool { return v.Phase == domain.PhaseQuiz })
	if v, _ := p.Snapshot(f.ctx); v.Screen != ScreenLobby || v.Question != nil {
		t.Fatalf("unregistered device left the lobby: %+v", v)
	}
}

func TestParticipantAnswerFlow(t *testing.T) {
	f := newFixture(t, 2, domain.GameSettings{})
	cues := &recordingCues{}
	p := f.startParticipant(domain.Identity{UserID: "u1"}, func(d *ParticipantDeps) { d.Cues = cues })
	waitScreen(t, p, ScreenLobby)
	if err := p.Register(f.ctx, "ann", "cat"); err != nil {
		t.Fatalf("register: %v", err)
	}

	f.toQuestion(0, false)
	v := waitScreen(t, p, ScreenQuiz)
	if v.Question == nil || v.Question.ChoicesOpen || len(v.Question.Choices) != 0 {
		t.Fatalf("expected closed choices during reveal delay, got %+v", v.Question)
	}
	if err := p.SubmitAnswer(f.ctx, "q0-right"); !errors.Is(err, domain.ErrAnswerNotAllowed) {
		t.Fatalf("expected ErrAnswerNotAllowed before choices open, got %v", err)
	}

	f.clock.Advance(5 * time.Second)
	v = waitParticipant(t, p, "choices open", func(v ParticipantView) bool { return v.Question != nil && v.Question.ChoicesOpen })
	for _, c := range v.Question.Choices {
		if c.IsCorrect != nil {
			t.Fatalf("correctness leaked before reveal: %+v", c)
		}
	}
	if err := p.SubmitAnswer(f.ctx, "nope"); !errors.Is(err, domain.ErrChoiceNotFound) {
		t.Fatalf("expected ErrChoiceNotFound, got %v", err)
	}

	f.clock.Advance(5 * time.Second)
	if err := p.SubmitAnswer(f.ctx, "q0-right"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	v, _ = p.Snapshot(f.ctx)
	if v.Question.SelectedChoiceID != "q0-right" || v.Question.Score != 750 {
		t.Fatalf("expected selection scored 750, got %+v", v.Question)
	}
	if err := p.SubmitAnswer(f.ctx, "q0-wrong"); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}
	results, _ := f.backend.GameResults(f.ctx, f.game.ID)
	if len(results) != 1 || results[0].TotalScore != 750 {
		t.Fatalf("expected stored answer worth 750, got %+v", results)
	}

	revealed := true
	f.update(domain.GamePatch{IsAnswerRevealed: &revealed})
	v = waitParticipant(t, p, "reveal", func(v ParticipantView) bool { return v.Question != nil && v.Question.Revealed })
	if v.Question.Correct == nil || !*v.Question.Correct {
		t.Fatalf("expected correct verdict, got %+v", v.Question)
	}
	for _, c := range v.Question.Choices {
		if c.IsCorrect == nil || *c.IsCorrect != (c.ID == "q0-right") {
			t.Fatalf("unexpected revealed choice %+v", c)
		}
	}
	if v.Results == nil || v.Results.Own == nil || v.Results.Own.Rank != 1 {
		t.Fatalf("expected own standing after reveal, got %+v", v.Results)
	}
	if played := cues.played(); len(played) != 1 || played[0] != SoundCorrect {
		t.Fatalf("expected correct sound, got %v", played)
	}
	if err := p.SubmitAnswer(f.ctx, "q0-wrong"); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected ErrAlreadyAnswered after reveal, got %v", err)
	}

	f.toQuestion(1, false)
	v = waitParticipant(t, p, "next question", func(v ParticipantView) bool { return v.Question != nil && v.Question.Index == 1 })
	if v.Question.SelectedChoiceID != "" || v.Question.Revealed || v.Question.Score != 0 {
		t.Fatalf("per-question state not reset: %+v", v.Question)
	}
}

func TestParticipantWrongAnswerPlaysWrongCue(t *testing.T) {
	f := newFixture(t, 1, domain.GameSettings{})
	cues := &recordingCues{}
	p := f.startParticipant(domain.Identity{UserID: "u1"}, func(d *ParticipantDeps) { d.Cues = cues })
	waitScreen(t, p, ScreenLobby)
	p.Register(f.ctx, "ann", "cat")
	f.toQuestion(0, false)
	waitScreen(t, p, ScreenQuiz)

	f.clock.Advance(5 * time.Second)
	waitParticipant(t, p, "choices open", func(v ParticipantView) bool { return v.Question != nil && v.Question.ChoicesOpen })
	if err := p.SubmitAnswer(f.ctx, "q0-wrong"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if v, _ := p.Snapshot(f.ctx); v.Question.Score != 0 {
		t.Fatalf("expected wrong answer to score 0, got %d", v.Question.Score)
	}
	revealed := true
	f.update(domain.GamePatch{IsAnswerRevealed: &revealed})
	eventually(t, "wrong cue", func() bool {
		played := cues.played()
		return len(played) == 1 && played[0] == SoundWrong
	})
}

// failingAnswers rejects answer writes while fail is set.
type failingAnswers struct {
	Store
	fail atomic.Bool
}

func (s *failingAnswers) InsertAnswer(ctx context.Context, gameID string, a domain.Answer) (domain.Answer, error) {
	if s.fail.Load() {
		return domain.Answer{}, errors.New("network down")
	}
	return s.Store.InsertAnswer(ctx, gameID, a)
}

func TestParticipantFailedSubmitRollsBack(t *testing.T) {
	f := newFixture(t, 1, domain.GameSettings{})
	store := &failingAnswers{Store: f.backend}
	store.fail.Store(true)
	p := f.startParticipant(domain.Identity{UserID: "u1"}, func(d *ParticipantDeps) { d.Store = store })
	waitScreen(t, p, ScreenLobby)
	p.Register(f.ctx, "ann", "cat")
	f.toQuestion(0, false)
	waitScreen(t, p, ScreenQuiz)
	f.clock.Advance(5 * time.Second)
	waitParticipant(t, p, "choices open", func(v ParticipantView) bool { return v.Question != nil && v.Question.ChoicesOpen })

	if err := p.SubmitAnswer(f.ctx, "q0-right"); err == nil {
		t.Fatalf("expected submit error")
	}
	v, _ := p.Snapshot(f.ctx)
	if v.Question.SelectedChoiceID != "" || v.Question.Score != 0 {
		t.Fatalf("expected selection cleared, got %+v", v.Question)
	}

	store.fail.Store(false)
	if err := p.SubmitAnswer(f.ctx, "q0-right"); err != nil {
		t.Fatalf("retry submit: %v", err)
	}
}

func TestParticipantRestoresMidQuiz(t *testing.T) {
	f := newFixture(t, 3, domain.GameSettings{})
	ann := f.join("u1", "ann")
	saved := memory.NewSavedParticipants()
	saved.Save(f.ctx, "u1", f.game.ID, ann.ID)
	f.toQuestion(1, true)

	p := f.startParticipant(domain.Identity{UserID: "u1"}, func(d *ParticipantDeps) { d.Saved = saved })
	v := waitScreen(t, p, ScreenQuiz)
	if v.Participant == nil || v.Participant.ID != ann.ID {
		t.Fatalf("expected restored participant, got %+v", v.Participant)
	}
	if v.Question == nil || v.Question.Index != 1 || !v.Question.Revealed {
		t.Fatalf("expected question 1 revealed, got %+v", v.Question)
	}
	parts, _ := f.backend.ListParticipants(f.ctx, f.game.ID)
	if len(parts) != 1 {
		t.Fatalf("restore must not re-register, have %d participants", len(parts))
	}
}

func TestParticipantRestoreWithStaleSavedIDFallsBackToLobby(t *testing.T) {
	f := newFixture(t, 1, domain.GameSettings{})
	saved := memory.NewSavedParticipants()
	saved.Save(f.ctx, "u1", f.game.ID, "gone")
	f.toQuestion(0, false)

	p := f.startParticipant(domain.Identity{UserID: "u1"}, func(d *ParticipantDeps) { d.Saved = saved })
	v := waitScreen(t, p, ScreenLobby)
	if v.Participant != nil {
		t.Fatalf("expected unregistered device, got %+v", v.Participant)
	}
	if _, ok, _ := saved.Load(f.ctx, "u1", f.game.ID); ok {
		t.Fatalf("expected stale saved id forgotten")
	}
}

func TestParticipantRestoreFindsRegistrationByUser(t *testing.T) {
	f := newFixture(t, 1, domain.GameSettings{})
	ann := f.join("u1", "ann")

	p := f.startParticipant(domain.Identity{UserID: "u1"}, nil)
	v := waitParticipant(t, p, "restored", func(v ParticipantView) bool { return v.Participant != nil })
	if v.Participant.ID != ann.ID || v.Screen != ScreenLobby {
		t.Fatalf("expected existing registration in lobby, got %+v", v)
	}
}

func TestParticipantResultScreen(t *testing.T) {
	f := newFixture(t, 1, domain.GameSettings{TeamCount: 2})
	bob := f.join("u2", "bob")
	f.toQuestion(0, false)
	f.answer(bob, 0, true)

	p := f.startParticipant(domain.Identity{UserID: "u1"}, nil)
	waitScreen(t, p, ScreenLobby)
	p.Register(f.ctx, "ann", "cat")
	if err := p.JoinTeam(f.ctx, "blue"); err != nil {
		t.Fatalf("join team: %v", err)
	}

	phase := domain.PhaseResult
	f.update(domain.GamePatch{Phase: &phase})
	v := waitScreen(t, p, ScreenResult)
	if v.Question != nil {
		t.Fatalf("result screen must not carry a question")
	}
	if v.Results == nil || len(v.Results.Leaderboard) != 2 {
		t.Fatalf("expected 2 ranked entries, got %+v", v.Results)
	}
	if v.Results.Own == nil || v.Results.Own.Rank != 2 || v.Results.Own.Nickname != "ann" {
		t.Fatalf("expected own rank 2, got %+v", v.Results.Own)
	}
	if len(v.Results.Teams) != 1 || v.Results.Teams[0].TeamID != "blue" {
		t.Fatalf("expected blue team standing, got %+v", v.Results.Teams)
	}
}

func TestParticipantJoinTeam(t *testing.T) {
	f := newFixture(t, 1, domain.GameSettings{TeamCount: 2})
	p := f.startParticipant(domain.Identity{UserID: "u1"}, nil)
	v := waitScreen(t, p, ScreenLobby)
	if len(v.Teams) != 2 {
		t.Fatalf("expected 2 playable teams, got %+v", v.Teams)
	}
	if err := p.JoinTeam(f.ctx, "red"); !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	p.Register(f.ctx, "ann", "cat")
	if err := p.JoinTeam(f.ctx, "green"); !errors.Is(err, domain.ErrUnknownTeam) {
		t.Fatalf("expected ErrUnknownTeam for third team in a 2-team game, got %v", err)
	}
	if err := p.JoinTeam(f.ctx, "red"); err != nil {
		t.Fatalf("join team: %v", err)
	}
	if v, _ := p.Snapshot(f.ctx); v.Participant.TeamID != "red" {
		t.Fatalf("expected red team, got %q", v.Participant.TeamID)
	}
}

func TestParticipantReactions(t *testing.T) {
	f := newFixture(t, 1, domain.GameSettings{})
	p := f.startParticipant(domain.Identity{UserID: "u1"}, nil)
	waitScreen(t, p, ScreenLobby)
	p.Register(f.ctx, "ann", "cat")

	if err := p.SendReaction(f.ctx, "🦄"); !errors.Is(err, domain.ErrUnknownEmoji) {
		t.Fatalf("expected ErrUnknownEmoji, got %v", err)
	}
	if err := p.SendReaction(f.ctx, "🎉"); err != nil {
		t.Fatalf("react: %v", err)
	}
	waitParticipant(t, p, "reaction shown", func(v ParticipantView) bool {
		return len(v.Reactions) == 1 && v.Reactions[0].Emoji == "🎉"
	})
	f.clock.Advance(5 * time.Second)
	waitParticipant(t, p, "reaction expired", func(v ParticipantView) bool { return len(v.Reactions) == 0 })
}

func TestParticipantTheme(t *testing.T) {
	f := newFixture(t, 1, domain.GameSettings{ThemeID: "no-such-theme"})
	p := f.startParticipant(domain.Identity{UserID: "u1"}, nil)
	if v := waitScreen(t, p, ScreenLobby); v.ThemeID != domain.DefaultThemeID {
		t.Fatalf("expected fallback theme, got %q", v.ThemeID)
	}
}

func TestGameRoundWithHostAndTwoParticipants(t *testing.T) {
	f := newFixture(t, 2, domain.GameSettings{})
	host := f.startHost(nil)
	waitStage(t, host, StageLobby)

	ann := f.startParticipant(domain.Identity{UserID: "u1"}, nil)
	bob := f.startParticipant(domain.Identity{UserID: "u2"}, nil)
	for _, s := range []*ParticipantSession{ann, bob} {
		waitScreen(t, s, ScreenLobby)
	}
	if err := ann.Register(f.ctx, "ann", "cat"); err != nil {
		t.Fatalf("register ann: %v", err)
	}
	if err := bob.Register(f.ctx, "bob", "dog"); err != nil {
		t.Fatalf("register bob: %v", err)
	}
	waitHost(t, host, "participants joined", func(v HostView) bool { return v.EligibleCount == 2 })

	if err := host.Start(f.ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStage(t, host, StageCountingDown)
	for _, s := range []*ParticipantSession{ann, bob} {
		waitScreen(t, s, ScreenQuiz)
	}
	f.clock.Advance(5 * time.Second)
	waitStage(t, host, StageCollecting)
	for _, s := range []*ParticipantSession{ann, bob} {
		waitParticipant(t, s, "choices open", func(v ParticipantView) bool { return v.Question != nil && v.Question.ChoicesOpen })
	}

	if err := ann.SubmitAnswer(f.ctx, "q0-right"); err != nil {
		t.Fatalf("ann answer: %v", err)
	}
	if err := bob.SubmitAnswer(f.ctx, "q0-wrong"); err != nil {
		t.Fatalf("bob answer: %v", err)
	}
	hv := waitStage(t, host, StageRevealed)
	if hv.AnswerCount != 2 {
		t.Fatalf("expected 2 answers, got %d", hv.AnswerCount)
	}
	for _, s := range []*ParticipantSession{ann, bob} {
		waitParticipant(t, s, "reveal", func(v ParticipantView) bool { return v.Question != nil && v.Question.Revealed })
	}

	if err := host.Next(f.ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	for _, s := range []*ParticipantSession{ann, bob} {
		waitParticipant(t, s, "second question", func(v ParticipantView) bool {
			return v.Question != nil && v.Question.Index == 1 && !v.Question.Revealed
		})
	}
}
