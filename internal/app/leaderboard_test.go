package app

import (
	"testing"

	"live-quiz-service/internal/domain"
)

func results(scores ...int) []domain.GameResult {
	out := make([]domain.GameResult, len(scores))
	for i, s := range scores {
		id := string(rune('a' + i))
		out[i] = domain.GameResult{ParticipantID: id, Nickname: id, TotalScore: s}
	}
	return out
}

func TestRankSortsByScoreKeepingTies(t *testing.T) {
	ranked := NewRanker().Rank(results(100, 300, 100, 200))

	want := []string{"b", "d", "a", "c"}
	for i, id := range want {
		if ranked[i].ParticipantID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, ranked[i].ParticipantID)
		}
		if ranked[i].Rank != i+1 {
			t.Fatalf("position %d: expected rank %d, got %d", i, i+1, ranked[i].Rank)
		}
	}
}

func TestRankFirstCallHasNoDirection(t *testing.T) {
	for _, r := range NewRanker().Rank(results(10, 20)) {
		if r.Direction != domain.DirectionNone || r.PreviousRank != 0 {
			t.Fatalf("expected no direction on first ranking, got %+v", r)
		}
	}
}

func TestRankUnchangedResultsKeepDirectionNone(t *testing.T) {
	r := NewRanker()
	r.Rank(results(300, 200, 100))
	for _, entry := range r.Rank(results(300, 200, 100)) {
		if entry.Direction != domain.DirectionNone {
			t.Fatalf("expected none for %s, got %s", entry.ParticipantID, entry.Direction)
		}
		if entry.PreviousRank != entry.Rank {
			t.Fatalf("expected previous rank %d, got %d", entry.Rank, entry.PreviousRank)
		}
	}
}

func TestRankOvertakeMovesUpAndDown(t *testing.T) {
	r := NewRanker()
	r.Rank([]domain.GameResult{
		{ParticipantID: "A", TotalScore: 100},
		{ParticipantID: "B", TotalScore: 200},
	})
	ranked := r.Rank([]domain.GameResult{
		{ParticipantID: "A", TotalScore: 400},
		{ParticipantID: "B", TotalScore: 200},
	})

	byID := map[string]domain.RankedResult{}
	for _, e := range ranked {
		byID[e.ParticipantID] = e
	}
	a, b := byID["A"], byID["B"]
	if a.Direction != domain.DirectionUp || a.Rank != 1 || a.PreviousRank != 2 {
		t.Fatalf("expected A up from 2 to 1, got %+v", a)
	}
	if b.Direction != domain.DirectionDown || b.Rank != 2 || b.PreviousRank != 1 {
		t.Fatalf("expected B down from 1 to 2, got %+v", b)
	}
}

func TestRankNewcomerHasNoDirection(t *testing.T) {
	r := NewRanker()
	r.Rank([]domain.GameResult{{ParticipantID: "A", TotalScore: 100}})
	ranked := r.Rank([]domain.GameResult{
		{ParticipantID: "B", TotalScore: 500},
		{ParticipantID: "A", TotalScore: 100},
	})
	if ranked[0].ParticipantID != "B" || ranked[0].Direction != domain.DirectionNone {
		t.Fatalf("expected newcomer B with no direction, got %+v", ranked[0])
	}
	if ranked[1].Direction != domain.DirectionDown {
		t.Fatalf("expected A down, got %+v", ranked[1])
	}
}

func TestRankTeamsAggregates(t *testing.T) {
	teams := RankTeams([]domain.GameResult{
		{ParticipantID: "a", TeamID: "red", TotalScore: 100, CorrectAnswers: 1, TotalAnswers: 2},
		{ParticipantID: "b", TeamID: "blue", TotalScore: 300, CorrectAnswers: 2, TotalAnswers: 2},
		{ParticipantID: "c", TeamID: "red", TotalScore: 250, CorrectAnswers: 1, TotalAnswers: 1},
		{ParticipantID: "d", TotalScore: 900},
	})
	if len(teams) != 2 {
		t.Fatalf("expected 2 teams, got %d", len(teams))
	}
	red := teams[0]
	if red.TeamID != "red" || red.Rank != 1 || red.Members != 2 || red.TotalScore != 350 || red.CorrectAnswers != 2 || red.TotalAnswers != 3 {
		t.Fatalf("unexpected red team: %+v", red)
	}
	if teams[1].TeamID != "blue" || teams[1].Rank != 2 {
		t.Fatalf("unexpected blue team: %+v", teams[1])
	}
}
