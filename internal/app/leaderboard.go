package app

import (
	"sort"

	"live-quiz-service/internal/domain"
)

// Ranker orders results into a leaderboard and remembers the ranks it handed
// out last time, so each entry can say whether it moved up or down.
// A Ranker is not safe for concurrent use.
type Ranker struct {
	previous map[string]int
}

func NewRanker() *Ranker {
	return &Ranker{previous: make(map[string]int)}
}

// Rank sorts results by total score, highest first. Ties keep their input
// order so equal scores do not swap places between calls.
func (r *Ranker) Rank(results []domain.GameResult) []domain.RankedResult {
	sorted := make([]domain.GameResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TotalScore > sorted[j].TotalScore
	})

	ranked := make([]domain.RankedResult, len(sorted))
	next := make(map[string]int, len(sorted))
	for i, res := range sorted {
		rank := i + 1
		prev, ok := r.previous[res.ParticipantID]
		dir := domain.DirectionNone
		if ok && prev != rank {
			// rank 1 is best: a smaller number is an improvement
			if prev > rank {
				dir = domain.DirectionUp
			} else {
				dir = domain.DirectionDown
			}
		}
		ranked[i] = domain.RankedResult{GameResult: res, Rank: rank, Direction: dir}
		if ok {
			ranked[i].PreviousRank = prev
		}
		next[res.ParticipantID] = rank
	}
	r.previous = next
	return ranked
}

// RankTeams aggregates results per team and ranks teams by total score.
// Participants without a team are left out.
func RankTeams(results []domain.GameResult) []domain.TeamScore {
	index := make(map[string]int)
	var scores []domain.TeamScore
	for _, res := range results {
		if res.TeamID == "" {
			continue
		}
		i, ok := index[res.TeamID]
		if !ok {
			i = len(scores)
			index[res.TeamID] = i
			scores = append(scores, domain.TeamScore{TeamID: res.TeamID})
		}
		scores[i].Members++
		scores[i].TotalScore += res.TotalScore
		scores[i].CorrectAnswers += res.CorrectAnswers
		scores[i].TotalAnswers += res.TotalAnswers
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].TotalScore > scores[j].TotalScore
	})
	for i := range scores {
		scores[i].Rank = i + 1
	}
	return scores
}
