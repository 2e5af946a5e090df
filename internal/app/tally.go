package app

import "live-quiz-service/internal/domain"

// AnswerTally collects the answers of one question. A tally belongs to a
// single question lifetime: it is created together with the answer
// subscription and discarded with it, and it is only touched by the event
// loop that owns that subscription. Reading the count from the tally rather
// than from a snapshot taken when the subscription started is what keeps
// rapid consecutive events from being miscounted.
type AnswerTally struct {
	questionID string
	answers    []domain.Answer
	seen       map[string]struct{} // answer ids
	byUser     map[string]struct{} // participant ids
	byChoice   map[string]int
}

func NewAnswerTally(questionID string) *AnswerTally {
	return &AnswerTally{
		questionID: questionID,
		seen:       make(map[string]struct{}),
		byUser:     make(map[string]struct{}),
		byChoice:   make(map[string]int),
	}
}

// Add records an answer and reports whether it changed the tally. Answers for
// other questions and redelivered rows are ignored.
func (t *AnswerTally) Add(a domain.Answer) bool {
	if a.QuestionID != t.questionID {
		return false
	}
	if _, dup := t.seen[a.ID]; dup {
		return false
	}
	t.seen[a.ID] = struct{}{}
	t.answers = append(t.answers, a)
	t.byChoice[a.ChoiceID]++
	t.byUser[a.ParticipantID] = struct{}{}
	return true
}

// Count is the number of distinct participants who answered.
func (t *AnswerTally) Count() int {
	return len(t.byUser)
}

// ChoiceCounts returns the number of answers per choice id.
func (t *AnswerTally) ChoiceCounts() map[string]int {
	out := make(map[string]int, len(t.byChoice))
	for k, v := range t.byChoice {
		out[k] = v
	}
	return out
}

// Complete reports whether every eligible participant has answered. With no
// eligible participants the tally is never complete.
func (t *AnswerTally) Complete(eligible int) bool {
	return eligible > 0 && t.Count() >= eligible
}
