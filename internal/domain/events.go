package domain

import (
	"encoding/json"
	"fmt"
)

// Tables that emit change events.
const (
	TableGames        = "games"
	TableParticipants = "participants"
	TableAnswers      = "answers"
	TableReactions    = "reactions"
)

// EventKind is the kind of row change carried by a ChangeEvent.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
)

// ChangeEvent is a committed row change delivered by the change feed.
// Keys holds the column values subscribers may filter on.
type ChangeEvent struct {
	Table string            `json:"table"`
	Kind  EventKind         `json:"kind"`
	Keys  map[string]string `json:"keys"`
	Row   json.RawMessage   `json:"row"`
}

// Filter selects change events of one table by equality on one key.
// An empty Kind matches every kind.
type Filter struct {
	Table string
	Kind  EventKind
	Field string
	Value string
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(ev ChangeEvent) bool {
	if ev.Table != f.Table {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	return ev.Keys[f.Field] == f.Value
}

func (f Filter) String() string {
	return fmt.Sprintf("%s:%s=%s", f.Table, f.Field, f.Value)
}

// DecodeRow unmarshals the row carried by an event.
func DecodeRow[T any](ev ChangeEvent) (T, error) {
	var row T
	if err := json.Unmarshal(ev.Row, &row); err != nil {
		return row, fmt.Errorf("decode %s row: %w", ev.Table, err)
	}
	return row, nil
}

func newEvent(table string, kind EventKind, row any, keys map[string]string) ChangeEvent {
	raw, err := json.Marshal(row)
	if err != nil {
		// rows are plain structs; marshalling cannot fail
		panic(err)
	}
	return ChangeEvent{Table: table, Kind: kind, Keys: keys, Row: raw}
}

// GameUpdated builds the event for an updated game row.
func GameUpdated(g Game) ChangeEvent {
	return newEvent(TableGames, EventUpdate, g, map[string]string{"id": g.ID})
}

// ParticipantChanged builds the event for an inserted or updated participant row.
func ParticipantChanged(kind EventKind, p Participant) ChangeEvent {
	return newEvent(TableParticipants, kind, p, map[string]string{
		"id":      p.ID,
		"game_id": p.GameID,
	})
}

// AnswerInserted builds the event for a new answer row.
func AnswerInserted(gameID string, a Answer) ChangeEvent {
	return newEvent(TableAnswers, EventInsert, a, map[string]string{
		"id":             a.ID,
		"question_id":    a.QuestionID,
		"participant_id": a.ParticipantID,
		"game_id":        gameID,
	})
}

// ReactionInserted builds the event for a new reaction row.
func ReactionInserted(r Reaction) ChangeEvent {
	return newEvent(TableReactions, EventInsert, r, map[string]string{
		"id":      r.ID,
		"game_id": r.GameID,
	})
}
