package domain

import (
	"math/rand"
	"strings"
	"unicode/utf8"
)

// MaxNicknameLength is the longest nickname accepted at registration, in characters.
const MaxNicknameLength = 20

// ValidateNickname trims the nickname and checks its length.
func ValidateNickname(raw string) (string, error) {
	nickname := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(nickname)
	if n == 0 || n > MaxNicknameLength {
		return "", ErrInvalidNickname
	}
	return nickname, nil
}

// Avatar is a selectable participant picture.
type Avatar struct {
	ID    string `json:"id"`
	Emoji string `json:"emoji"`
	Name  string `json:"name"`
}

// DefaultAvatarID is used before a random avatar has been suggested.
const DefaultAvatarID = "cat"

var avatars = []Avatar{
	{ID: "cat", Emoji: "🐱", Name: "Cat"},
	{ID: "dog", Emoji: "🐶", Name: "Dog"},
	{ID: "bear", Emoji: "🐻", Name: "Bear"},
	{ID: "panda", Emoji: "🐼", Name: "Panda"},
	{ID: "lion", Emoji: "🦁", Name: "Lion"},
	{ID: "tiger", Emoji: "🐯", Name: "Tiger"},
	{ID: "fox", Emoji: "🦊", Name: "Fox"},
	{ID: "koala", Emoji: "🐨", Name: "Koala"},
	{ID: "monkey", Emoji: "🐵", Name: "Monkey"},
	{ID: "pig", Emoji: "🐷", Name: "Pig"},
	{ID: "frog", Emoji: "🐸", Name: "Frog"},
	{ID: "rabbit", Emoji: "🐰", Name: "Rabbit"},
	{ID: "octopus", Emoji: "🐙", Name: "Octopus"},
	{ID: "fish", Emoji: "🐠", Name: "Fish"},
	{ID: "dolphin", Emoji: "🐬", Name: "Dolphin"},
	{ID: "shark", Emoji: "🦈", Name: "Shark"},
	{ID: "chicken", Emoji: "🐔", Name: "Chicken"},
	{ID: "penguin", Emoji: "🐧", Name: "Penguin"},
	{ID: "owl", Emoji: "🦉", Name: "Owl"},
	{ID: "eagle", Emoji: "🦅", Name: "Eagle"},
	{ID: "unicorn", Emoji: "🦄", Name: "Unicorn"},
	{ID: "dragon", Emoji: "🐉", Name: "Dragon"},
	{ID: "alien", Emoji: "👽", Name: "Alien"},
	{ID: "robot", Emoji: "🤖", Name: "Robot"},
	{ID: "rocket", Emoji: "🚀", Name: "Rocket"},
	{ID: "star", Emoji: "⭐", Name: "Star"},
	{ID: "fire", Emoji: "🔥", Name: "Fire"},
	{ID: "lightning", Emoji: "⚡", Name: "Lightning"},
	{ID: "rainbow", Emoji: "🌈", Name: "Rainbow"},
	{ID: "crown", Emoji: "👑", Name: "Crown"},
	{ID: "pizza", Emoji: "🍕", Name: "Pizza"},
	{ID: "donut", Emoji: "🍩", Name: "Donut"},
	{ID: "icecream", Emoji: "🍦", Name: "Ice Cream"},
	{ID: "cake", Emoji: "🎂", Name: "Cake"},
	{ID: "soccer", Emoji: "⚽", Name: "Soccer"},
	{ID: "basketball", Emoji: "🏀", Name: "Basketball"},
	{ID: "trophy", Emoji: "🏆", Name: "Trophy"},
	{ID: "medal", Emoji: "🏅", Name: "Medal"},
	{ID: "tree", Emoji: "🌳", Name: "Tree"},
	{ID: "flower", Emoji: "🌸", Name: "Flower"},
	{ID: "sun", Emoji: "☀️", Name: "Sun"},
	{ID: "moon", Emoji: "🌙", Name: "Moon"},
}

// Avatars returns the avatar catalog.
func Avatars() []Avatar {
	out := make([]Avatar, len(avatars))
	copy(out, avatars)
	return out
}

// AvatarByID looks up an avatar in the catalog.
func AvatarByID(id string) (Avatar, bool) {
	for _, a := range avatars {
		if a.ID == id {
			return a, true
		}
	}
	return Avatar{}, false
}

// RandomAvatar picks an avatar from the catalog.
func RandomAvatar(rnd *rand.Rand) Avatar {
	return avatars[rnd.Intn(len(avatars))]
}

// Team is one of the fixed teams a participant can join.
type Team struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Emoji string `json:"emoji"`
}

var teams = []Team{
	{ID: "red", Name: "Red Dragons", Color: "#EF4444", Emoji: "🐉"},
	{ID: "blue", Name: "Blue Sharks", Color: "#3B82F6", Emoji: "🦈"},
	{ID: "green", Name: "Green Ninjas", Color: "#10B981", Emoji: "🥷"},
	{ID: "yellow", Name: "Yellow Lightning", Color: "#F59E0B", Emoji: "⚡"},
}

// TeamsByCount returns the first count teams in play order. Counts outside
// 2-4 disable teams.
func TeamsByCount(count int) []Team {
	if count < 2 || count > len(teams) {
		return nil
	}
	out := make([]Team, count)
	copy(out, teams[:count])
	return out
}

// TeamPlayable reports whether teamID is one of the first count teams.
func TeamPlayable(teamID string, count int) bool {
	for _, t := range TeamsByCount(count) {
		if t.ID == teamID {
			return true
		}
	}
	return false
}

// DefaultThemeID is used when a game names no theme or an unknown one.
const DefaultThemeID = "classic"

var themeIDs = []string{"classic", "ocean", "forest", "sunset", "space", "neon", "candy", "dark", "rainbow"}

// ResolveTheme maps a theme reference to a known theme id.
func ResolveTheme(id string) string {
	for _, t := range themeIDs {
		if t == id {
			return t
		}
	}
	return DefaultThemeID
}

var reactionEmojis = []string{"❤️", "😂", "😮", "😢", "🔥", "👍", "👏", "🎉"}

// ReactionEmojis returns the emoji a participant can react with.
func ReactionEmojis() []string {
	out := make([]string, len(reactionEmojis))
	copy(out, reactionEmojis)
	return out
}

// ValidReaction reports whether emoji is part of the reaction set.
func ValidReaction(emoji string) bool {
	for _, e := range reactionEmojis {
		if e == emoji {
			return true
		}
	}
	return false
}
