package entities

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	maxContextTurns    = 20
	maxContextCommands = 10
)

// Position is the reading cursor inside the news content.
type Position struct {
	ArticleID     string `json:"article_id"`
	SentenceIndex int    `json:"sentence_index"`
}

// Preferences are per-session playback preferences.
type Preferences struct {
	Language   string  `json:"language"`
	Speed      float64 `json:"speed"`
	Difficulty string  `json:"difficulty"`
}

// DefaultPreferences returns the preferences a fresh session starts with.
func DefaultPreferences() Preferences {
	return Preferences{Language: "ko-KR", Speed: 1.0, Difficulty: "normal"}
}

// Turn is one exchange half in the conversation history.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// CommandRecord remembers an executed command.
type CommandRecord struct {
	Command string    `json:"command"`
	At      time.Time `json:"at"`
}

// ConversationContext accumulates everything the interpreter needs to
// disambiguate follow-up commands. It is in-memory only and bounded: old
// turns and commands fall off the front.
type ConversationContext struct {
	mu          sync.RWMutex
	position    Position
	prefs       Preferences
	turns       []Turn
	commands    []CommandRecord
	listenTime  time.Duration
	turnCount   int
	commandHits int
}

// NewConversationContext creates an empty context with the given preferences.
func NewConversationContext(prefs Preferences) *ConversationContext {
	if prefs.Language == "" {
		prefs = DefaultPreferences()
	}
	return &ConversationContext{prefs: prefs}
}

// Position returns the current reading position.
func (c *ConversationContext) Position() Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position
}

// SetPosition moves the reading cursor.
func (c *ConversationContext) SetPosition(p Position) {
	c.mu.Lock()
	c.position = p
	c.mu.Unlock()
}

// Preferences returns the current playback preferences.
func (c *ConversationContext) Preferences() Preferences {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prefs
}

// SetPreferences replaces the playback preferences.
func (c *ConversationContext) SetPreferences(p Preferences) {
	c.mu.Lock()
	c.prefs = p
	c.mu.Unlock()
}

// AdjustSpeed nudges playback speed by delta, clamped to [0.5, 2.0].
func (c *ConversationContext) AdjustSpeed(delta float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefs.Speed += delta
	if c.prefs.Speed < 0.5 {
		c.prefs.Speed = 0.5
	}
	if c.prefs.Speed > 2.0 {
		c.prefs.Speed = 2.0
	}
	return c.prefs.Speed
}

// AddTurn appends one conversation turn, evicting the oldest beyond the cap.
func (c *ConversationContext) AddTurn(role, content string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, Turn{Role: role, Content: content, At: at})
	if len(c.turns) > maxContextTurns {
		c.turns = c.turns[len(c.turns)-maxContextTurns:]
	}
	c.turnCount++
}

// RecordCommand remembers an executed command, evicting beyond the cap.
func (c *ConversationContext) RecordCommand(command string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, CommandRecord{Command: command, At: at})
	if len(c.commands) > maxContextCommands {
		c.commands = c.commands[len(c.commands)-maxContextCommands:]
	}
	c.commandHits++
}

// AddListenTime accumulates time spent listening to content.
func (c *ConversationContext) AddListenTime(d time.Duration) {
	c.mu.Lock()
	c.listenTime += d
	c.mu.Unlock()
}

// Stats returns usage counters for the stats endpoint.
func (c *ConversationContext) Stats() (turns int, commands int, listen time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.turnCount, c.commandHits, c.listenTime
}

// RecentCommands returns up to n most recent command names, oldest first.
func (c *ConversationContext) RecentCommands(n int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n > len(c.commands) {
		n = len(c.commands)
	}
	out := make([]string, 0, n)
	for _, rec := range c.commands[len(c.commands)-n:] {
		out = append(out, rec.Command)
	}
	return out
}

// timeOfDay buckets an hour into a coarse label for prompt context.
func timeOfDay(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 18:
		return "afternoon"
	case hour >= 18 && hour < 23:
		return "evening"
	default:
		return "night"
	}
}

// Render produces the natural-language context summary injected into
// interpreter prompts. The output is a pure function of the context state
// and now; equal inputs render byte-identical summaries.
func (c *ConversationContext) Render(now time.Time) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "time of day: %s.", timeOfDay(now.Hour()))

	if c.position.ArticleID != "" {
		fmt.Fprintf(&b, " reading article %s at sentence %d.", c.position.ArticleID, c.position.SentenceIndex)
	} else {
		b.WriteString(" not reading any article.")
	}

	fmt.Fprintf(&b, " language %s, speed %.1fx, difficulty %s.",
		c.prefs.Language, c.prefs.Speed, c.prefs.Difficulty)

	if len(c.commands) > 0 {
		names := make([]string, 0, len(c.commands))
		for _, rec := range c.commands {
			names = append(names, rec.Command)
		}
		fmt.Fprintf(&b, " recent commands: %s.", strings.Join(names, ", "))
	}

	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Role == "user" {
			fmt.Fprintf(&b, " last user utterance: %q.", c.turns[i].Content)
			break
		}
	}

	return b.String()
}
