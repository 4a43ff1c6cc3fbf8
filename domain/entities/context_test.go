package entities

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestContextDefaults(t *testing.T) {
	ctx := NewConversationContext(Preferences{})

	prefs := ctx.Preferences()
	if prefs.Language != "ko-KR" {
		t.Errorf("Expected default language ko-KR, got %s", prefs.Language)
	}
	if prefs.Speed != 1.0 {
		t.Errorf("Expected default speed 1.0, got %.1f", prefs.Speed)
	}
}

func TestContextTurnBound(t *testing.T) {
	ctx := NewConversationContext(DefaultPreferences())
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < maxContextTurns+5; i++ {
		ctx.AddTurn("user", fmt.Sprintf("utterance %d", i), at)
	}

	turns, _, _ := ctx.Stats()
	if turns != maxContextTurns+5 {
		t.Errorf("Turn counter should keep counting, got %d", turns)
	}
	if len(ctx.turns) != maxContextTurns {
		t.Errorf("Expected %d retained turns, got %d", maxContextTurns, len(ctx.turns))
	}
	if ctx.turns[0].Content != "utterance 5" {
		t.Errorf("Oldest turns should be evicted first, got %q", ctx.turns[0].Content)
	}
}

func TestContextCommandBound(t *testing.T) {
	ctx := NewConversationContext(DefaultPreferences())
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < maxContextCommands+3; i++ {
		ctx.RecordCommand(fmt.Sprintf("cmd-%d", i), at)
	}

	if len(ctx.commands) != maxContextCommands {
		t.Errorf("Expected %d retained commands, got %d", maxContextCommands, len(ctx.commands))
	}
	recent := ctx.RecentCommands(2)
	if len(recent) != 2 || recent[1] != fmt.Sprintf("cmd-%d", maxContextCommands+2) {
		t.Errorf("RecentCommands returned %v", recent)
	}
}

func TestAdjustSpeedClamped(t *testing.T) {
	ctx := NewConversationContext(DefaultPreferences())

	if got := ctx.AdjustSpeed(5.0); got != 2.0 {
		t.Errorf("Speed should clamp at 2.0, got %.1f", got)
	}
	if got := ctx.AdjustSpeed(-5.0); got != 0.5 {
		t.Errorf("Speed should clamp at 0.5, got %.1f", got)
	}
}

func TestRenderDeterministic(t *testing.T) {
	build := func() *ConversationContext {
		ctx := NewConversationContext(DefaultPreferences())
		at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		ctx.SetPosition(Position{ArticleID: "a-42", SentenceIndex: 3})
		ctx.AddTurn("user", "다음 기사", at)
		ctx.AddTurn("assistant", "네, 다음 기사입니다", at.Add(time.Second))
		ctx.RecordCommand("next", at)
		ctx.RecordCommand("repeat", at.Add(2*time.Second))
		return ctx
	}

	now := time.Date(2025, 3, 1, 9, 5, 0, 0, time.UTC)
	first := build().Render(now)
	second := build().Render(now)
	if first != second {
		t.Errorf("Equal state must render identically:\n%q\n%q", first, second)
	}

	if !strings.Contains(first, "morning") {
		t.Errorf("09:00 should render as morning: %q", first)
	}
	if !strings.Contains(first, "article a-42 at sentence 3") {
		t.Errorf("Render should include the reading position: %q", first)
	}
	if !strings.Contains(first, "next, repeat") {
		t.Errorf("Render should list commands oldest first: %q", first)
	}
	if !strings.Contains(first, "다음 기사") {
		t.Errorf("Render should include the last user utterance: %q", first)
	}
}

func TestRenderTimeBuckets(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{6, "morning"},
		{13, "afternoon"},
		{19, "evening"},
		{23, "night"},
		{2, "night"},
	}

	ctx := NewConversationContext(DefaultPreferences())
	for _, tt := range tests {
		now := time.Date(2025, 3, 1, tt.hour, 0, 0, 0, time.UTC)
		got := ctx.Render(now)
		if !strings.Contains(got, tt.want) {
			t.Errorf("Hour %d: expected bucket %s in %q", tt.hour, tt.want, got)
		}
	}
}
