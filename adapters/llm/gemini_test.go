package llm

import (
	"strings"
	"testing"
)

func TestParseInterpretation(t *testing.T) {
	interpretation, err := parseInterpretation(`{"command":"Next","args":{"count":"1"},"reply":"다음 기사를 읽을게요","confidence":0.92}`)
	if err != nil {
		t.Fatalf("parseInterpretation failed: %v", err)
	}
	if interpretation.Command != "next" {
		t.Errorf("Expected command next, got %s", interpretation.Command)
	}
	if interpretation.Args["count"] != "1" {
		t.Errorf("Expected count arg, got %v", interpretation.Args)
	}
	if interpretation.Reply != "다음 기사를 읽을게요" {
		t.Errorf("Expected reply preserved, got %s", interpretation.Reply)
	}
	if interpretation.Confidence != 0.92 {
		t.Errorf("Expected confidence 0.92, got %v", interpretation.Confidence)
	}
}

func TestParseInterpretationFenced(t *testing.T) {
	fenced := "```json\n{\"command\":\"repeat\",\"reply\":\"again\",\"confidence\":0.8}\n```"
	interpretation, err := parseInterpretation(fenced)
	if err != nil {
		t.Fatalf("parseInterpretation failed: %v", err)
	}
	if interpretation.Command != "repeat" {
		t.Errorf("Expected command repeat, got %s", interpretation.Command)
	}
}

func TestParseInterpretationDefaults(t *testing.T) {
	interpretation, err := parseInterpretation(`{"reply":"안녕하세요","confidence":1.7}`)
	if err != nil {
		t.Fatalf("parseInterpretation failed: %v", err)
	}
	if interpretation.Command != "none" {
		t.Errorf("Expected empty command to default to none, got %s", interpretation.Command)
	}
	if interpretation.Confidence != 1 {
		t.Errorf("Expected confidence clamped to 1, got %v", interpretation.Confidence)
	}

	interpretation, err = parseInterpretation(`{"command":"help","confidence":-0.3}`)
	if err != nil {
		t.Fatalf("parseInterpretation failed: %v", err)
	}
	if interpretation.Confidence != 0 {
		t.Errorf("Expected confidence clamped to 0, got %v", interpretation.Confidence)
	}
}

func TestParseInterpretationInvalid(t *testing.T) {
	if _, err := parseInterpretation("sorry, I cannot help"); err == nil {
		t.Error("Expected error for non-JSON answer")
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt("다음 기사", "reading article a1 at sentence 3.")
	if !strings.Contains(prompt, "Context: reading article a1") {
		t.Errorf("Expected context line, got %q", prompt)
	}
	if !strings.HasSuffix(prompt, "Utterance: 다음 기사") {
		t.Errorf("Expected utterance line last, got %q", prompt)
	}

	bare := buildPrompt("안녕", "")
	if strings.Contains(bare, "Context:") {
		t.Errorf("Expected no context line when summary empty, got %q", bare)
	}
}

func TestNewGeminiInterpreterRequiresKey(t *testing.T) {
	if _, err := NewGeminiInterpreter("", defaultModel, nil); err == nil {
		t.Error("Expected missing API key to fail")
	}
}
