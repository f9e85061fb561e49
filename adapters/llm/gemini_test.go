package llm

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/careerpath/interviewcoach/server/domain/repositories"
)

func TestConvertHistoryOpening(t *testing.T) {
	contents := convertHistory(repositories.DialoguePrompt{Opening: true})
	if len(contents) != 1 {
		t.Fatalf("Expected 1 content, got %d", len(contents))
	}
	if contents[0].Role != genai.RoleUser {
		t.Errorf("Expected user role, got %s", contents[0].Role)
	}
}

func TestConvertHistoryRoles(t *testing.T) {
	contents := convertHistory(repositories.DialoguePrompt{History: []repositories.ChatMessage{
		{Role: repositories.InterviewerRole, Content: "Tell me about yourself."},
		{Role: repositories.CandidateRole, Content: "I build servers."},
	}})
	if len(contents) != 2 {
		t.Fatalf("Expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != genai.RoleModel || contents[1].Role != genai.RoleUser {
		t.Errorf("Unexpected roles %s, %s", contents[0].Role, contents[1].Role)
	}
}

func TestConvertHistoryEndsOnUserTurn(t *testing.T) {
	contents := convertHistory(repositories.DialoguePrompt{History: []repositories.ChatMessage{
		{Role: repositories.InterviewerRole, Content: "Tell me about yourself."},
	}})
	if len(contents) != 2 {
		t.Fatalf("Expected 2 contents, got %d", len(contents))
	}
	if contents[1].Role != genai.RoleUser {
		t.Errorf("Expected trailing user turn, got %s", contents[1].Role)
	}
}

func TestSystemPrompt(t *testing.T) {
	prompt := systemPrompt(repositories.RoleContext{
		CandidateName: "Ada",
		TargetRole:    "backend engineer",
		Language:      "en-US",
		TurnCount:     3,
		Remaining:     90 * time.Second,
	})

	for _, want := range []string{"backend engineer", "Ada", "en-US", "3 questions", "Time is nearly up"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Expected prompt to contain %q, got %q", want, prompt)
		}
	}
}

func TestGeminiConfigValidate(t *testing.T) {
	cfg := DefaultGeminiConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error without API key")
	}

	cfg.APIKey = "key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}

	cfg.Temperature = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for temperature above 1")
	}
}

func TestMockInterviewerScript(t *testing.T) {
	m := NewMockInterviewer("First?", "Second?")
	ctx := context.Background()

	reply, err := m.Reply(ctx, repositories.DialoguePrompt{Opening: true, Context: repositories.RoleContext{CandidateName: "Ada"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if reply != "Hello Ada, thanks for joining. First?" {
		t.Errorf("Unexpected opening %q", reply)
	}

	reply, _ = m.Reply(ctx, repositories.DialoguePrompt{History: []repositories.ChatMessage{
		{Role: repositories.InterviewerRole, Content: "First?"},
		{Role: repositories.CandidateRole, Content: "Answer."},
	}})
	if !strings.HasSuffix(reply, "Second?") {
		t.Errorf("Expected the second question, got %q", reply)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.Reply(cancelled, repositories.DialoguePrompt{}); err == nil {
		t.Error("Expected error for cancelled context")
	}
	if m.Calls() != 2 {
		t.Errorf("Expected 2 calls, got %d", m.Calls())
	}
}

func TestGeminiInterviewerIntegration(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("GEMINI_API_KEY not set, skipping integration test")
	}

	cfg := DefaultGeminiConfig()
	cfg.APIKey = apiKey
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, err := NewGeminiInterviewer(ctx, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create interviewer: %v", err)
	}

	reply, err := g.Reply(ctx, repositories.DialoguePrompt{
		Opening: true,
		Context: repositories.RoleContext{CandidateName: "Ada", TargetRole: "backend engineer", Language: "en-US", Remaining: 15 * time.Minute},
	})
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply == "" {
		t.Error("Expected a non-empty reply")
	}
}
