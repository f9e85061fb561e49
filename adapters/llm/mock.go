package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/careerpath/interviewcoach/server/domain/repositories"
)

var defaultQuestions = []string{
	"Tell me about a project you are proud of.",
	"What was the hardest technical problem in that project?",
	"How did you handle disagreement within your team?",
	"Where would you like to grow in your next role?",
}

// MockInterviewer is a scripted DialogueBackend for development and tests
type MockInterviewer struct {
	mu        sync.Mutex
	questions []string
	calls     int
}

// NewMockInterviewer creates a scripted interviewer. Without questions a default script is used.
func NewMockInterviewer(questions ...string) *MockInterviewer {
	if len(questions) == 0 {
		questions = defaultQuestions
	}
	return &MockInterviewer{questions: questions}
}

// Reply implements repositories.DialogueBackend
func (m *MockInterviewer) Reply(ctx context.Context, prompt repositories.DialoguePrompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if prompt.Opening {
		name := prompt.Context.CandidateName
		if name == "" {
			name = "there"
		}
		return fmt.Sprintf("Hello %s, thanks for joining. %s", name, m.questions[0]), nil
	}

	asked := 0
	for _, msg := range prompt.History {
		if msg.Role == repositories.InterviewerRole {
			asked++
		}
	}
	if asked >= len(m.questions) {
		return "Thank you, that covers my questions. Is there anything you would like to ask me?", nil
	}
	return "Thanks for sharing. " + m.questions[asked], nil
}

// Calls returns how many replies were generated
func (m *MockInterviewer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
