package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/careerpath/interviewcoach/server/domain/repositories"
)

const (
	defaultModel       = "gemini-2.0-flash"
	defaultTemperature = 0.7
	defaultTopP        = 0.95
	defaultTopK        = 40
	defaultMaxTokens   = 256
	defaultAttempts    = 3
)

// ErrEmptyResponse is returned when the model produced no text
var ErrEmptyResponse = errors.New("gemini returned no content")

// GeminiConfig configures the Gemini interviewer
type GeminiConfig struct {
	APIKey          string  `mapstructure:"api_key"`
	Model           string  `mapstructure:"model"`
	Temperature     float32 `mapstructure:"temperature"`
	TopP            float32 `mapstructure:"top_p"`
	TopK            float32 `mapstructure:"top_k"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
	Attempts        int     `mapstructure:"attempts"`
}

// DefaultGeminiConfig returns the generation defaults without credentials
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Model:           defaultModel,
		Temperature:     defaultTemperature,
		TopP:            defaultTopP,
		TopK:            defaultTopK,
		MaxOutputTokens: defaultMaxTokens,
		Attempts:        defaultAttempts,
	}
}

// Validate validates the GeminiConfig
func (c GeminiConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", c.Temperature)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("topP must be between 0 and 1, got %f", c.TopP)
	}
	if c.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", c.TopK)
	}
	if c.MaxOutputTokens < 0 {
		return fmt.Errorf("maxOutputTokens must be positive, got %d", c.MaxOutputTokens)
	}
	return nil
}

// GeminiInterviewer implements the DialogueBackend interface using Google's Gemini API
type GeminiInterviewer struct {
	client *genai.Client
	cfg    GeminiConfig
	logger *zap.Logger
}

// NewGeminiInterviewer creates a new Gemini dialogue backend
func NewGeminiInterviewer(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiInterviewer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = defaultMaxTokens
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiInterviewer{client: client, cfg: cfg, logger: logger}, nil
}

// Reply generates the interviewer's next turn
func (g *GeminiInterviewer) Reply(ctx context.Context, prompt repositories.DialoguePrompt) (string, error) {
	contents := convertHistory(prompt)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(prompt.Context), genai.RoleUser),
		Temperature:       genai.Ptr(g.cfg.Temperature),
		TopP:              genai.Ptr(g.cfg.TopP),
		TopK:              genai.Ptr(g.cfg.TopK),
		MaxOutputTokens:   int32(g.cfg.MaxOutputTokens),
	}

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < g.cfg.Attempts; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt == g.cfg.Attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}
	if err != nil {
		return "", fmt.Errorf("generate interviewer reply: %w", err)
	}

	text := strings.TrimSpace(responseText(response))
	if text == "" {
		return "", ErrEmptyResponse
	}

	g.logger.Info("Interviewer reply generated",
		zap.Bool("opening", prompt.Opening),
		zap.Int("historyLength", len(prompt.History)),
		zap.String("replyPreview", text[:min(50, len(text))]))
	return text, nil
}

func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// convertHistory converts the turn log to Gemini contents. The model speaks as
// the interviewer; an opening request becomes a single instruction.
func convertHistory(prompt repositories.DialoguePrompt) []*genai.Content {
	if prompt.Opening || len(prompt.History) == 0 {
		return []*genai.Content{genai.NewContentFromText(openingInstruction, genai.RoleUser)}
	}

	contents := make([]*genai.Content, 0, len(prompt.History))
	for _, msg := range prompt.History {
		role := genai.Role(genai.RoleUser)
		if msg.Role == repositories.InterviewerRole {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	// Gemini expects the conversation to end on a user turn.
	if last := prompt.History[len(prompt.History)-1]; last.Role == repositories.InterviewerRole {
		contents = append(contents, genai.NewContentFromText(continueInstruction, genai.RoleUser))
	}
	return contents
}
