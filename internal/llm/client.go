// Package llm is the boundary to the text-generation provider. Everything
// above this package treats the model as opaque text-in/text-out; all
// robustness around malformed output lives in jsonrepair and the callers.
package llm

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// Client is the interface all provider implementations satisfy.
type Client interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (*Response, error)
}

// Response holds the raw response content and token usage.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

func (r *Response) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// NewFromEnv picks a client implementation the same way for every pipeline
// stage: CLI for local plans, mock for offline dev, API otherwise. modelEnv
// names the env var that overrides the default model for this stage.
func NewFromEnv(modelEnv, defaultModel string) (Client, string) {
	if os.Getenv("USE_CLI_GENERATOR") == "true" {
		cliPath := os.Getenv("CLAUDE_CLI_PATH")
		if cliPath == "" {
			cliPath = "claude"
		}
		log.Println("LLM client: Claude CLI (local plan)")
		return NewCLIClient(cliPath), "claude-cli"
	}
	if os.Getenv("MOCK_GENERATOR") == "true" {
		log.Println("LLM client: mock data")
		return NewMockClient(), "mock"
	}

	model := os.Getenv(modelEnv)
	if model == "" {
		model = defaultModel
	}
	log.Println("LLM client: Anthropic API:", model)
	return NewAPIClient(model), model
}

// ── APIClient — Anthropic SDK (Production) ─────────────────

type APIClient struct {
	client *anthropic.Client
	model  string
}

func NewAPIClient(model string) *APIClient {
	client := anthropic.NewClient(
		option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")),
	)
	return &APIClient{client: &client, model: model}
}

func (c *APIClient) Generate(ctx context.Context, systemPrompt string, userPrompt string) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   8192,
		Temperature: param.NewOpt(0.7),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}

	message, err := c.callWithRetry(ctx, params)
	if err != nil {
		return nil, err
	}

	var responseText string
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}

	if responseText == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return &Response{
		Content:          responseText,
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
	}, nil
}

func (c *APIClient) callWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			sleepDuration := time.Duration(1<<uint(attempt)) * time.Second
			log.Printf("Retrying Anthropic API call in %v (attempt %d)", sleepDuration, attempt+1)
			time.Sleep(sleepDuration)
		}

		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			return message, nil
		}
		lastErr = err
		log.Printf("Anthropic API attempt %d failed: %v", attempt+1, err)
	}
	return nil, fmt.Errorf("anthropic API failed after retries: %w", lastErr)
}

// ── MockClient — Local Development ─────────────────────────

// MockClient returns canned but shape-correct JSON so the full pipeline runs
// offline. Respond can be overridden per test.
type MockClient struct {
	Respond func(systemPrompt, userPrompt string) string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Generate(ctx context.Context, systemPrompt string, userPrompt string) (*Response, error) {
	content := ""
	if m.Respond != nil {
		content = m.Respond(systemPrompt, userPrompt)
	} else {
		content = BuildMockQuestionsJSON(6)
	}
	return &Response{
		Content:          content,
		PromptTokens:     1500,
		CompletionTokens: 3000,
	}, nil
}

// BuildMockQuestionsJSON produces a generation-shaped payload with count
// questions, four options each, correct answers rotating through the labels.
func BuildMockQuestionsJSON(count int) string {
	labels := []string{"A", "B", "C", "D"}
	topics := []string{
		"photosynthesis", "chemical bonding", "electromagnetic induction",
		"cell division", "thermodynamics", "acid-base equilibria",
	}

	questions := "["
	for i := 0; i < count; i++ {
		correct := labels[i%len(labels)]
		topic := topics[i%len(topics)]

		if i > 0 {
			questions += ","
		}

		options := "{"
		for j, label := range labels {
			if j > 0 {
				options += ","
			}
			role := "a plausible but incorrect statement"
			if label == correct {
				role = "the correct statement"
			}
			options += fmt.Sprintf(`"%s":"[Mock] Option %s presents %s about %s."`, label, label, role, topic)
		}
		options += "}"

		questions += fmt.Sprintf(`{"question_text":"[Mock] Which of the following best describes %s?","options":%s,"correct_answer":"%s","explanation":"[Mock] The correct answer is %s because it matches the definition of %s covered in the chapter."}`,
			topic, options, correct, correct, topic)
	}
	questions += "]"

	return fmt.Sprintf(`{"questions":%s}`, questions)
}
