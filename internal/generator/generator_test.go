package generator

import (
	"context"
	"strings"
	"testing"

	"github.com/examcraft/backend/internal/llm"
	"github.com/examcraft/backend/internal/models"
)

func TestOverGenerateCount(t *testing.T) {
	cases := []struct {
		target, want int
	}{
		{10, 15},
		{1, 2},
		{7, 11}, // ceil(10.5)
		{20, 30},
	}
	for _, c := range cases {
		if got := OverGenerateCount(c.target); got != c.want {
			t.Errorf("OverGenerateCount(%d) = %d, want %d", c.target, got, c.want)
		}
	}
}

func validGenerated(text string) generatedQuestion {
	return generatedQuestion{
		QuestionText: text,
		Options: map[string]string{
			"A": "First option",
			"B": "Second option",
			"C": "Third option",
			"D": "Fourth option",
		},
		CorrectAnswer: "B",
		Explanation:   "B is correct because of the definition.",
	}
}

func TestValidateBatch_DropsStructuralFailures(t *testing.T) {
	raw := []generatedQuestion{
		validGenerated("What is the enthalpy change of a reaction at constant pressure?"),
		{QuestionText: "Missing options", CorrectAnswer: "A", Explanation: "x"},
		{
			QuestionText:  "Correct answer not among options",
			Options:       map[string]string{"A": "one", "B": "two"},
			CorrectAnswer: "C",
			Explanation:   "x",
		},
	}

	questions, rejected := ValidateBatch(raw)
	if len(questions) != 1 {
		t.Fatalf("expected 1 valid question, got %d", len(questions))
	}
	if rejected != 2 {
		t.Errorf("expected 2 rejected, got %d", rejected)
	}
}

func TestValidateBatch_DropsNearDuplicates(t *testing.T) {
	raw := []generatedQuestion{
		validGenerated("Which process converts glucose molecules into pyruvate during cellular respiration pathways?"),
		validGenerated("Which process converts glucose molecules into pyruvate during cellular respiration stages?"),
		validGenerated("What voltage appears across an inductor when current changes linearly with time?"),
	}

	questions, rejected := ValidateBatch(raw)
	if len(questions) != 2 {
		t.Fatalf("expected duplicate dropped, got %d questions", len(questions))
	}
	if rejected != 1 {
		t.Errorf("expected 1 rejected, got %d", rejected)
	}
}

func TestGenerate_EndToEndWithMock(t *testing.T) {
	client := llm.NewMockClient()
	client.Respond = func(system, user string) string {
		if !strings.Contains(user, "Write 15 multiple-choice questions") {
			t.Errorf("expected over-generated count in prompt, got: %s", firstLine(user))
		}
		if !strings.Contains(user, "Thermodynamics") {
			t.Error("expected chapter topics in prompt")
		}
		return "```json\n" + llm.BuildMockQuestionsJSON(15) + "\n```"
	}

	g := NewGenerator(client, "mock")
	result, err := g.Generate(context.Background(), Request{
		Subject:     "Chemistry",
		Difficulty:  models.DifficultyMedium,
		TargetCount: 10,
		Knowledge: []*models.ChapterKnowledge{{
			ScopeAnalysis: &models.ScopeAnalysis{
				Topics: []string{"Thermodynamics"},
				DepthIndicators: map[string]models.DepthLevel{
					"Thermodynamics": models.DepthIntermediate,
				},
			},
		}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// Mock data rotates topics, so distinct questions all survive validation.
	if len(result.Questions) == 0 {
		t.Fatal("expected generated questions")
	}
	for i, q := range result.Questions {
		if err := q.ValidateOptions(); err != nil {
			t.Errorf("question %d invalid after validation: %v", i, err)
		}
	}
	if result.PromptTokens == 0 || result.CompletionTokens == 0 {
		t.Error("expected token usage from mock client")
	}
}

func TestGenerate_RejectsBadDifficulty(t *testing.T) {
	g := NewGenerator(llm.NewMockClient(), "mock")
	_, err := g.Generate(context.Background(), Request{
		Subject:     "Chemistry",
		Difficulty:  "impossible",
		TargetCount: 5,
	})
	if err == nil {
		t.Fatal("expected error for invalid difficulty")
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
