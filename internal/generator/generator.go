// Package generator turns cached chapter knowledge into draft questions for a
// paper section. It over-generates so the reviewer has surplus to choose from
// and a few model misfires do not sink the batch.
package generator

import (
	"context"
	"fmt"
	"log"

	"github.com/examcraft/backend/internal/jsonrepair"
	"github.com/examcraft/backend/internal/llm"
	"github.com/examcraft/backend/internal/models"
)

type Request struct {
	Subject       string
	Difficulty    models.Difficulty
	TargetCount   int
	MarkingScheme string
	Knowledge     []*models.ChapterKnowledge
}

type Result struct {
	Questions        []models.Question
	Rejected         int
	PromptTokens     int
	CompletionTokens int
}

type Generator struct {
	client llm.Client
	model  string
}

func NewGenerator(client llm.Client, model string) *Generator {
	return &Generator{client: client, model: model}
}

// OverGenerateCount is the number of questions actually requested from the
// model for a section targeting target questions: ceil(target * 1.5).
func OverGenerateCount(target int) int {
	return (target*3 + 1) / 2
}

// Generate produces draft questions for one section. Structurally invalid
// questions are dropped with a warning rather than failing the batch; the
// batch fails only when nothing usable comes back.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.TargetCount <= 0 {
		return nil, fmt.Errorf("target count must be positive, got %d", req.TargetCount)
	}
	if !models.ValidDifficulties[req.Difficulty] {
		return nil, fmt.Errorf("invalid difficulty %q", req.Difficulty)
	}

	requested := OverGenerateCount(req.TargetCount)
	resp, err := g.client.Generate(ctx, generationSystemPrompt, buildGenerationPrompt(req, requested))
	if err != nil {
		return nil, fmt.Errorf("generation call: %w", err)
	}

	var payload struct {
		Questions []generatedQuestion `json:"questions"`
	}
	if err := jsonrepair.Unmarshal(resp.Content, &payload); err != nil {
		return nil, fmt.Errorf("parse generation response: %w", err)
	}

	questions, rejected := ValidateBatch(payload.Questions)
	if len(questions) == 0 {
		return nil, fmt.Errorf("generation produced no valid questions (%d rejected)", rejected)
	}
	if len(questions) < req.TargetCount {
		log.Printf("WARN: generated %d valid questions, target is %d", len(questions), req.TargetCount)
	}

	return &Result{
		Questions:        questions,
		Rejected:         rejected,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}, nil
}
