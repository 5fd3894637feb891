package proofread

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/examcraft/backend/internal/costs"
	"github.com/examcraft/backend/internal/jsonrepair"
	"github.com/examcraft/backend/internal/llm"
	"github.com/examcraft/backend/internal/models"
)

// retryDelay is the fixed pause before the single per-batch retry.
const retryDelay = 2 * time.Second

// UsageRecorder receives token usage for every billable LLM call.
type UsageRecorder interface {
	Record(ctx context.Context, instituteID int64, op models.UsageOperation, model string, promptTokens, completionTokens int) error
}

type Runner struct {
	client llm.Client
	model  string
	usage  UsageRecorder

	// overridable in tests so retry paths do not sleep for real
	retryDelay time.Duration
}

func NewRunner(client llm.Client, model string, usage UsageRecorder) *Runner {
	return &Runner{client: client, model: model, usage: usage, retryDelay: retryDelay}
}

// Run proofreads the questions in place and returns the audit record. It
// never returns an error: a failed run produces a record with status failed,
// and corrections applied before the failure are kept. Generation has already
// cost money by the time proofreading starts, so it must not sink the batch.
func (r *Runner) Run(ctx context.Context, instituteID int64, questions []*models.Question) *models.ProofreadRunRecord {
	record := &models.ProofreadRunRecord{
		Status:             models.ProofreadCompleted,
		StartedAt:          time.Now().UTC(),
		CorrectionsApplied: []int64{},
	}

	if len(questions) == 0 {
		record.Status = models.ProofreadSkipped
		now := time.Now().UTC()
		record.CompletedAt = &now
		return record
	}

	byID := make(map[int64]*models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	batches := PlanBatches(questions)
	record.BatchCount = len(batches)

	for i, batch := range batches {
		issues, resp, err := r.checkBatch(ctx, batch)
		if err != nil {
			log.Printf("WARN: proofread batch %d/%d failed after retry: %v", i+1, len(batches), err)
			msg := fmt.Sprintf("batch %d of %d: %v", i+1, len(batches), err)
			record.Status = models.ProofreadFailed
			record.Error = &msg
			break
		}

		record.QuestionsChecked += len(batch)
		record.TotalTokens += resp.TotalTokens()
		record.TotalCostCents += costs.CostCents(r.model, resp.PromptTokens, resp.CompletionTokens)
		r.recordUsage(ctx, instituteID, resp)

		for _, issue := range issues {
			record.IssuesFound++
			q, ok := byID[issue.QuestionID]
			if !ok {
				log.Printf("WARN: proofread flagged unknown question id %d, skipping", issue.QuestionID)
				continue
			}
			if applyCorrection(q, issue) {
				record.CorrectionsApplied = append(record.CorrectionsApplied, issue.QuestionID)
			}
		}
	}

	now := time.Now().UTC()
	record.CompletedAt = &now
	return record
}

// checkBatch calls the model once, retrying a single time after a fixed
// delay. Both transport errors and unparseable responses count as failures.
func (r *Runner) checkBatch(ctx context.Context, batch []*models.Question) ([]reportedIssue, *llm.Response, error) {
	prompt := buildProofreadPrompt(batch)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			log.Printf("Retrying proofread batch in %v", r.retryDelay)
			time.Sleep(r.retryDelay)
		}

		resp, err := r.client.Generate(ctx, proofreadSystemPrompt, prompt)
		if err != nil {
			lastErr = err
			continue
		}

		var payload struct {
			Issues []reportedIssue `json:"issues"`
		}
		if err := jsonrepair.Unmarshal(resp.Content, &payload); err != nil {
			lastErr = fmt.Errorf("parse proofread response: %w", err)
			continue
		}
		return payload.Issues, resp, nil
	}
	return nil, nil, lastErr
}

type reportedIssue struct {
	QuestionID int64              `json:"question_id"`
	Issue      string             `json:"issue"`
	Corrected  *correctedQuestion `json:"corrected,omitempty"`
}

type correctedQuestion struct {
	QuestionText  string            `json:"question_text,omitempty"`
	Options       map[string]string `json:"options,omitempty"`
	CorrectAnswer string            `json:"correct_answer,omitempty"`
	Explanation   string            `json:"explanation,omitempty"`
}

// applyCorrection overlays the corrected fields onto the question, then
// validates the result. An invalid correction is discarded and the original
// question kept.
func applyCorrection(q *models.Question, issue reportedIssue) bool {
	if issue.Corrected == nil {
		log.Printf("Proofread flagged question %d without a correction: %s", q.ID, issue.Issue)
		return false
	}

	candidate := *q
	if issue.Corrected.QuestionText != "" {
		candidate.QuestionText = issue.Corrected.QuestionText
	}
	if len(issue.Corrected.Options) > 0 {
		candidate.Options = issue.Corrected.Options
	}
	if issue.Corrected.CorrectAnswer != "" {
		candidate.CorrectAnswer = issue.Corrected.CorrectAnswer
	}
	if issue.Corrected.Explanation != "" {
		candidate.Explanation = issue.Corrected.Explanation
	}

	if err := candidate.ValidateOptions(); err != nil {
		log.Printf("WARN: discarding invalid correction for question %d: %v", q.ID, err)
		return false
	}

	*q = candidate
	return true
}

func (r *Runner) recordUsage(ctx context.Context, instituteID int64, resp *llm.Response) {
	if r.usage == nil {
		return
	}
	if err := r.usage.Record(ctx, instituteID, models.OpProofreading, r.model,
		resp.PromptTokens, resp.CompletionTokens); err != nil {
		log.Printf("WARN: could not record proofread usage: %v", err)
	}
}

// ── Prompts ─────────────────────────────────────────────

const proofreadSystemPrompt = `You are a meticulous exam proofreader.

You will receive a numbered list of multiple-choice questions as JSON. Check each question for:
- a correct_answer that is actually wrong or arguable
- more than one defensible correct option
- options that are ambiguous, overlapping, or trivially eliminable
- factual errors in the question text or explanation

Respond with ONLY a JSON object, no markdown fences:

{"issues": [{"question_id": <id>, "issue": "<what is wrong>", "corrected": {"question_text": "...", "options": {...}, "correct_answer": "...", "explanation": "..."}}]}

In "corrected", include only the fields that need to change. If a question is fine, do not mention it. If every question is fine, respond {"issues": []}.`

func buildProofreadPrompt(batch []*models.Question) string {
	type promptQuestion struct {
		QuestionID    int64             `json:"question_id"`
		QuestionText  string            `json:"question_text"`
		Options       map[string]string `json:"options"`
		CorrectAnswer string            `json:"correct_answer"`
		Explanation   string            `json:"explanation"`
	}

	items := make([]promptQuestion, len(batch))
	for i, q := range batch {
		items[i] = promptQuestion{
			QuestionID:    q.ID,
			QuestionText:  q.QuestionText,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
		}
	}

	encoded, err := json.Marshal(items)
	if err != nil {
		// Questions came out of our own store; this cannot realistically fail.
		log.Printf("WARN: marshal proofread batch: %v", err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Proofread these %d questions:\n\n", len(batch)))
	sb.Write(encoded)
	sb.WriteString("\n\nRespond with the JSON object described in your instructions.")
	return sb.String()
}
