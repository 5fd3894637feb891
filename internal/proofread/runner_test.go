package proofread

import (
	"context"
	"fmt"
	"testing"

	"github.com/examcraft/backend/internal/llm"
	"github.com/examcraft/backend/internal/models"
)

type scriptedClient struct {
	calls   int
	respond func(call int, system, user string) (*llm.Response, error)
}

func (c *scriptedClient) Generate(ctx context.Context, system, user string) (*llm.Response, error) {
	c.calls++
	return c.respond(c.calls, system, user)
}

func newTestRunner(client llm.Client) *Runner {
	r := NewRunner(client, "test-model", nil)
	r.retryDelay = 0
	return r
}

func testQuestions(count int) []*models.Question {
	questions := make([]*models.Question, count)
	for i := range questions {
		questions[i] = &models.Question{
			ID:           int64(i + 1),
			QuestionText: fmt.Sprintf("Question %d text", i+1),
			Options: map[string]string{
				"A": "Option A", "B": "Option B", "C": "Option C", "D": "Option D",
			},
			CorrectAnswer: "A",
			Explanation:   "Original explanation",
		}
	}
	return questions
}

func TestRun_AppliesCorrections(t *testing.T) {
	questions := testQuestions(10)

	client := &scriptedClient{respond: func(call int, system, user string) (*llm.Response, error) {
		return &llm.Response{
			Content: `{"issues": [
				{"question_id": 3, "issue": "wrong answer", "corrected": {"correct_answer": "B", "explanation": "B is correct"}},
				{"question_id": 7, "issue": "typo", "corrected": {"question_text": "Question 7 text, corrected"}}
			]}`,
			PromptTokens:     2000,
			CompletionTokens: 400,
		}, nil
	}}

	record := newTestRunner(client).Run(context.Background(), 1, questions)

	if record.Status != models.ProofreadCompleted {
		t.Fatalf("status = %s, error = %v", record.Status, record.Error)
	}
	if record.BatchCount != 1 {
		t.Errorf("batch count = %d, want 1", record.BatchCount)
	}
	if record.QuestionsChecked != 10 {
		t.Errorf("questions checked = %d, want 10", record.QuestionsChecked)
	}
	if record.IssuesFound != 2 {
		t.Errorf("issues found = %d, want 2", record.IssuesFound)
	}
	if len(record.CorrectionsApplied) != 2 {
		t.Fatalf("corrections applied = %v", record.CorrectionsApplied)
	}

	if questions[2].CorrectAnswer != "B" || questions[2].Explanation != "B is correct" {
		t.Errorf("question 3 not corrected: %+v", questions[2])
	}
	if questions[6].QuestionText != "Question 7 text, corrected" {
		t.Errorf("question 7 not corrected: %q", questions[6].QuestionText)
	}
	// Untouched fields survive a partial correction.
	if questions[6].CorrectAnswer != "A" {
		t.Errorf("question 7 correct answer changed unexpectedly: %q", questions[6].CorrectAnswer)
	}
	if record.TotalTokens != 2400 {
		t.Errorf("total tokens = %d, want 2400", record.TotalTokens)
	}
	if record.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestRun_SecondBatchFails_KeepsEarlierCorrections(t *testing.T) {
	// 150 short questions plan into 3 batches; the second fails on both
	// attempts. Corrections from the first batch must survive.
	questions := testQuestions(150)

	client := &scriptedClient{respond: func(call int, system, user string) (*llm.Response, error) {
		switch call {
		case 1:
			return &llm.Response{
				Content:          `{"issues": [{"question_id": 5, "issue": "wrong answer", "corrected": {"correct_answer": "C"}}]}`,
				PromptTokens:     1000,
				CompletionTokens: 100,
			}, nil
		default:
			return nil, fmt.Errorf("model overloaded")
		}
	}}

	record := newTestRunner(client).Run(context.Background(), 1, questions)

	if record.Status != models.ProofreadFailed {
		t.Fatalf("status = %s, want failed", record.Status)
	}
	if record.Error == nil {
		t.Fatal("expected error message on record")
	}
	if len(record.CorrectionsApplied) != 1 || record.CorrectionsApplied[0] != 5 {
		t.Errorf("corrections applied = %v, want [5]", record.CorrectionsApplied)
	}
	if questions[4].CorrectAnswer != "C" {
		t.Errorf("first-batch correction lost: %q", questions[4].CorrectAnswer)
	}
	// Batch 1 succeeded, batch 2 consumed both attempts: 3 calls total,
	// nothing sent for batch 3.
	if client.calls != 3 {
		t.Errorf("llm calls = %d, want 3", client.calls)
	}
	if record.QuestionsChecked != 50 {
		t.Errorf("questions checked = %d, want 50", record.QuestionsChecked)
	}
}

func TestRun_RetrySucceeds(t *testing.T) {
	questions := testQuestions(10)

	client := &scriptedClient{respond: func(call int, system, user string) (*llm.Response, error) {
		if call == 1 {
			return nil, fmt.Errorf("transient error")
		}
		return &llm.Response{Content: `{"issues": []}`, PromptTokens: 500, CompletionTokens: 50}, nil
	}}

	record := newTestRunner(client).Run(context.Background(), 1, questions)

	if record.Status != models.ProofreadCompleted {
		t.Fatalf("status = %s, want completed", record.Status)
	}
	if client.calls != 2 {
		t.Errorf("llm calls = %d, want 2", client.calls)
	}
}

func TestRun_UnknownQuestionIDSkipped(t *testing.T) {
	questions := testQuestions(5)

	client := &scriptedClient{respond: func(call int, system, user string) (*llm.Response, error) {
		return &llm.Response{
			Content: `{"issues": [{"question_id": 999, "issue": "phantom", "corrected": {"correct_answer": "B"}}]}`,
		}, nil
	}}

	record := newTestRunner(client).Run(context.Background(), 1, questions)

	if record.Status != models.ProofreadCompleted {
		t.Fatalf("status = %s", record.Status)
	}
	if record.IssuesFound != 1 {
		t.Errorf("issues found = %d, want 1", record.IssuesFound)
	}
	if len(record.CorrectionsApplied) != 0 {
		t.Errorf("corrections applied = %v, want none", record.CorrectionsApplied)
	}
}

func TestRun_InvalidCorrectionDiscarded(t *testing.T) {
	questions := testQuestions(5)

	// Correction points the answer at a label that does not exist.
	client := &scriptedClient{respond: func(call int, system, user string) (*llm.Response, error) {
		return &llm.Response{
			Content: `{"issues": [{"question_id": 2, "issue": "wrong answer", "corrected": {"correct_answer": "Z"}}]}`,
		}, nil
	}}

	record := newTestRunner(client).Run(context.Background(), 1, questions)

	if len(record.CorrectionsApplied) != 0 {
		t.Errorf("corrections applied = %v, want none", record.CorrectionsApplied)
	}
	if questions[1].CorrectAnswer != "A" {
		t.Errorf("invalid correction mutated the question: %q", questions[1].CorrectAnswer)
	}
}

func TestRun_EmptySectionSkipped(t *testing.T) {
	client := &scriptedClient{respond: func(call int, system, user string) (*llm.Response, error) {
		t.Fatal("no llm call expected for an empty section")
		return nil, nil
	}}

	record := newTestRunner(client).Run(context.Background(), 1, nil)

	if record.Status != models.ProofreadSkipped {
		t.Errorf("status = %s, want skipped", record.Status)
	}
}

func TestRun_RepairsFencedResponse(t *testing.T) {
	questions := testQuestions(5)

	client := &scriptedClient{respond: func(call int, system, user string) (*llm.Response, error) {
		return &llm.Response{
			Content: "```json\n{\"issues\": [{\"question_id\": 1, \"issue\": \"typo\", \"corrected\": {\"question_text\": \"Fixed text\",}}]}\n```",
		}, nil
	}}

	record := newTestRunner(client).Run(context.Background(), 1, questions)

	if record.Status != models.ProofreadCompleted {
		t.Fatalf("status = %s, error = %v", record.Status, record.Error)
	}
	if questions[0].QuestionText != "Fixed text" {
		t.Errorf("fenced correction not applied: %q", questions[0].QuestionText)
	}
}
