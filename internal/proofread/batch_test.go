package proofread

import (
	"fmt"
	"strings"
	"testing"

	"github.com/examcraft/backend/internal/models"
)

func makeQuestions(count, textLen int) []*models.Question {
	questions := make([]*models.Question, count)
	for i := range questions {
		questions[i] = &models.Question{
			ID:            int64(i + 1),
			QuestionText:  strings.Repeat("q", textLen),
			Options:       map[string]string{"A": "one", "B": "two"},
			CorrectAnswer: "A",
		}
	}
	return questions
}

func TestPlanBatches_LargeSectionSplitsEvenly(t *testing.T) {
	batches := PlanBatches(makeQuestions(150, 200))

	if len(batches) != 3 {
		t.Fatalf("expected 3 batches for 150 short questions, got %d", len(batches))
	}

	total := 0
	for i, b := range batches {
		total += len(b)
		if len(b) > 92 {
			t.Errorf("batch %d has %d questions, above the hard maximum", i, len(b))
		}
	}
	if total != 150 {
		t.Errorf("batches cover %d questions, want 150", total)
	}
}

func TestPlanBatches_SmallSectionSingleBatch(t *testing.T) {
	batches := PlanBatches(makeQuestions(50, 200))

	if len(batches) != 1 || len(batches[0]) != 50 {
		t.Fatalf("expected one batch of 50, got %v", batchSizes(batches))
	}
}

func TestPlanBatches_HighComplexityLowersCeiling(t *testing.T) {
	// Long questions: 100 is past the optimum, and every batch must stay
	// within the high-complexity ceiling of 60 plus tolerance (69).
	batches := PlanBatches(makeQuestions(100, 1200))

	if len(batches) < 2 {
		t.Fatalf("expected multiple batches for long questions, got %v", batchSizes(batches))
	}
	for i, b := range batches {
		if len(b) > 69 {
			t.Errorf("batch %d has %d long questions, above ceiling with tolerance", i, len(b))
		}
	}
}

func TestPlanBatches_JustOverOptimumSplitsInTwo(t *testing.T) {
	// 85 short questions: past the optimum of 70, so the plan splits evenly
	// rather than stretching a single batch.
	batches := PlanBatches(makeQuestions(85, 200))

	if len(batches) != 2 {
		t.Fatalf("expected 2 batches for 85 questions, got %v", batchSizes(batches))
	}
	if len(batches[0]) != 43 || len(batches[1]) != 42 {
		t.Errorf("expected sizes [43, 42], got %v", batchSizes(batches))
	}
}

func TestPlanBatches_OptimumPlanKeptWithinTolerance(t *testing.T) {
	// 200 long questions: the optimum-based plan gives 3 batches of 67/67/66,
	// all inside the high-complexity ceiling of 60 plus 15% tolerance, so the
	// ceiling divisor is not needed.
	batches := PlanBatches(makeQuestions(200, 1200))

	if len(batches) != 3 {
		t.Fatalf("expected 3 batches for 200 long questions, got %v", batchSizes(batches))
	}
	want := []int{67, 67, 66}
	for i, b := range batches {
		if len(b) != want[i] {
			t.Errorf("batch %d has %d questions, want %d", i, len(b), want[i])
		}
	}
}

func TestPlanBatches_CeilingDivisorWhenToleranceExceeded(t *testing.T) {
	// 280 long questions: dividing by the optimum gives 4 batches of 70,
	// which is over 60×1.15 = 69, so the plan recomputes with the ceiling
	// as divisor: 5 batches of 56.
	batches := PlanBatches(makeQuestions(280, 1200))

	if len(batches) != 5 {
		t.Fatalf("expected 5 batches for 280 long questions, got %v", batchSizes(batches))
	}
	for i, b := range batches {
		if len(b) != 56 {
			t.Errorf("batch %d has %d questions, want 56", i, len(b))
		}
	}
}

func TestPlanBatches_EveryQuestionExactlyOnce(t *testing.T) {
	questions := makeQuestions(137, 200)
	batches := PlanBatches(questions)

	seen := make(map[int64]int)
	for _, b := range batches {
		for _, q := range b {
			seen[q.ID]++
		}
	}
	if len(seen) != 137 {
		t.Fatalf("expected 137 distinct questions across batches, got %d", len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("question %d appears %d times", id, count)
		}
	}
}

func TestPlanBatches_Empty(t *testing.T) {
	if batches := PlanBatches(nil); batches != nil {
		t.Errorf("expected nil for empty input, got %v", batchSizes(batches))
	}
}

func batchSizes(batches [][]*models.Question) string {
	sizes := make([]string, len(batches))
	for i, b := range batches {
		sizes[i] = fmt.Sprintf("%d", len(b))
	}
	return "[" + strings.Join(sizes, ", ") + "]"
}
