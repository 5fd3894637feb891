// Package proofread runs a second LLM pass over generated questions, checking
// for wrong answers, ambiguous options, and leaked out-of-scope content.
// Sections are checked in adaptive batches sized to the question complexity.
package proofread

import "github.com/examcraft/backend/internal/models"

const (
	// optimalBatchSize balances prompt overhead against output-token limits.
	optimalBatchSize = 70

	// Safety ceilings: batches above these sizes risk truncated responses.
	// Long questions eat output budget faster, so they get a lower ceiling.
	lowComplexityCeiling  = 80
	highComplexityCeiling = 60

	// complexityThreshold is the average per-question character count
	// (text + options + explanation) separating short from long questions.
	complexityThreshold = 800

	// batchTolerance is how far past the safety ceiling an optimum-sized
	// batch may go before the plan falls back to ceiling-sized batches.
	batchTolerance = 1.15
)

// PlanBatches splits questions into contiguous batches. The plan divides by
// the optimal size first; only when that leaves a batch more than 15% over
// the complexity ceiling is the ceiling used as the divisor instead. Every
// question lands in exactly one batch and sizes never differ by more than one.
func PlanBatches(questions []*models.Question) [][]*models.Question {
	n := len(questions)
	if n == 0 {
		return nil
	}

	if n <= optimalBatchSize {
		return [][]*models.Question{questions}
	}

	ceiling := lowComplexityCeiling
	if avgQuestionLength(questions) > complexityThreshold {
		ceiling = highComplexityCeiling
	}

	numBatches := (n + optimalBatchSize - 1) / optimalBatchSize
	largest := (n + numBatches - 1) / numBatches
	if largest > int(float64(ceiling)*batchTolerance) {
		numBatches = (n + ceiling - 1) / ceiling
	}

	return splitEven(questions, numBatches)
}

func splitEven(questions []*models.Question, numBatches int) [][]*models.Question {
	base := len(questions) / numBatches
	extra := len(questions) % numBatches

	batches := make([][]*models.Question, 0, numBatches)
	start := 0
	for i := 0; i < numBatches; i++ {
		size := base
		if i < extra {
			size++
		}
		batches = append(batches, questions[start:start+size])
		start += size
	}
	return batches
}

func avgQuestionLength(questions []*models.Question) int {
	total := 0
	for _, q := range questions {
		total += len(q.QuestionText) + len(q.Explanation)
		for label, text := range q.Options {
			total += len(label) + len(text)
		}
	}
	return total / len(questions)
}
