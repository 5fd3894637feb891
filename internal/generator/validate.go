package generator

import (
	"log"
	"strings"

	"github.com/examcraft/backend/internal/models"
)

type generatedQuestion struct {
	QuestionText  string            `json:"question_text"`
	Options       map[string]string `json:"options"`
	CorrectAnswer string            `json:"correct_answer"`
	Explanation   string            `json:"explanation"`
}

// ValidateBatch converts raw generated questions into model questions,
// dropping structural failures and near-duplicates. Returns the survivors in
// generation order plus the rejected count.
func ValidateBatch(raw []generatedQuestion) ([]models.Question, int) {
	rejected := 0
	questions := make([]models.Question, 0, len(raw))
	tokenSets := make([]map[string]bool, 0, len(raw))

	for i, gq := range raw {
		q := models.Question{
			QuestionText:  strings.TrimSpace(gq.QuestionText),
			Options:       gq.Options,
			CorrectAnswer: strings.TrimSpace(gq.CorrectAnswer),
			Explanation:   strings.TrimSpace(gq.Explanation),
		}

		if err := q.ValidateOptions(); err != nil {
			log.Printf("WARN: rejecting generated question %d: %v", i+1, err)
			rejected++
			continue
		}

		tokens := tokenize(q.QuestionText)
		if dup, overlap := findNearDuplicate(tokenSets, tokens); dup >= 0 {
			log.Printf("WARN: rejecting generated question %d: %.0f%% keyword overlap with question %d",
				i+1, overlap*100, dup+1)
			rejected++
			continue
		}

		questions = append(questions, q)
		tokenSets = append(tokenSets, tokens)
	}

	return questions, rejected
}

// duplicateThreshold is the Jaccard keyword overlap above which two question
// texts are treated as the same question reworded.
const duplicateThreshold = 0.85

func findNearDuplicate(accepted []map[string]bool, tokens map[string]bool) (int, float64) {
	for i, existing := range accepted {
		if overlap := jaccardSimilarity(existing, tokens); overlap > duplicateThreshold {
			return i, overlap
		}
	}
	return -1, 0
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(s)) {
		// Skip very short words (articles, prepositions)
		if len(word) > 3 {
			tokens[word] = true
		}
	}
	return tokens
}

func jaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}
