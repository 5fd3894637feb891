package generator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/examcraft/backend/internal/models"
)

const generationSystemPrompt = `You are an expert exam question writer for an exam preparation platform used by coaching institutes.

You write multiple-choice questions that:
- stay strictly within the chapter scope you are given; never introduce topics outside it
- match the requested difficulty level
- use the institute's own terminology where a terminology mapping is provided
- imitate the style of the exemplar questions when exemplars are given
- have exactly one correct option and plausible, clearly-wrong distractors

Respond with ONLY a JSON object, no markdown fences, no commentary:

{
  "questions": [
    {
      "question_text": "...",
      "options": {"A": "...", "B": "...", "C": "...", "D": "..."},
      "correct_answer": "A",
      "explanation": "why the correct option is correct and each distractor is wrong"
    }
  ]
}`

// maxStyleExemplars caps how many cached exemplars go into the prompt; the
// newest ones carry the institute's current style.
const maxStyleExemplars = 8

func buildGenerationPrompt(req Request, count int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Write %d multiple-choice questions for a %q section.\n", count, req.Subject))
	sb.WriteString(fmt.Sprintf("Difficulty: %s\n", req.Difficulty))
	if req.MarkingScheme != "" {
		sb.WriteString(fmt.Sprintf("Marking scheme: %s\n", req.MarkingScheme))
	}
	sb.WriteString("\n")

	for i, k := range req.Knowledge {
		if k == nil || k.ScopeAnalysis == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("## Chapter %d scope\n", i+1))
		writeScope(&sb, k.ScopeAnalysis)
		sb.WriteString("\n")
	}

	writeStyleExemplars(&sb, req.Knowledge)

	sb.WriteString("Cover the listed topics evenly; do not write two questions on the same narrow point.\n")
	sb.WriteString("Respond with the JSON object described in your instructions.")

	return sb.String()
}

func writeScope(sb *strings.Builder, scope *models.ScopeAnalysis) {
	sb.WriteString("Topics:\n")
	for _, topic := range scope.Topics {
		depth := scope.DepthIndicators[topic]
		if depth == "" {
			depth = models.DepthBasic
		}
		sb.WriteString(fmt.Sprintf("- %s (treat at %s depth)\n", topic, depth))
		for _, st := range scope.Subtopics[topic] {
			if st.Detail != "" {
				sb.WriteString(fmt.Sprintf("  - %s: %s\n", st.Name, st.Detail))
			} else {
				sb.WriteString(fmt.Sprintf("  - %s\n", st.Name))
			}
		}
	}

	if len(scope.TerminologyMappings) > 0 {
		sb.WriteString("Terminology: always use the institute's term (left) instead of the standard term (right):\n")
		terms := make([]string, 0, len(scope.TerminologyMappings))
		for term := range scope.TerminologyMappings {
			terms = append(terms, term)
		}
		sort.Strings(terms)
		for _, term := range terms {
			sb.WriteString(fmt.Sprintf("- %q instead of %q\n", term, scope.TerminologyMappings[term]))
		}
	}
}

func writeStyleExemplars(sb *strings.Builder, knowledge []*models.ChapterKnowledge) {
	var exemplars []models.StyleExample
	for _, k := range knowledge {
		if k == nil || k.StyleExamples == nil {
			continue
		}
		exemplars = append(exemplars, k.StyleExamples.Questions...)
	}
	if len(exemplars) == 0 {
		return
	}
	if len(exemplars) > maxStyleExemplars {
		exemplars = exemplars[len(exemplars)-maxStyleExemplars:]
	}

	sb.WriteString("## Style exemplars from the institute's own materials\n")
	for _, ex := range exemplars {
		sb.WriteString(fmt.Sprintf("- %s", ex.QuestionText))
		if ex.QuestionType != "" {
			sb.WriteString(fmt.Sprintf(" [%s]", ex.QuestionType))
		}
		if ex.MarkingWeight != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", ex.MarkingWeight))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}
