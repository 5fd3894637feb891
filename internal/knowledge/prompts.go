package knowledge

import (
	"fmt"
	"strings"

	"github.com/examcraft/backend/internal/models"
)

const analysisSystemPrompt = `You are an expert curriculum analyst for an exam preparation platform.

You will receive one teaching material (textbook chapter, worksheet, or past paper) for a single chapter. Extract:

1. SCOPE: the topics the material covers, subtopics under each topic, how deeply each topic is treated (basic / intermediate / advanced), and any terminology the material uses that differs from standard naming (map material term -> standard term).

2. STYLE: up to 10 exemplar questions found in or implied by the material, with their question type and marking weight if stated.

Respond with ONLY a JSON object, no markdown fences, no commentary:

{
  "scope_analysis": {
    "topics": ["..."],
    "subtopics": {"<topic>": [{"name": "...", "detail": "..."}]},
    "depth_indicators": {"<topic>": "basic|intermediate|advanced"},
    "terminology_mappings": {"<material term>": "<standard term>"}
  },
  "style_examples": {
    "questions": [{"question_text": "...", "question_type": "...", "marking_weight": "..."}]
  }
}

Omit any section the material gives no evidence for. Never invent topics not present in the material.`

func buildAnalysisPrompt(material *models.Material) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Material title: %s\n\n", material.Title))
	sb.WriteString("Material content:\n")
	sb.WriteString("---\n")
	sb.WriteString(material.Content)
	sb.WriteString("\n---\n\n")
	sb.WriteString("Analyze this material and respond with the JSON object described in your instructions.")

	return sb.String()
}
