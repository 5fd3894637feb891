// Package knowledge maintains the per-chapter analysis cache. Each uploaded
// material is analyzed once and its results merged additively into the
// chapter's cached knowledge, so later generation calls never re-analyze.
package knowledge

import "github.com/examcraft/backend/internal/models"

// MergeScope folds incoming analysis into existing cached scope. The merge is
// strictly additive: nothing already cached is ever removed or weakened.
//   - topics: set union, existing order preserved, new topics appended
//   - subtopics: union per topic, deduplicated by subtopic name
//   - depth indicators: per-topic maximum
//   - terminology: incoming value wins on key collision
//   - source materials: append with dedup
func MergeScope(existing, incoming *models.ScopeAnalysis) *models.ScopeAnalysis {
	if existing == nil {
		return cloneScope(incoming)
	}
	if incoming == nil {
		return cloneScope(existing)
	}

	merged := cloneScope(existing)

	merged.Topics = unionStrings(merged.Topics, incoming.Topics)

	if len(incoming.Subtopics) > 0 {
		if merged.Subtopics == nil {
			merged.Subtopics = make(map[string][]models.Subtopic)
		}
		for topic, subs := range incoming.Subtopics {
			merged.Subtopics[topic] = unionSubtopics(merged.Subtopics[topic], subs)
		}
	}

	if len(incoming.DepthIndicators) > 0 {
		if merged.DepthIndicators == nil {
			merged.DepthIndicators = make(map[string]models.DepthLevel)
		}
		for topic, depth := range incoming.DepthIndicators {
			merged.DepthIndicators[topic] = models.MaxDepth(merged.DepthIndicators[topic], depth)
		}
	}

	if len(incoming.TerminologyMappings) > 0 {
		if merged.TerminologyMappings == nil {
			merged.TerminologyMappings = make(map[string]string)
		}
		for term, mapping := range incoming.TerminologyMappings {
			merged.TerminologyMappings[term] = mapping
		}
	}

	merged.SourceMaterials = unionStrings(merged.SourceMaterials, incoming.SourceMaterials)

	return merged
}

// MergeStyles appends incoming exemplar questions to the cached list. No
// deduplication: repeated uploads of the same material repeat its examples,
// which keeps frequently-seen styles weighted higher in prompts.
func MergeStyles(existing, incoming *models.StyleExamples) *models.StyleExamples {
	if existing == nil {
		return cloneStyles(incoming)
	}
	if incoming == nil {
		return cloneStyles(existing)
	}

	merged := cloneStyles(existing)
	merged.Questions = append(merged.Questions, incoming.Questions...)
	merged.SourceMaterials = unionStrings(merged.SourceMaterials, incoming.SourceMaterials)
	return merged
}

func unionStrings(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, s := range existing {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range incoming {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func unionSubtopics(existing, incoming []models.Subtopic) []models.Subtopic {
	seen := make(map[string]bool, len(existing))
	out := make([]models.Subtopic, 0, len(existing)+len(incoming))
	for _, st := range existing {
		if !seen[st.Name] {
			seen[st.Name] = true
			out = append(out, st)
		}
	}
	for _, st := range incoming {
		if !seen[st.Name] {
			seen[st.Name] = true
			out = append(out, st)
		}
	}
	return out
}

func cloneScope(s *models.ScopeAnalysis) *models.ScopeAnalysis {
	if s == nil {
		return nil
	}
	out := &models.ScopeAnalysis{
		Topics:          append([]string(nil), s.Topics...),
		SourceMaterials: append([]string(nil), s.SourceMaterials...),
	}
	if s.Subtopics != nil {
		out.Subtopics = make(map[string][]models.Subtopic, len(s.Subtopics))
		for k, v := range s.Subtopics {
			out.Subtopics[k] = append([]models.Subtopic(nil), v...)
		}
	}
	if s.DepthIndicators != nil {
		out.DepthIndicators = make(map[string]models.DepthLevel, len(s.DepthIndicators))
		for k, v := range s.DepthIndicators {
			out.DepthIndicators[k] = v
		}
	}
	if s.TerminologyMappings != nil {
		out.TerminologyMappings = make(map[string]string, len(s.TerminologyMappings))
		for k, v := range s.TerminologyMappings {
			out.TerminologyMappings[k] = v
		}
	}
	return out
}

func cloneStyles(s *models.StyleExamples) *models.StyleExamples {
	if s == nil {
		return nil
	}
	return &models.StyleExamples{
		Questions:       append([]models.StyleExample(nil), s.Questions...),
		SourceMaterials: append([]string(nil), s.SourceMaterials...),
	}
}
