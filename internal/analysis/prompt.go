// Package analysis grades finished exam transcripts.
//
// Two [exam.Analyzer] implementations are provided: [Gemini], which calls the
// Gemini API with a fixed response schema, and [LLM], which works over any
// [llm.Provider] and asks for JSON in the prompt. [WithLocalFillers] wraps
// either one and fills the filler-word counts from the transcript itself when
// the model leaves them out.
package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/echolabs/oralexam/internal/exam"
)

// DefaultRubric is the grading rubric sent with every analysis request unless
// overridden.
const DefaultRubric = `Assess the student based on:
1. Content Accuracy: Did they understand the uploaded notes?
2. Fluency: Smoothness of speech, minimal hesitation.
3. Vocabulary: Appropriate use of terminology.
4. Reasoning: Ability to explain concepts.

Grade Scale: A (Excellent), B (Good), C (Satisfactory), D (Needs Improvement), F (Fail).`

// systemPrompt frames the grader for backends that take a separate system turn.
const systemPrompt = "You are an experienced examiner grading a recorded oral examination. Be fair, specific and concise."

// promptTemplate is filled with the reference notes, the rendered transcript,
// the rubric and the exam duration.
const promptTemplate = `Analyze this oral assessment transcript based on these reference notes.

Reference Notes:
%s

Transcript:
%s

Rubric:
%s
%s
Identify:
1. Predicted Grade (A-F)
2. Specific filler words count (um, uh, like, you know)
3. Qualitative feedback (Strengths, Weaknesses, Suggestions)
4. Notable pauses or hesitations.`

// RenderTranscript formats entries as one "Label: text" line each.
func RenderTranscript(entries []exam.TranscriptEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Role.Label())
		b.WriteString(": ")
		b.WriteString(e.Text)
	}
	return b.String()
}

// BuildPrompt renders the analysis prompt for req. An empty rubric falls back
// to [DefaultRubric].
func BuildPrompt(req exam.AnalysisRequest, rubric string) string {
	if rubric == "" {
		rubric = DefaultRubric
	}
	transcript := RenderTranscript(req.Transcript)
	if transcript == "" {
		transcript = "(no speech was recorded)"
	}
	var duration string
	if req.Duration > 0 {
		duration = fmt.Sprintf("\nThe exam lasted %s.\n", req.Duration.Round(time.Second))
	}
	return fmt.Sprintf(promptTemplate, strings.TrimSpace(req.ReferenceMaterial), transcript, rubric, duration)
}
