package exam

import (
	"fmt"
	"strings"
)

// instructionsTemplate is filled with the reference material, an optional
// addressing line and the target exam length.
const instructionsTemplate = `You are a professional teacher conducting an oral examination.
Your goal is to assess the student's understanding of the following material:
--- MATERIAL BEGIN ---
%s
--- MATERIAL END ---

Instructions:
1. Start by introducing yourself briefly and asking the student if they are ready.%s
2. Ask clear, probing questions one at a time based ONLY on the material provided.
3. Listen carefully to the student's answers.
4. If the student struggles, provide subtle hints.
5. Conduct the exam for roughly %s minutes.
6. IMPORTANT: Keep the filler words 'um' and 'uh' in the transcription so speaking fluency can be evaluated.
7. Maintain a supportive yet formal academic tone.
8. Keep track of timestamps and note any unusually long responses.`

// InstructionData parameterizes the examiner prompt.
type InstructionData struct {
	Material    string
	StudentName string
	// Minutes is the target exam length, e.g. "3-5".
	Minutes string
}

// Instructions renders the examiner system prompt.
func Instructions(data InstructionData) string {
	minutes := data.Minutes
	if minutes == "" {
		minutes = "3-5"
	}
	var greet string
	if name := strings.TrimSpace(data.StudentName); name != "" {
		greet = fmt.Sprintf(" Address the student as %s.", name)
	}
	return fmt.Sprintf(instructionsTemplate, strings.TrimSpace(data.Material), greet, minutes)
}
