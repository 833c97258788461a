package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/echolabs/oralexam/internal/exam"
)

// ErrUnknownAssessment is returned by [Config.Assessment] when no assessment
// has the requested code.
var ErrUnknownAssessment = errors.New("config: unknown assessment")

// suggestThreshold is the minimum Jaro-Winkler similarity for a code to be
// offered as a suggestion.
const suggestThreshold = 0.8

// Assessment looks up an assessment by its join code, case-insensitively.
// When nothing matches, the error names the closest known code if one is
// similar enough.
func (c *Config) Assessment(code string) (exam.Assessment, error) {
	want := strings.ToUpper(strings.TrimSpace(code))
	for _, a := range c.Assessments {
		if strings.ToUpper(a.Code) == want {
			return a.Assessment()
		}
	}

	if s := c.suggest(want); s != "" {
		return exam.Assessment{}, fmt.Errorf("%w %q (did you mean %q?)", ErrUnknownAssessment, code, s)
	}
	return exam.Assessment{}, fmt.Errorf("%w %q", ErrUnknownAssessment, code)
}

// suggest returns the known code most similar to code, or "".
func (c *Config) suggest(code string) string {
	var (
		best  string
		score float64
	)
	for _, a := range c.Assessments {
		s := matchr.JaroWinkler(code, strings.ToUpper(a.Code), false)
		if s > score {
			best, score = a.Code, s
		}
	}
	if score < suggestThreshold {
		return ""
	}
	return best
}
