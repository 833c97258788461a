package analysis

import (
	"context"
	"strings"
	"unicode"

	"github.com/echolabs/oralexam/internal/exam"
)

// hesitations maps a normalised token to the filler key it counts towards.
// Tokens are normalised by collapsing repeated letters, so "ummm" and "uhh"
// arrive here as "um" and "uh".
var hesitations = map[string]string{
	"um":  FillerUm,
	"uhm": FillerUm,
	"erm": FillerUm,
	"uh":  FillerUh,
	"er":  FillerUh,
}

// verbLike lists words after which "like" is a verb rather than a filler.
var verbLike = map[string]bool{
	"i": true, "you": true, "we": true, "they": true, "would": true,
	"do": true, "don't": true, "didn't": true, "really": true, "to": true,
}

// CountFillers counts filler words spoken by the student. Agent turns are
// ignored. The result always contains all four keys.
func CountFillers(entries []exam.TranscriptEntry) map[string]int {
	counts := map[string]int{FillerUm: 0, FillerUh: 0, FillerLike: 0, FillerYouKnow: 0}
	for _, e := range entries {
		if e.Role != exam.RoleStudent {
			continue
		}
		words := tokenize(e.Text)
		for i, w := range words {
			if key, ok := hesitations[collapse(w)]; ok {
				counts[key]++
				continue
			}
			switch {
			case w == "like" && (i == 0 || !verbLike[words[i-1]]):
				counts[FillerLike]++
			case w == "know" && i > 0 && words[i-1] == "you":
				counts[FillerYouKnow]++
			}
		}
	}
	return counts
}

// tokenize lowercases s and splits it into words, keeping apostrophes.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

// collapse squeezes runs of the same letter: "ummmm" becomes "um".
func collapse(w string) string {
	var b strings.Builder
	var prev rune
	for i, r := range w {
		if i > 0 && r == prev {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// WithLocalFillers wraps next so that a report with no filler words at all
// gets the counts from [CountFillers] instead. Reports that already contain
// filler counts are returned unchanged.
func WithLocalFillers(next exam.Analyzer) exam.Analyzer {
	return exam.AnalyzerFunc(func(ctx context.Context, req exam.AnalysisRequest) (*exam.Analysis, error) {
		a, err := next.Analyze(ctx, req)
		if err != nil || a == nil {
			return a, err
		}
		if a.TotalFillerCount > 0 || sum(a.FillerWords) > 0 {
			return a, nil
		}
		a.FillerWords = CountFillers(req.Transcript)
		a.TotalFillerCount = sum(a.FillerWords)
		return a, nil
	})
}
