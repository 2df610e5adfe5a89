// Package signals computes lightweight delivery metrics from a transcript.
// Nothing here touches audio; the numbers feed the delivery scoring prompt.
package signals

import (
	"math"
	"strings"
	"unicode"
)

// Signals is the delivery summary of one transcript.
type Signals struct {
	WordCount              int     `json:"word_count"`
	WordsPerMinute         *int    `json:"words_per_minute"`
	FillerWordCount        int     `json:"filler_word_count"`
	FillerDensity          float64 `json:"filler_density"`
	SentenceCount          int     `json:"sentence_count"`
	AvgSentenceLength      float64 `json:"avg_sentence_length"`
	SentenceLengthVariance float64 `json:"sentence_length_variance"`
}

var singleFillers = map[string]struct{}{
	"um": {}, "uh": {}, "er": {}, "ah": {},
	"like": {}, "basically": {}, "actually": {}, "literally": {},
	"so": {}, "right": {},
}

var phraseFillers = [][2]string{
	{"you", "know"},
	{"i", "mean"},
	{"kind", "of"},
	{"sort", "of"},
}

// Extract computes Signals for transcript. durationSecs may be nil when the
// client did not report a recording length.
func Extract(transcript string, durationSecs *float64) Signals {
	words := strings.Fields(transcript)
	s := Signals{WordCount: len(words)}

	if s.WordCount > 0 && durationSecs != nil && *durationSecs > 0 {
		wpm := int(math.Round(float64(s.WordCount) / *durationSecs * 60))
		s.WordsPerMinute = &wpm
	}

	s.FillerWordCount = countFillers(words)
	if s.WordCount > 0 {
		s.FillerDensity = float64(s.FillerWordCount) / float64(s.WordCount)
	}

	lengths := sentenceLengths(transcript)
	s.SentenceCount = len(lengths)
	s.AvgSentenceLength, s.SentenceLengthVariance = meanVariance(lengths)
	return s
}

func countFillers(words []string) int {
	tokens := make([]string, len(words))
	for i, w := range words {
		tokens[i] = normalizeToken(w)
	}

	count := 0
	for i := 0; i < len(tokens); i++ {
		if i+1 < len(tokens) && isPhrase(tokens[i], tokens[i+1]) {
			count++
			i++
			continue
		}
		if _, ok := singleFillers[tokens[i]]; ok {
			count++
		}
	}
	return count
}

func isPhrase(a, b string) bool {
	for _, p := range phraseFillers {
		if a == p[0] && b == p[1] {
			return true
		}
	}
	return false
}

func normalizeToken(w string) string {
	w = strings.ToLower(w)
	return strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// sentenceLengths splits on terminal punctuation and returns word counts of
// the non-empty sentences. Trailing text without punctuation is a sentence.
func sentenceLengths(transcript string) []int {
	parts := strings.FieldsFunc(transcript, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	lengths := make([]int, 0, len(parts))
	for _, p := range parts {
		if n := len(strings.Fields(p)); n > 0 {
			lengths = append(lengths, n)
		}
	}
	return lengths
}

// meanVariance returns the mean and population variance. Variance is 0 for
// fewer than two samples.
func meanVariance(xs []int) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += float64(x)
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var sq float64
	for _, x := range xs {
		d := float64(x) - mean
		sq += d * d
	}
	return mean, sq / float64(len(xs))
}
