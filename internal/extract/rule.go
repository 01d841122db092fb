package extract

import (
	"regexp"
	"time"
)

// Match is a successful rule match against a (width-folded) transcript.
type Match struct {
	Text  string
	At    time.Time
	index []int
}

// Group returns submatch i, or "" when it did not participate.
func (m Match) Group(i int) string {
	if 2*i+1 >= len(m.index) || m.index[2*i] < 0 {
		return ""
	}
	return m.Text[m.index[2*i]:m.index[2*i+1]]
}

// Start returns the byte offset of submatch i, or -1.
func (m Match) Start(i int) int {
	if 2*i >= len(m.index) {
		return -1
	}
	return m.index[2*i]
}

// Rule pairs a matcher with the extractor that turns its captures into a
// candidate. Extract returns false when the captures are structurally unusable.
type Rule[T any] struct {
	Name    string
	Pattern *regexp.Regexp
	Extract func(Match) (T, bool)
}

// Apply runs the rule against text. matched reports whether the pattern hit
// at all; ok reports whether the extractor produced a candidate.
func (r Rule[T]) Apply(text string, at time.Time) (cand T, matched, ok bool) {
	idx := r.Pattern.FindStringSubmatchIndex(text)
	if idx == nil {
		return cand, false, false
	}
	cand, ok = r.Extract(Match{Text: text, At: at, index: idx})
	return cand, true, ok
}

// Range is a plausibility interval in canonical units.
type Range struct {
	Min, Max  float64
	Inclusive bool
}

func (r Range) Contains(v float64) bool {
	if r.Inclusive {
		return v >= r.Min && v <= r.Max
	}
	return v > r.Min && v < r.Max
}

// Recognizer owns one domain's ordered rules. The first rule whose pattern
// matches decides the outcome: a candidate that fails extraction or
// validation drops the domain, later rules are not tried.
type Recognizer[T any] struct {
	Rules []Rule[T]
	Valid func(T) bool
}

// Recognize returns the candidate and the name of the rule that produced it.
func (r Recognizer[T]) Recognize(text string, at time.Time) (T, string, bool) {
	var zero T
	for _, rule := range r.Rules {
		cand, matched, ok := rule.Apply(text, at)
		if !matched {
			continue
		}
		if !ok || (r.Valid != nil && !r.Valid(cand)) {
			return zero, rule.Name, false
		}
		return cand, rule.Name, true
	}
	return zero, "", false
}
