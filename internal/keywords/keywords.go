// Package keywords extracts salient terms from free text. The agent
// accumulates keywords from task descriptions and research results and
// feeds them back into later prompts as grounding context.
package keywords

import (
	"sort"
	"strings"
	"unicode"
)

// Keyword is a term with a relative salience score in [0, 1].
type Keyword struct {
	Text  string
	Score float64
}

// stopwords are skipped during extraction. The list covers common
// English function words plus filler that shows up in model output.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a about above after again against all am an and any are as at be
		because been before being below between both but by can cannot could
		did do does doing down during each few for from further had has have
		having he her here hers herself him himself his how i if in into is
		it its itself just me more most my myself no nor not now of off on
		once only or other our ours ourselves out over own same she should
		so some such than that the their theirs them themselves then there
		these they this those through to too under until up very was we were
		what when where which while who whom why will with would you your
		yours yourself yourselves
		also like make need use using want well please thanks
	`) {
		stopwords[w] = struct{}{}
	}
}

// MaxKeywords caps how many terms Extract returns.
const MaxKeywords = 12

// Extract tokenizes text, drops stopwords and short tokens, and returns
// the most frequent remaining terms scored relative to the top term.
// Ties break on first occurrence so output is deterministic.
func Extract(text string) []Keyword {
	counts := map[string]int{}
	first := map[string]int{}

	pos := 0
	for _, tok := range tokenize(text) {
		pos++
		if len(tok) < 3 {
			continue
		}
		if _, skip := stopwords[tok]; skip {
			continue
		}
		counts[tok]++
		if _, seen := first[tok]; !seen {
			first[tok] = pos
		}
	}
	if len(counts) == 0 {
		return nil
	}

	terms := make([]string, 0, len(counts))
	max := 0
	for term, n := range counts {
		terms = append(terms, term)
		if n > max {
			max = n
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return first[terms[i]] < first[terms[j]]
	})
	if len(terms) > MaxKeywords {
		terms = terms[:MaxKeywords]
	}

	out := make([]Keyword, len(terms))
	for i, term := range terms {
		out[i] = Keyword{Text: term, Score: float64(counts[term]) / float64(max)}
	}
	return out
}

// Merge combines existing keywords with newly extracted ones, keeping
// the higher score for duplicates and re-sorting. The result is capped
// at MaxKeywords so accumulated context stays bounded.
func Merge(existing []Keyword, extracted []Keyword) []Keyword {
	byText := map[string]float64{}
	order := []string{}
	for _, k := range existing {
		if _, seen := byText[k.Text]; !seen {
			order = append(order, k.Text)
		}
		if k.Score > byText[k.Text] {
			byText[k.Text] = k.Score
		}
	}
	for _, k := range extracted {
		if _, seen := byText[k.Text]; !seen {
			order = append(order, k.Text)
		}
		if k.Score > byText[k.Text] {
			byText[k.Text] = k.Score
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return byText[order[i]] > byText[order[j]]
	})
	if len(order) > MaxKeywords {
		order = order[:MaxKeywords]
	}

	out := make([]Keyword, len(order))
	for i, term := range order {
		out[i] = Keyword{Text: term, Score: byText[term]}
	}
	return out
}

// Join renders keywords as a comma-separated list for prompt injection.
func Join(kws []Keyword) string {
	parts := make([]string, len(kws))
	for i, k := range kws {
		parts[i] = k.Text
	}
	return strings.Join(parts, ", ")
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
}
