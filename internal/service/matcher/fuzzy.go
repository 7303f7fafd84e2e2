package matcher

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/sahilm/fuzzy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// minTokenShare: доля слов запроса, которые должны узнаваться в названии кандидата.
const minTokenShare = 0.5

// FuzzyMatcher: офлайн-матчер без внешних сервисов. Нечувствителен к регистру и
// диакритике: "piscanec" находит "piščanec".
type FuzzyMatcher struct{}

// NewFuzzy создаёт офлайн-матчер.
func NewFuzzy() *FuzzyMatcher {
	return &FuzzyMatcher{}
}

type foldedNames []string

func (f foldedNames) String(i int) string { return f[i] }
func (f foldedNames) Len() int            { return len(f) }

// Match возвращает ответ в том же формате, что и LLM.
func (m *FuzzyMatcher) Match(_ context.Context, candidates []domain.MatchCandidate, query string) (string, error) {
	q := fold(query)
	if q == "" || len(candidates) == 0 {
		return FormatResponse(nil), nil
	}

	names := make(foldedNames, len(candidates))
	for i, c := range candidates {
		names[i] = fold(c.Name)
		if names[i] == q {
			id := c.ID
			return FormatResponse(&id), nil
		}
	}

	scores := make(map[int]int, len(candidates))
	for _, match := range fuzzy.FindFrom(q, names) {
		scores[match.Index] = match.Score
	}

	queryTokens := strings.Fields(q)
	best := -1
	bestShare := 0.0
	bestScore := math.MinInt
	for i := range candidates {
		share := tokenShare(queryTokens, strings.Fields(names[i]))
		if share < minTokenShare {
			continue
		}
		score, ok := scores[i]
		if !ok {
			score = math.MinInt
		}
		if share > bestShare || (share == bestShare && score > bestScore) {
			best, bestShare, bestScore = i, share, score
		}
	}

	if best < 0 {
		return FormatResponse(nil), nil
	}
	id := candidates[best].ID
	return FormatResponse(&id), nil
}

// tokenShare считает долю слов запроса, у которых есть слово кандидата с тем же началом.
func tokenShare(query, candidate []string) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for _, q := range query {
		for _, c := range candidate {
			if samePrefix(q, c) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(query))
}

func samePrefix(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	n := 4
	if len(ra) < n {
		n = len(ra)
	}
	if len(rb) < n {
		n = len(rb)
	}
	if n < 2 && len(ra) != len(rb) {
		return false
	}
	return string(ra[:n]) == string(rb[:n])
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
