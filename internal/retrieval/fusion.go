package retrieval

import (
	"sort"
	"strings"
	"unicode"

	"query-orchestrator/internal/models"
)

// FusionOptions tune how fan-out results are merged.
type FusionOptions struct {
	SimilarityThreshold float64
	MinConfidence       float64
	MaxResults          int
}

// Fuse drops low-confidence results and near-duplicates (keeping the more confident copy), then
// orders the rest newest first, undated last, by source priority and confidence.
func Fuse(results []models.RetrievalResult, opts FusionOptions) []models.RetrievalResult {
	kept := make([]models.RetrievalResult, 0, len(results))
	for _, r := range results {
		if r.Confidence >= opts.MinConfidence {
			kept = append(kept, r)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Confidence > kept[j].Confidence })
	var (
		unique []models.RetrievalResult
		sets   []map[string]struct{}
	)
	for _, r := range kept {
		set := tokenSet(r.Title + " " + r.Snippet)
		dup := false
		for _, other := range sets {
			if opts.SimilarityThreshold > 0 && jaccard(set, other) >= opts.SimilarityThreshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		unique = append(unique, r)
		sets = append(sets, set)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		a, b := unique[i], unique[j]
		if a.PublishedAt.IsZero() != b.PublishedAt.IsZero() {
			return !a.PublishedAt.IsZero()
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Confidence > b.Confidence
	})

	if opts.MaxResults > 0 && len(unique) > opts.MaxResults {
		unique = unique[:opts.MaxResults]
	}
	return unique
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// jaccard is |a∩b| / |a∪b|; two empty sets are not considered similar.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
