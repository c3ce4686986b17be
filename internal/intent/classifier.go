package intent

import (
	"math"
	"regexp"
	"strings"

	"query-orchestrator/internal/models"
)

const (
	controlBase          = 0.6
	controlPerHit        = 0.15
	controlHitCap        = 0.35
	controlEarlyReturn   = 0.8
	informationBase      = 0.5
	informationRatioCap  = 0.45
	bonus                = 0.1
	confidenceCap        = 0.95
	complexConfidenceCap = 0.5
	cacheKeyTokens       = 5
)

var (
	questionWords = map[string]bool{
		"what": true, "what's": true, "whats": true, "who": true, "who's": true, "when": true,
		"where": true, "where's": true, "why": true, "how": true, "which": true,
	}
	multiCondition = regexp.MustCompile(`(?i)\b(?:versus|vs|compared to|compared with|better than|worse than|whereas|unless|either\b.+\bor|if\b.+\bthen)\b`)

	stopwords = map[string]bool{
		"a": true, "an": true, "the": true,
		"is": true, "are": true, "was": true, "were": true, "be": true, "been": true, "am": true,
		"do": true, "does": true, "did": true, "will": true, "would": true, "can": true,
		"could": true, "should": true, "shall": true, "may": true, "might": true, "must": true,
		"has": true, "have": true, "had": true,
		"i": true, "me": true, "my": true, "you": true, "your": true, "we": true, "our": true,
		"it": true, "its": true, "it's": true, "they": true, "them": true, "their": true,
		"he": true, "she": true, "his": true, "her": true, "this": true, "that": true,
		"what": true, "what's": true, "whats": true, "who": true, "who's": true, "when": true,
		"where": true, "where's": true, "why": true, "how": true, "which": true,
	}
)

// Classifier scores queries against the Pattern Store. It is safe for concurrent use and
// deterministic for a given snapshot.
type Classifier struct {
	store *Store
}

func NewClassifier(store *Store) *Classifier {
	return &Classifier{store: store}
}

// Normalize lowercases text and collapses whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Classify returns the intent of a single query.
func (c *Classifier) Classify(text string) models.IntentClassification {
	snap := c.store.Snapshot()
	norm := Normalize(text)

	controlHits := 0
	for _, name := range snap.controlGroupNames {
		controlHits += countHits(norm, snap.control[name])
	}

	var controlConf float64
	if controlHits > 0 {
		controlConf = controlBase + math.Min(float64(controlHits)*controlPerHit, controlHitCap)
		if countHits(norm, snap.actionVerbs) > 0 && countHits(norm, snap.deviceNouns) > 0 {
			controlConf = math.Min(controlConf+bonus, confidenceCap)
		}
		controlConf = round(controlConf)
		if controlConf >= controlEarlyReturn {
			return c.build(snap, text, norm, models.CategoryControl, controlConf, false)
		}
	}

	category, confidence := models.CategoryUnknown, 0.0
	if controlHits > 0 {
		category, confidence = models.CategoryControl, controlConf
	}

	if infoCat, infoConf, ok := bestInformation(snap, norm); ok {
		category, confidence = infoCat, infoConf
	}

	complex := isComplex(snap, norm)
	if complex {
		if category == models.CategoryUnknown {
			category, confidence = models.CategoryGeneralInfo, complexConfidenceCap
		}
		confidence = math.Min(confidence, complexConfidenceCap)
	}

	return c.build(snap, text, norm, category, confidence, complex)
}

func bestInformation(snap *Snapshot, norm string) (models.Category, float64, bool) {
	bestCat, bestHits, bestTotal := models.CategoryUnknown, 0, 0
	for _, cat := range models.InformationCategories {
		kws := snap.information[cat]
		if len(kws) == 0 {
			continue
		}
		hits := countHits(norm, kws)
		if hits > bestHits {
			bestCat, bestHits, bestTotal = cat, hits, len(kws)
		}
	}
	if bestHits == 0 {
		return models.CategoryUnknown, 0, false
	}
	conf := informationBase + math.Min(float64(bestHits)/float64(bestTotal), informationRatioCap)
	if bestHits >= 3 {
		conf = math.Min(conf+bonus, confidenceCap)
	}
	return bestCat, round(conf), true
}

// isComplex reports queries that need deep reasoning rather than a lookup.
func isComplex(snap *Snapshot, norm string) bool {
	if countHits(norm, snap.complexity) > 0 {
		return true
	}
	words := strings.Fields(norm)
	if len(words) > 15 {
		return true
	}
	if len(words) > 5 && questionWords[strings.Trim(words[0], ",.?!")] {
		return true
	}
	return multiCondition.MatchString(norm)
}

func (c *Classifier) build(snap *Snapshot, original, norm string, category models.Category, confidence float64, complex bool) models.IntentClassification {
	return models.IntentClassification{
		Category:    category,
		Confidence:  models.ClampConfidence(confidence),
		Entities:    extractEntities(snap, category, original, norm),
		RequiresLLM: complex,
		CacheKey:    CacheKey(category, norm),
	}
}

// CacheKey is the category plus the first five non-stopword tokens of the normalized query.
func CacheKey(category models.Category, norm string) string {
	tokens := make([]string, 0, cacheKeyTokens)
	for _, w := range strings.Fields(norm) {
		w = strings.Trim(w, `.,!?;:"'()`)
		if w == "" || stopwords[w] {
			continue
		}
		tokens = append(tokens, w)
		if len(tokens) == cacheKeyTokens {
			break
		}
	}
	return string(category) + ":" + strings.Join(tokens, " ")
}

func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
