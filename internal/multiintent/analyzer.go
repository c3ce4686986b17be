package multiintent

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/models"
)

// ConfigSource supplies the multi-intent configuration and chain rules.
type ConfigSource interface {
	MultiIntent(ctx context.Context) (models.MultiIntentConfig, error)
	ChainRules(ctx context.Context) ([]models.ChainRule, error)
}

// Result is the analysis of one query.
type Result struct {
	HasMultiple bool                     `json:"hasMultiple"`
	Parts       []string                 `json:"parts"`
	ChainMatch  *models.ChainRule        `json:"chainMatch,omitempty"`
	Strategy    models.ExecutionStrategy `json:"strategy"`
}

// routines are the canned sub-queries of the built-in chain rules.
var routines = map[string][]string{
	"good_morning": {
		"what's the weather today",
		"turn on the kitchen lights",
		"how is the traffic this morning",
	},
	"good_night": {
		"turn off all the lights",
		"lock the front door",
		"set the thermostat to 68 degrees",
	},
	"leaving_home": {
		"turn off all the lights",
		"lock the front door",
		"what's the weather today",
	},
}

// DefaultChainRules are in effect until configuration provides chain rules.
func DefaultChainRules() []models.ChainRule {
	return []models.ChainRule{
		{
			Name:           "good_morning",
			Trigger:        models.MustPattern(`^\s*good morning\b`),
			IntentSequence: []models.Category{models.CategoryWeather, models.CategoryControl, models.CategoryTransit},
			Enabled:        true,
		},
		{
			Name:           "good_night",
			Trigger:        models.MustPattern(`^\s*good ?night\b`),
			IntentSequence: []models.Category{models.CategoryControl, models.CategoryControl, models.CategoryControl},
			StopOnError:    true,
			Enabled:        true,
		},
		{
			Name:           "leaving_home",
			Trigger:        models.MustPattern(`\b(?:i'?m|i am) leaving\b`),
			IntentSequence: []models.Category{models.CategoryControl, models.CategoryControl, models.CategoryWeather},
			Enabled:        true,
		},
	}
}

var (
	actionVerb = regexp.MustCompile(`(?i)\b(?:turn|switch|set|dim|brighten|lock|unlock|open|close|play|pause|stop|start|raise|lower|increase|decrease|mute)\b`)
	pronoun    = regexp.MustCompile(`(?i)\b(?:it|them|those|that)\b`)
)

type snapshot struct {
	cfg       models.MultiIntentConfig
	rules     []models.ChainRule
	separator *regexp.Regexp
	context   []*regexp.Regexp
}

func buildSnapshot(cfg models.MultiIntentConfig, rules []models.ChainRule) *snapshot {
	s := &snapshot{cfg: cfg, rules: rules}

	seps := append([]string(nil), cfg.Separators...)
	sort.SliceStable(seps, func(i, j int) bool { return len(seps[i]) > len(seps[j]) })
	quoted := make([]string, 0, len(seps))
	for _, sep := range seps {
		if sep != "" {
			quoted = append(quoted, regexp.QuoteMeta(sep))
		}
	}
	if len(quoted) > 0 {
		s.separator = regexp.MustCompile("(?i)(?:" + strings.Join(quoted, "|") + ")")
	}
	for _, w := range cfg.ContextWords {
		if w != "" {
			s.context = append(s.context, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
		}
	}
	return s
}

// Analyzer detects chained routines and separator-joined queries.
type Analyzer struct {
	source     ConfigSource
	summarizer Summarizer
	log        logger.Logger
	snap       atomic.Pointer[snapshot]
}

// NewAnalyzer starts on built-in defaults. source and summarizer may be nil.
func NewAnalyzer(source ConfigSource, summarizer Summarizer, log logger.Logger) *Analyzer {
	a := &Analyzer{source: source, summarizer: summarizer, log: logger.Component(log, "multi-intent")}
	a.snap.Store(buildSnapshot(models.DefaultMultiIntentConfig(), DefaultChainRules()))
	return a
}

// Config returns the multi-intent configuration in effect.
func (a *Analyzer) Config() models.MultiIntentConfig { return a.snap.Load().cfg }

// Refresh reloads configuration; each part that fails keeps its current value.
func (a *Analyzer) Refresh(ctx context.Context) error {
	if a.source == nil {
		return nil
	}
	current := a.snap.Load()
	cfg, rules := current.cfg, current.rules

	if fresh, err := a.source.MultiIntent(ctx); err != nil {
		a.log.Warn("multi-intent config unavailable, keeping current", map[string]interface{}{"error": err.Error()})
	} else {
		cfg = fresh
	}
	if fresh, err := a.source.ChainRules(ctx); err != nil {
		a.log.Warn("chain rules unavailable, keeping current", map[string]interface{}{"error": err.Error()})
	} else if len(fresh) > 0 {
		rules = fresh
	}

	a.snap.Store(buildSnapshot(cfg, rules))
	return nil
}

func single(text string) Result {
	return Result{Parts: []string{text}, Strategy: models.ExecutionSequential}
}

// Analyze splits text into ordered sub-queries. A chain match wins over separator splitting.
func (a *Analyzer) Analyze(text string) Result {
	snap := a.snap.Load()
	text = strings.TrimSpace(text)
	if !snap.cfg.Enabled || text == "" {
		return single(text)
	}

	for i := range snap.rules {
		rule := snap.rules[i]
		if !rule.Enabled || !rule.Trigger.MatchString(text) {
			continue
		}
		parts := chainQueries(rule, text)
		return Result{
			HasMultiple: true,
			Parts:       parts,
			ChainMatch:  &rule,
			Strategy:    models.ExecutionSequential,
		}
	}

	parts := a.split(snap, text)
	if len(parts) < 2 {
		return single(text)
	}
	strategy := models.ExecutionSequential
	if snap.cfg.ParallelProcessing {
		strategy = models.ExecutionParallel
	}
	return Result{HasMultiple: true, Parts: parts, Strategy: strategy}
}

// chainQueries returns the routine's canned queries, or the original query once per step.
func chainQueries(rule models.ChainRule, text string) []string {
	if canned, ok := routines[rule.Name]; ok {
		return append([]string(nil), canned...)
	}
	parts := make([]string, len(rule.IntentSequence))
	for i := range parts {
		parts[i] = text
	}
	if len(parts) == 0 {
		parts = []string{text}
	}
	return parts
}

func (a *Analyzer) split(snap *snapshot, text string) []string {
	if snap.separator == nil {
		return nil
	}
	var segments []string
	for _, seg := range snap.separator.Split(text, -1) {
		if seg = strings.TrimSpace(seg); seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) < 2 {
		return nil
	}

	if snap.cfg.PreserveContext {
		segments = injectContext(snap, segments)
	}

	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if len(strings.Fields(seg)) < snap.cfg.MinWordsPerIntent {
			continue
		}
		parts = append(parts, seg)
		if len(parts) == snap.cfg.MaxSubIntents {
			break
		}
	}
	return parts
}

// injectContext carries the most recent context noun into later commands that lack one.
func injectContext(snap *snapshot, segments []string) []string {
	out := make([]string, len(segments))
	lastNoun := ""
	for i, seg := range segments {
		noun := lastContextNoun(snap, seg)
		if noun == "" && lastNoun != "" && actionVerb.MatchString(seg) {
			if loc := pronoun.FindStringIndex(seg); loc != nil {
				seg = seg[:loc[0]] + "the " + lastNoun + seg[loc[1]:]
			} else {
				seg = seg + " the " + lastNoun
			}
			noun = lastNoun
		}
		if noun != "" {
			lastNoun = noun
		}
		out[i] = seg
	}
	return out
}

// lastContextNoun returns the context word appearing last in seg.
func lastContextNoun(snap *snapshot, seg string) string {
	best, bestPos := "", -1
	for _, re := range snap.context {
		locs := re.FindAllStringIndex(seg, -1)
		if len(locs) == 0 {
			continue
		}
		if pos := locs[len(locs)-1][0]; pos > bestPos {
			best, bestPos = strings.ToLower(seg[pos:locs[len(locs)-1][1]]), pos
		}
	}
	return best
}
