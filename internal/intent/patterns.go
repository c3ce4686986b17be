package intent

import (
	"context"
	"regexp"
	"sort"
	"sync/atomic"

	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/models"
)

// Built-in control groups. A configured group replaces the group of the same name.
var defaultControlGroups = map[string][]string{
	"basic":       {"turn on", "turn off", "switch on", "switch off", "power on", "power off", "lights", "lamp"},
	"dimming":     {"dim", "dimmer", "brighten", "brightness"},
	"temperature": {"thermostat", "set the temperature", "heating", "air conditioning", "heater"},
	"scene":       {"scene", "movie mode", "night mode", "activate"},
	"lock":        {"lock", "unlock", "deadbolt"},
	"cover":       {"blinds", "shades", "curtains", "garage door", "open the", "close the"},
	"fan":         {"fan", "ceiling fan"},
	"media":       {"play", "pause", "volume", "mute", "unmute", "skip", "next song", "tv", "television"},
}

var defaultInformationGroups = map[models.Category][]string{
	models.CategoryWeather: {
		"weather", "forecast", "temperature", "rain", "raining", "snow", "sunny", "humidity",
		"wind", "storm", "umbrella", "degrees outside", "cold outside", "hot outside",
	},
	models.CategorySports: {
		"game", "games", "score", "scores", "team", "match", "playoffs", "season", "standings",
		"ravens", "orioles", "nfl", "nba", "mlb", "nhl", "won", "win",
	},
	models.CategoryAirports: {
		"flight", "flights", "airport", "departure", "departures", "arrival", "arrivals", "gate",
		"delayed", "terminal", "boarding", "bwi",
	},
	models.CategoryTransit: {
		"bus", "train", "subway", "metro", "light rail", "commute", "traffic", "transit", "marc",
	},
	models.CategoryEmergency: {
		"emergency", "hospital", "police", "fire department", "urgent care", "911", "poison control",
		"ambulance",
	},
	models.CategoryFood: {
		"restaurant", "restaurants", "food", "eat", "dinner", "lunch", "breakfast", "pizza", "coffee",
		"delivery", "menu",
	},
	models.CategoryEvents: {
		"event", "events", "concert", "concerts", "festival", "show", "tickets", "happening",
		"things to do",
	},
	models.CategoryLocation: {
		"where is", "directions", "address", "near me", "nearby", "how far", "distance", "located",
		"map",
	},
	models.CategoryGeneralInfo: {
		"who is", "who was", "what is", "tell me about", "history", "define", "explain", "meaning",
		"how many", "when did",
	},
}

var defaultActionVerbs = []string{
	"turn", "switch", "set", "dim", "brighten", "lock", "unlock", "open", "close", "play", "pause",
	"stop", "start", "raise", "lower", "increase", "decrease", "activate", "power", "mute",
}

var defaultDeviceNouns = []string{
	"lights", "light", "lamp", "fan", "thermostat", "tv", "television", "music", "door", "blinds",
	"shades", "curtains", "garage", "speaker", "heater", "ac",
}

var defaultComplexityIndicators = []string{
	"why", "explain", "compare", "difference between", "pros and cons", "how does", "how do",
	"analyze", "should i", "what would happen", "in detail", "step by step", "recommend",
}

// keyword is one compiled pattern of a group.
type keyword struct {
	text string
	re   *regexp.Regexp
}

// compileKeyword builds a case-insensitive matcher with word boundaries on word-character edges.
func compileKeyword(word string) keyword {
	expr := regexp.QuoteMeta(word)
	if isWordByte(word[0]) {
		expr = `\b` + expr
	}
	if isWordByte(word[len(word)-1]) {
		expr += `\b`
	}
	return keyword{text: word, re: regexp.MustCompile("(?i)" + expr)}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func compileAll(words []string) []keyword {
	out := make([]keyword, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		out = append(out, compileKeyword(w))
	}
	return out
}

func countHits(text string, kws []keyword) int {
	n := 0
	for _, kw := range kws {
		if kw.re.MatchString(text) {
			n++
		}
	}
	return n
}

func firstHit(text string, kws []keyword) string {
	for _, kw := range kws {
		if kw.re.MatchString(text) {
			return kw.text
		}
	}
	return ""
}

// Snapshot is an immutable, compiled view of the pattern configuration.
type Snapshot struct {
	controlGroupNames []string
	control           map[string][]keyword
	information       map[models.Category][]keyword
	actionVerbs       []keyword
	deviceNouns       []keyword
	complexity        []keyword
	fromConfig        bool
}

// FromConfig reports whether the snapshot includes configured groups.
func (s *Snapshot) FromConfig() bool { return s.fromConfig }

// ControlGroups lists control group names in sorted order.
func (s *Snapshot) ControlGroups() []string { return s.controlGroupNames }

// BuildSnapshot merges cfg over the built-in defaults and compiles every keyword.
func BuildSnapshot(cfg *models.PatternConfig) *Snapshot {
	control := make(map[string][]string, len(defaultControlGroups))
	for name, words := range defaultControlGroups {
		control[name] = words
	}
	information := make(map[models.Category][]string, len(defaultInformationGroups))
	for cat, words := range defaultInformationGroups {
		information[cat] = words
	}
	verbs, nouns, complexity := defaultActionVerbs, defaultDeviceNouns, defaultComplexityIndicators

	if cfg != nil {
		for name, words := range cfg.ControlGroups {
			control[name] = words
		}
		for cat, words := range cfg.InformationGroups {
			information[cat] = words
		}
		if len(cfg.ActionVerbs) > 0 {
			verbs = cfg.ActionVerbs
		}
		if len(cfg.DeviceNouns) > 0 {
			nouns = cfg.DeviceNouns
		}
		if len(cfg.ComplexityIndicators) > 0 {
			complexity = cfg.ComplexityIndicators
		}
	}

	snap := &Snapshot{
		control:     make(map[string][]keyword, len(control)),
		information: make(map[models.Category][]keyword, len(information)),
		actionVerbs: compileAll(verbs),
		deviceNouns: compileAll(nouns),
		complexity:  compileAll(complexity),
		fromConfig:  cfg != nil,
	}
	for name, words := range control {
		snap.control[name] = compileAll(words)
		snap.controlGroupNames = append(snap.controlGroupNames, name)
	}
	sort.Strings(snap.controlGroupNames)
	for cat, words := range information {
		snap.information[cat] = compileAll(words)
	}
	return snap
}

// PatternSource supplies configured patterns.
type PatternSource interface {
	IntentPatterns(ctx context.Context) (models.PatternConfig, error)
}

// Store holds the current Snapshot. Reads never block; Refresh swaps the snapshot atomically.
type Store struct {
	source PatternSource
	log    logger.Logger
	snap   atomic.Pointer[Snapshot]
}

// NewStore starts on built-in defaults. source may be nil.
func NewStore(source PatternSource, log logger.Logger) *Store {
	s := &Store{source: source, log: logger.Component(log, "pattern-store")}
	s.snap.Store(BuildSnapshot(nil))
	return s
}

func (s *Store) Snapshot() *Snapshot { return s.snap.Load() }

// Refresh loads patterns from configuration. On failure the current snapshot stays in place.
func (s *Store) Refresh(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	cfg, err := s.source.IntentPatterns(ctx)
	if err != nil {
		s.log.Warn("intent patterns unavailable, keeping current patterns", map[string]interface{}{
			"error":      err.Error(),
			"fromConfig": s.Snapshot().FromConfig(),
		})
		return nil
	}
	s.snap.Store(BuildSnapshot(&cfg))
	s.log.Debug("intent patterns refreshed", map[string]interface{}{
		"controlGroups":     len(cfg.ControlGroups),
		"informationGroups": len(cfg.InformationGroups),
	})
	return nil
}
