package ragvalidation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/common/metrics"
	"query-orchestrator/internal/models"
	"query-orchestrator/internal/retrieval"

	"github.com/xeipuuv/gojsonschema"
)

type bound struct {
	container string
	field     string
	min, max  float64
}

var bounds = map[models.ServiceKind][]bound{
	models.ServiceWeather: {
		{"current", "temperature", -50, 150},
		{"current", "humidity", 0, 100},
		{"current", "wind_speed", 0, 250},
		{"forecast", "high", -50, 150},
		{"forecast", "low", -50, 150},
	},
	models.ServiceSports: {
		{"games", "home_score", 0, 300},
		{"games", "away_score", 0, 300},
		{"standings", "wins", 0, 200},
		{"standings", "losses", 0, 200},
	},
	models.ServiceAirports: {
		{"flights", "delay_minutes", 0, 1440},
	},
}

var (
	asksScore     = regexp.MustCompile(`(?i)\b(?:score|scores|result|results|won|win|beat|lost|final)\b`)
	asksStandings = regexp.MustCompile(`(?i)\b(?:standings?|record|rank(?:ed|ing)?|place)\b`)
	asksSchedule  = regexp.MustCompile(`(?i)\b(?:when|schedule|next game|play next|kickoff|start)\b`)
	asksForecast  = regexp.MustCompile(`(?i)\b(?:tomorrow|forecast|this week|next week|weekend)\b`)
	asksFlight    = regexp.MustCompile(`(?i)\b(?:flights?|[a-z]{2}\d{2,4})\b`)
)

// Validator checks retrieval payloads for shape, content and fit with the query.
type Validator struct {
	schemas map[models.ServiceKind]*gojsonschema.Schema
	log     logger.Logger
}

func NewValidator(log logger.Logger) (*Validator, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Validator{schemas: schemas, log: logger.Component(log, "rag-validator")}, nil
}

func outcome(status models.StructuralStatus, reason string, action models.FallbackAction, hint string) models.StructuralValidationOutcome {
	return models.StructuralValidationOutcome{
		Status:     status,
		Reason:     reason,
		Suggestion: models.Suggestion{FallbackAction: action, Hint: hint},
	}
}

// ValidateRaw normalizes a raw service payload and validates it.
func (v *Validator) ValidateRaw(raw []byte, query string, kind models.ServiceKind) models.StructuralValidationOutcome {
	normalized, err := retrieval.Normalize(kind, raw)
	if err != nil {
		return v.record(kind, outcome(models.StructuralInvalid, err.Error(), models.FallbackWebSearch, "service returned malformed data"))
	}
	return v.ValidateStructure(normalized, query, kind)
}

// ValidateResult validates a service retrieval result, falling back to its raw body when it
// could not be normalized.
func (v *Validator) ValidateResult(r models.RetrievalResult, query string) models.StructuralValidationOutcome {
	if r.Normalized == nil && len(r.Raw) > 0 {
		return v.ValidateRaw(r.Raw, query, r.Kind)
	}
	return v.ValidateStructure(r.Normalized, query, r.Kind)
}

// ValidateStructure checks a normalized payload. The order is: emptiness, container schema and
// required fields, numeric bounds, then whether the data can answer the query at all.
func (v *Validator) ValidateStructure(payload map[string]interface{}, query string, kind models.ServiceKind) models.StructuralValidationOutcome {
	schema, ok := v.schemas[kind]
	if !ok {
		return v.record(kind, outcome(models.StructuralInvalid, fmt.Sprintf("unknown service kind %q", kind), models.FallbackWebSearch, ""))
	}

	if !retrieval.HasData(kind, payload) {
		return v.record(kind, outcome(models.StructuralEmpty,
			fmt.Sprintf("%s service returned no data", kind), models.FallbackWebSearch, "use web search"))
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return v.record(kind, outcome(models.StructuralInvalid, "schema validation error: "+err.Error(), models.FallbackWebSearch, "use web search"))
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return v.record(kind, outcome(models.StructuralInvalid,
			fmt.Sprintf("%s payload failed schema: %s", kind, strings.Join(errs, "; ")), models.FallbackWebSearch, "use web search"))
	}

	if reason := checkBounds(kind, payload); reason != "" {
		return v.record(kind, outcome(models.StructuralInvalid, reason, models.FallbackWebSearch, "use web search"))
	}

	if reason := checkFit(kind, payload, query); reason != "" {
		return v.record(kind, outcome(models.StructuralNeedsRetry, reason, models.FallbackRetry, "retry with a more specific request, then web search"))
	}

	return v.record(kind, outcome(models.StructuralValid, "payload is complete", models.FallbackNone, ""))
}

func (v *Validator) record(kind models.ServiceKind, o models.StructuralValidationOutcome) models.StructuralValidationOutcome {
	metrics.ValidationOutcomes.WithLabelValues("structural", string(o.Status)).Inc()
	if !o.Valid() {
		v.log.Info("structural validation failed", map[string]interface{}{
			"kind":   kind,
			"status": o.Status,
			"reason": o.Reason,
		})
	}
	return o
}

// sample returns the container itself, or its first element when it is a list.
func sample(payload map[string]interface{}, container string) map[string]interface{} {
	switch c := payload[container].(type) {
	case map[string]interface{}:
		return c
	case []interface{}:
		if len(c) > 0 {
			m, _ := c[0].(map[string]interface{})
			return m
		}
	}
	return nil
}

func number(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func checkBounds(kind models.ServiceKind, payload map[string]interface{}) string {
	for _, b := range bounds[kind] {
		rec := sample(payload, b.container)
		if rec == nil {
			continue
		}
		n, ok := number(rec[b.field])
		if !ok {
			continue
		}
		if n < b.min || n > b.max {
			return fmt.Sprintf("%s.%s=%v outside plausible range %v..%v", b.container, b.field, n, b.min, b.max)
		}
	}
	return ""
}

func hasScoredGame(payload map[string]interface{}) bool {
	games, _ := payload["games"].([]interface{})
	for _, g := range games {
		game, _ := g.(map[string]interface{})
		_, home := number(game["home_score"])
		_, away := number(game["away_score"])
		if home && away {
			return true
		}
	}
	return false
}

func hasList(payload map[string]interface{}, key string) bool {
	l, _ := payload[key].([]interface{})
	return len(l) > 0
}

// checkFit reports data that is well formed but cannot answer what the query asks.
func checkFit(kind models.ServiceKind, payload map[string]interface{}, query string) string {
	switch kind {
	case models.ServiceSports:
		switch {
		case asksScore.MatchString(query) && !hasScoredGame(payload):
			return "query asks for a score but the payload only has schedule or standings data"
		case asksStandings.MatchString(query) && !hasList(payload, "standings"):
			return "query asks for standings but the payload has none"
		case asksSchedule.MatchString(query) && !hasList(payload, "games"):
			return "query asks for a schedule but the payload has no games"
		}
	case models.ServiceWeather:
		if asksForecast.MatchString(query) && !hasList(payload, "forecast") {
			return "query asks for a forecast but the payload only has current conditions"
		}
	case models.ServiceAirports:
		if asksFlight.MatchString(query) && !hasList(payload, "flights") {
			return "query asks about a flight but the payload has no flights"
		}
	}
	return ""
}
