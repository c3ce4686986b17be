package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseEnum matches raw against the closed set of allowed values.
// Matching ignores case and surrounding whitespace; anything else is rejected.
func parseEnum[T ~string](kind, raw string, allowed []T) (T, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	for _, v := range allowed {
		if string(v) == norm {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("unknown %s %q", kind, raw)
}

func unmarshalEnum[T ~string](data []byte, kind string, allowed []T, dst *T) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%s must be a string: %w", kind, err)
	}
	v, err := parseEnum(kind, raw, allowed)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// Mode identifies who is speaking to the assistant.
type Mode string

const (
	ModeOwner Mode = "owner"
	ModeGuest Mode = "guest"
)

var allModes = []Mode{ModeOwner, ModeGuest}

func ParseMode(s string) (Mode, error) { return parseEnum("mode", s, allModes) }

func (m *Mode) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "mode", allModes, m)
}

// Category is the closed set of intent categories.
type Category string

const (
	CategoryControl     Category = "control"
	CategoryWeather     Category = "weather"
	CategorySports      Category = "sports"
	CategoryAirports    Category = "airports"
	CategoryTransit     Category = "transit"
	CategoryEmergency   Category = "emergency"
	CategoryFood        Category = "food"
	CategoryEvents      Category = "events"
	CategoryLocation    Category = "location"
	CategoryGeneralInfo Category = "general_info"
	CategoryUnknown     Category = "unknown"
)

// AllCategories lists every category in declaration order.
var AllCategories = []Category{
	CategoryControl, CategoryWeather, CategorySports, CategoryAirports, CategoryTransit,
	CategoryEmergency, CategoryFood, CategoryEvents, CategoryLocation, CategoryGeneralInfo,
	CategoryUnknown,
}

// InformationCategories are the categories scored by the information check, in tie-break order.
var InformationCategories = []Category{
	CategoryWeather, CategorySports, CategoryAirports, CategoryTransit, CategoryEmergency,
	CategoryFood, CategoryEvents, CategoryLocation, CategoryGeneralInfo,
}

func ParseCategory(s string) (Category, error) { return parseEnum("category", s, AllCategories) }

func (c *Category) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "category", AllCategories, c)
}

func (c *Category) UnmarshalText(text []byte) error {
	v, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ServiceKind names a structured retrieval service.
type ServiceKind string

const (
	ServiceWeather  ServiceKind = "weather"
	ServiceSports   ServiceKind = "sports"
	ServiceAirports ServiceKind = "airports"
)

var AllServiceKinds = []ServiceKind{ServiceWeather, ServiceSports, ServiceAirports}

func ParseServiceKind(s string) (ServiceKind, error) {
	return parseEnum("service kind", s, AllServiceKinds)
}

func (k *ServiceKind) UnmarshalJSON(data []byte) error {
	if string(data) == `""` || string(data) == "null" {
		*k = ""
		return nil
	}
	return unmarshalEnum(data, "service kind", AllServiceKinds, k)
}

// BackendKind selects the inference engine for a model.
type BackendKind string

const (
	BackendPrimary   BackendKind = "primary"
	BackendAlternate BackendKind = "alternate"
	BackendAuto      BackendKind = "auto"
)

var allBackendKinds = []BackendKind{BackendPrimary, BackendAlternate, BackendAuto}

func ParseBackendKind(s string) (BackendKind, error) {
	return parseEnum("backend kind", s, allBackendKinds)
}

func (b *BackendKind) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "backend kind", allBackendKinds, b)
}

// ModelRole is the part a model plays in cross validation.
type ModelRole string

const (
	RolePrimary    ModelRole = "primary"
	RoleValidation ModelRole = "validation"
	RoleFallback   ModelRole = "fallback"
)

var allModelRoles = []ModelRole{RolePrimary, RoleValidation, RoleFallback}

func (r *ModelRole) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "model role", allModelRoles, r)
}

// Severity of a hallucination check.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

var allSeverities = []Severity{SeverityError, SeverityWarning, SeverityInfo}

func (s *Severity) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "severity", allSeverities, s)
}

// Rank orders severities, error first.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// CheckType is the kind of hallucination check a rule performs.
type CheckType string

const (
	CheckRequiredElements    CheckType = "required_elements"
	CheckFactChecking        CheckType = "fact_checking"
	CheckConfidenceThreshold CheckType = "confidence_threshold"
	CheckCrossValidation     CheckType = "cross_validation"
)

var allCheckTypes = []CheckType{
	CheckRequiredElements, CheckFactChecking, CheckConfidenceThreshold, CheckCrossValidation,
}

func (c *CheckType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "check type", allCheckTypes, c)
}

// FactorType is how a confidence rule moves the score.
type FactorType string

const (
	FactorBoost      FactorType = "boost"
	FactorPenalty    FactorType = "penalty"
	FactorMultiplier FactorType = "multiplier"
)

var allFactorTypes = []FactorType{FactorBoost, FactorPenalty, FactorMultiplier}

func (f *FactorType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "factor type", allFactorTypes, f)
}

// ConditionKind selects what a confidence rule inspects.
type ConditionKind string

const (
	ConditionPatternMatchCount ConditionKind = "pattern_match_count"
	ConditionEntityPresence    ConditionKind = "entity_presence"
	ConditionQueryLength       ConditionKind = "query_length"
)

var allConditionKinds = []ConditionKind{
	ConditionPatternMatchCount, ConditionEntityPresence, ConditionQueryLength,
}

func (c *ConditionKind) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "condition kind", allConditionKinds, c)
}

// CombinationStrategy decides how sub-query answers are merged.
type CombinationStrategy string

const (
	CombineConcatenate  CombinationStrategy = "concatenate"
	CombineSummarize    CombinationStrategy = "summarize"
	CombineHierarchical CombinationStrategy = "hierarchical"
)

var allCombinationStrategies = []CombinationStrategy{
	CombineConcatenate, CombineSummarize, CombineHierarchical,
}

func (c *CombinationStrategy) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "combination strategy", allCombinationStrategies, c)
}

// ExecutionStrategy decides whether sub-queries run concurrently.
type ExecutionStrategy string

const (
	ExecutionSequential ExecutionStrategy = "sequential"
	ExecutionParallel   ExecutionStrategy = "parallel"
)

// StructuralStatus is the verdict of the RAG validator.
type StructuralStatus string

const (
	StructuralValid      StructuralStatus = "valid"
	StructuralEmpty      StructuralStatus = "empty"
	StructuralInvalid    StructuralStatus = "invalid"
	StructuralNeedsRetry StructuralStatus = "needs_retry"
)

// FallbackAction is the machine-readable suggestion attached to a failed validation.
type FallbackAction string

const (
	FallbackNone      FallbackAction = "none"
	FallbackRetry     FallbackAction = "retry"
	FallbackWebSearch FallbackAction = "web_search"
)

// ProviderClass groups providers that share a timeout budget.
type ProviderClass string

const (
	ClassKnowledgeBase ProviderClass = "knowledge_base"
	ClassWebSearch     ProviderClass = "web_search"
	ClassService       ProviderClass = "service"
)
