package models

import "time"

// State is a step of the orchestration state machine.
type State string

const (
	StateReceived    State = "received"
	StateClassified  State = "classified"
	StateSplit       State = "split"
	StateRouted      State = "routed"
	StateRetrieved   State = "retrieved"
	StateSynthesized State = "synthesized"
	StateValidated   State = "validated"
	StateFinalized   State = "finalized"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateFailed
}

// StageTiming is the wall-clock time spent in one state.
type StageTiming struct {
	State    State         `json:"state"`
	Duration time.Duration `json:"duration"`
}

// ControlAction is the structured device command produced for control queries.
type ControlAction struct {
	Action string `json:"action,omitempty"`
	Device string `json:"device,omitempty"`
	Room   string `json:"room,omitempty"`
	Value  string `json:"value,omitempty"`
	Zone   string `json:"zone,omitempty"`
}

// OrchestratorState is the per-query aggregate. It is owned by one run and discarded after the
// response is returned.
type OrchestratorState struct {
	QueryID        string                        `json:"queryId"`
	Query          Query                         `json:"query"`
	Current        State                         `json:"state"`
	History        []State                       `json:"history"`
	Classification *IntentClassification         `json:"classification,omitempty"`
	Decision       *RoutingDecision              `json:"decision,omitempty"`
	Results        []RetrievalResult             `json:"results,omitempty"`
	Structural     []StructuralValidationOutcome `json:"structural,omitempty"`
	Semantic       *SemanticValidationOutcome    `json:"semantic,omitempty"`
	Control        *ControlAction                `json:"control,omitempty"`
	Draft          string                        `json:"draft,omitempty"`
	Final          string                        `json:"final,omitempty"`
	BackendUsed    BackendKind                   `json:"backendUsed,omitempty"`
	Timings        []StageTiming                 `json:"timings"`
	Err            error                         `json:"-"`
}

// SubResponse is the outcome of one sub-query of a multi-intent query.
type SubResponse struct {
	Query    string       `json:"query"`
	Category Category     `json:"category"`
	Answer   string       `json:"answer"`
	Sources  []Provenance `json:"sources,omitempty"`
	Failed   bool         `json:"failed,omitempty"`
}

// ValidationMetadata summarizes both validation layers for the caller.
type ValidationMetadata struct {
	Structural         []StructuralValidationOutcome `json:"structural,omitempty"`
	Valid              bool                          `json:"valid"`
	Checks             []CheckResult                 `json:"checks,omitempty"`
	EnsembleConfidence float64                       `json:"ensembleConfidence"`
	Confidence         float64                       `json:"confidence"`
	Adjustments        []ConfidenceAdjustment        `json:"adjustments,omitempty"`
	Rewritten          bool                          `json:"rewritten,omitempty"`
}

// Response is the single structured result returned per query.
type Response struct {
	QueryID      string             `json:"queryId"`
	SessionID    string             `json:"sessionId,omitempty"`
	Answer       string             `json:"answer"`
	Category     Category           `json:"category"`
	Confidence   float64            `json:"confidence"`
	State        State              `json:"state"`
	Sources      []Provenance       `json:"sources,omitempty"`
	Timings      map[string]int64   `json:"timingsMs"`
	Validation   ValidationMetadata `json:"validation"`
	Control      *ControlAction     `json:"control,omitempty"`
	SubResponses []SubResponse      `json:"subResponses,omitempty"`
	BackendUsed  BackendKind        `json:"backendUsed,omitempty"`
	Unanswerable bool               `json:"unanswerable,omitempty"`
}
