package orchestratequery

import "query-orchestrator/internal/models"

// Input is the set of process variables the worker reads. Mode is a closed enum and an
// unknown value fails decoding.
type Input struct {
	Query       string        `json:"query"`
	Mode        models.Mode   `json:"mode"`
	Zone        string        `json:"zone"`
	Temperature *float64      `json:"temperature,omitempty"`
	SessionID   string        `json:"sessionId"`
	PriorTurns  []models.Turn `json:"priorTurns"`
	Model       string        `json:"model"`
	UserID      string        `json:"userId"`
}

func (in *Input) toQuery() models.Query {
	q := models.NewQuery(in.Query, in.Mode, in.SessionID, in.PriorTurns)
	q.Zone = in.Zone
	q.Temperature = in.Temperature
	q.Model = in.Model
	q.UserID = in.UserID
	return q
}

type Output struct {
	Answer       string                    `json:"answer"`
	Category     models.Category           `json:"category"`
	Confidence   float64                   `json:"confidence"`
	State        models.State              `json:"state"`
	Sources      []models.Provenance       `json:"sources"`
	Timings      map[string]int64          `json:"timings"`
	Validation   models.ValidationMetadata `json:"validation"`
	Control      *models.ControlAction     `json:"control,omitempty"`
	SubResponses []models.SubResponse      `json:"subResponses,omitempty"`
	BackendUsed  models.BackendKind        `json:"backendUsed,omitempty"`
	SessionID    string                    `json:"sessionId"`
	QueryID      string                    `json:"queryId"`
	Unanswerable bool                      `json:"unanswerable"`
}

func outputFrom(resp models.Response) *Output {
	sources := resp.Sources
	if sources == nil {
		sources = []models.Provenance{}
	}
	return &Output{
		Answer:       resp.Answer,
		Category:     resp.Category,
		Confidence:   resp.Confidence,
		State:        resp.State,
		Sources:      sources,
		Timings:      resp.Timings,
		Validation:   resp.Validation,
		Control:      resp.Control,
		SubResponses: resp.SubResponses,
		BackendUsed:  resp.BackendUsed,
		SessionID:    resp.SessionID,
		QueryID:      resp.QueryID,
		Unanswerable: resp.Unanswerable,
	}
}
