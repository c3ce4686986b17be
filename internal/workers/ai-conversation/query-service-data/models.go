package queryservicedata

import "query-orchestrator/internal/models"

// Input selects a structured service. Kind may be omitted when Category routes to a service.
type Input struct {
	Query    string             `json:"query"`
	Category models.Category    `json:"category"`
	Kind     models.ServiceKind `json:"kind"`
	Entities map[string]string  `json:"entities"`
	Zone     string             `json:"zone"`
	Attempt  int                `json:"attempt"`
}

type Output struct {
	ServiceData ServiceData `json:"serviceData"`
}

// ServiceData carries the first usable payload. Fallback tells the process what to do next
// when Found is false.
type ServiceData struct {
	Found      bool                                 `json:"found"`
	Kind       models.ServiceKind                   `json:"kind"`
	Answer     string                               `json:"answer,omitempty"`
	Data       map[string]interface{}               `json:"data,omitempty"`
	Provenance *models.Provenance                   `json:"provenance,omitempty"`
	Validation []models.StructuralValidationOutcome `json:"validation"`
	Fallback   models.FallbackAction                `json:"fallback"`
}
