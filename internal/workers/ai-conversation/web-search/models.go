package websearch

import "query-orchestrator/internal/models"

// Input names the query to search for. Category is a closed enum; an unknown value fails decoding.
type Input struct {
	Query    string            `json:"query"`
	Category models.Category   `json:"category"`
	Entities map[string]string `json:"entities"`
	Zone     string            `json:"zone"`
}

type Output struct {
	WebData WebData `json:"webData"`
}

type WebData struct {
	Found     bool     `json:"found"`
	Providers []string `json:"providers"`
	Sources   []Source `json:"sources"`
	Summary   string   `json:"summary"`
}

type Source struct {
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	Snippet    string            `json:"snippet"`
	Confidence float64           `json:"confidence"`
	Provenance models.Provenance `json:"provenance"`
}
