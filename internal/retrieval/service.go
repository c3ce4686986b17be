package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"query-orchestrator/internal/common/config"
	commonhttp "query-orchestrator/internal/common/http"
	"query-orchestrator/internal/models"
)

// ServiceProvider calls one endpoint of a structured retrieval service.
type ServiceProvider struct {
	kind     models.ServiceKind
	endpoint config.ServiceEndpoint
	priority int
	client   *commonhttp.Client
}

func NewServiceProvider(kind models.ServiceKind, ep config.ServiceEndpoint, priority int, client *commonhttp.Client) (*ServiceProvider, error) {
	if ep.BaseURL == "" {
		return nil, fmt.Errorf("%s service %q has no base_url", kind, ep.Name)
	}
	if ep.Name == "" {
		ep.Name = string(kind)
	}
	return &ServiceProvider{kind: kind, endpoint: ep, priority: priority, client: client}, nil
}

func (p *ServiceProvider) Name() string                { return p.endpoint.Name }
func (p *ServiceProvider) Class() models.ProviderClass { return models.ClassService }
func (p *ServiceProvider) Kind() models.ServiceKind    { return p.kind }

func (p *ServiceProvider) buildURL(req models.RetrievalRequest) string {
	params := url.Values{}
	params.Set("q", req.Query)
	if req.Zone != "" {
		params.Set("zone", req.Zone)
	}
	keys := make([]string, 0, len(req.Entities))
	for k := range req.Entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := req.Entities[k]; v != "" {
			params.Set(k, v)
		}
	}
	return strings.TrimRight(p.endpoint.BaseURL, "/") + "/" + string(p.kind) + "?" + params.Encode()
}

func (p *ServiceProvider) Retrieve(ctx context.Context, req models.RetrievalRequest) ([]models.RetrievalResult, error) {
	target := p.buildURL(req)
	headers := map[string]string{}
	if p.endpoint.APIKey != "" {
		headers["X-API-Key"] = p.endpoint.APIKey
	}

	resp, err := p.client.Do(ctx, commonhttp.Request{URL: target, Headers: headers})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: %w", p.Name(), &commonhttp.StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)})
	}

	result := models.RetrievalResult{
		SourceID:   p.Name() + ":" + string(p.kind),
		Kind:       p.kind,
		Raw:        json.RawMessage(resp.Body),
		Confidence: 0.9,
		Priority:   p.priority,
		URL:        target,
		Provenance: models.Provenance{
			Source:      string(p.kind),
			Provider:    p.Name(),
			Class:       models.ClassService,
			URL:         target,
			RetrievedAt: time.Now().UTC(),
			Attempt:     req.Attempt,
		},
	}
	if normalized, err := Normalize(p.kind, resp.Body); err == nil {
		result.Normalized = normalized
		result.Snippet = Describe(p.kind, normalized)
	}
	return []models.RetrievalResult{result}, nil
}

var (
	containerAliases = map[models.ServiceKind]map[string]string{
		models.ServiceWeather: {
			"current_weather": "current", "currently": "current", "now": "current",
			"daily": "forecast", "forecasts": "forecast",
			"place": "location", "city": "location",
		},
		models.ServiceSports: {
			"events": "games", "matches": "games", "fixtures": "games",
			"table": "standings", "rankings": "standings",
		},
		models.ServiceAirports: {
			"data": "flights", "departures": "flights",
			"airport_info": "airport",
		},
	}
	recordAliases = map[models.ServiceKind]map[string]string{
		models.ServiceWeather: {
			"temp": "temperature", "temp_f": "temperature", "temperature_f": "temperature",
			"condition": "conditions", "description": "conditions", "summary": "conditions",
			"wind": "wind_speed", "wind_mph": "wind_speed",
			"high_f": "high", "low_f": "low",
		},
		models.ServiceSports: {
			"home": "home_team", "away": "away_team",
			"home_points": "home_score", "away_points": "away_score",
			"date": "start_time", "scheduled": "start_time",
			"name": "team", "w": "wins", "l": "losses",
		},
		models.ServiceAirports: {
			"flight": "flight_number", "ident": "flight_number",
			"flight_status": "status",
			"departure": "scheduled_departure", "arrival": "scheduled_arrival",
			"delay": "delay_minutes",
		},
	}
)

// Normalize maps a provider payload into the shared shape for kind: canonical container names
// and canonical field names inside each record.
func Normalize(kind models.ServiceKind, raw []byte) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%s payload is not a JSON object: %w", kind, err)
	}
	containers := containerAliases[kind]
	fields := recordAliases[kind]

	out := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		name := strings.ToLower(key)
		if alias, ok := containers[name]; ok {
			if _, exists := payload[alias]; exists {
				continue
			}
			name = alias
		}
		out[name] = renameFields(value, fields)
	}
	return out, nil
}

func renameFields(v interface{}, aliases map[string]string) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			name := strings.ToLower(k)
			if alias, ok := aliases[name]; ok {
				if _, exists := t[alias]; exists {
					continue
				}
				name = alias
			}
			out[name] = val
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = renameFields(item, aliases)
		}
		return out
	default:
		return v
	}
}

// dataContainers are the containers that carry answerable data for each kind. Anything else
// in a payload (league, units, updated_at) is metadata.
var dataContainers = map[models.ServiceKind][]string{
	models.ServiceWeather:  {"current", "forecast"},
	models.ServiceSports:   {"games", "standings"},
	models.ServiceAirports: {"flights", "airport"},
}

// HasData reports whether a normalized payload of kind carries a non-empty data container.
func HasData(kind models.ServiceKind, normalized map[string]interface{}) bool {
	containers, ok := dataContainers[kind]
	if !ok {
		for _, v := range normalized {
			if nonEmpty(v) {
				return true
			}
		}
		return false
	}
	for _, c := range containers {
		if nonEmpty(normalized[c]) {
			return true
		}
	}
	return false
}

func nonEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case map[string]interface{}:
		for _, inner := range t {
			if nonEmpty(inner) {
				return true
			}
		}
		return false
	case []interface{}:
		return len(t) > 0
	default:
		return true
	}
}
