package ragvalidation

import (
	"fmt"

	"query-orchestrator/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// Container shapes and required record fields per service kind. Emptiness, numeric bounds and
// query fit are checked in code.
var schemaDocs = map[models.ServiceKind]string{
	models.ServiceWeather: `{
		"type": "object",
		"anyOf": [{"required": ["current"]}, {"required": ["forecast"]}],
		"properties": {
			"current": {
				"type": "object",
				"anyOf": [{"required": ["temperature"]}, {"required": ["conditions"]}]
			},
			"forecast": {
				"type": "array",
				"items": {
					"type": "object",
					"anyOf": [{"required": ["high"]}, {"required": ["low"]}, {"required": ["conditions"]}]
				}
			}
		}
	}`,
	models.ServiceSports: `{
		"type": "object",
		"anyOf": [{"required": ["games"]}, {"required": ["standings"]}],
		"properties": {
			"games": {
				"type": "array",
				"items": {"type": "object", "required": ["home_team", "away_team"]}
			},
			"standings": {
				"type": "array",
				"items": {"type": "object", "required": ["team"]}
			}
		}
	}`,
	models.ServiceAirports: `{
		"type": "object",
		"anyOf": [{"required": ["flights"]}, {"required": ["airport"]}],
		"properties": {
			"flights": {
				"type": "array",
				"items": {"type": "object", "required": ["flight_number", "status"]}
			},
			"airport": {
				"type": "object",
				"anyOf": [{"required": ["code"]}, {"required": ["name"]}]
			}
		}
	}`,
}

func compileSchemas() (map[models.ServiceKind]*gojsonschema.Schema, error) {
	out := make(map[models.ServiceKind]*gojsonschema.Schema, len(schemaDocs))
	for kind, doc := range schemaDocs {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		out[kind] = schema
	}
	return out, nil
}
