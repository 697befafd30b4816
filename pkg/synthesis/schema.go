package synthesis

import (
	"github.com/google/jsonschema-go/jsonschema"
)

func float64Ptr(v float64) *float64 {
	return &v
}

// stringOrList accepts a bare string, a list of strings or null
func stringOrList(description string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Types:       []string{"null", "string", "array"},
		Description: description,
		Items:       &jsonschema.Schema{Type: "string"},
	}
}

// contractSchema is the JSON object the completion must return
var contractSchema = &jsonschema.Schema{
	Type:     "object",
	Required: []string{"recommendation", "confidence"},
	Properties: map[string]*jsonschema.Schema{
		"recommendation": {
			Type:        "string",
			Description: "What to do",
		},
		"reasoning": {
			Types:       []string{"null", "string"},
			Description: "Why",
		},
		"risks":        stringOrList("Risk factors"),
		"risk_factors": stringOrList("Risk factors (alternate key)"),
		"alternatives": stringOrList("Other options considered"),
		"confidence": {
			Type:        "number",
			Description: "Confidence percentage",
			Minimum:     float64Ptr(0),
			Maximum:     float64Ptr(100),
		},
	},
}

var resolvedContract = mustResolve(contractSchema)

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	resolved, err := s.Resolve(nil)
	if err != nil {
		panic("invalid synthesis contract schema: " + err.Error())
	}
	return resolved
}
