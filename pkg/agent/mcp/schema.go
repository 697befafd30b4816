package mcp

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// resolveInputSchema returns nil when the tool declares no input schema
func resolveInputSchema(t *mcp.Tool) (*jsonschema.Resolved, error) {
	if t.InputSchema == nil {
		return nil, nil
	}

	// InputSchema is untyped on the client side, so round-trip it through JSON
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal input schema", goerr.V("tool", t.Name))
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal input schema", goerr.V("tool", t.Name))
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve input schema", goerr.V("tool", t.Name))
	}
	return resolved, nil
}
