package toolkit

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// reflector turns a Go argument struct into the flat JSON-Schema object an
// LLM tool-call API expects: no top-level $ref/$defs indirection, since a
// tool's parameter schema is inlined at the call site rather than reused
// across definitions.
var reflector = &jsonschema.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
}

// GenerateSchema reflects a zero value of a tool's argument struct into its
// ParameterSchema, so a field added to the struct (with a `jsonschema` tag
// for description/required) stays in sync with what the model is told
// without a hand-maintained JSON literal drifting out of step.
func GenerateSchema(args any) json.RawMessage {
	schema := reflector.Reflect(args)
	schema.Version = ""
	b, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(b)
}
