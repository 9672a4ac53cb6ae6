package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lumenlab/flowdeck/pkg/schema"
)

// Per-node-type parameter schemas, JSON Schema Draft 2020-12. Embedded as
// constants to avoid filesystem dependencies. Each schema validates the
// node's Data bag; additionalProperties stays open because Data also
// carries the label and transient editor keys.
var nodeSchemaJSON = map[string]string{
	schema.NodeTypeTriggerManual: `{
	  "$schema": "https://json-schema.org/draft/2020-12/schema",
	  "type": "object"
	}`,

	schema.NodeTypeTriggerWebhook: `{
	  "$schema": "https://json-schema.org/draft/2020-12/schema",
	  "type": "object",
	  "properties": {
	    "path":   { "type": "string", "minLength": 1 },
	    "method": { "type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"] }
	  }
	}`,

	schema.NodeTypeTriggerSchedule: `{
	  "$schema": "https://json-schema.org/draft/2020-12/schema",
	  "type": "object",
	  "required": ["cron"],
	  "properties": {
	    "cron": { "type": "string", "minLength": 1 }
	  }
	}`,

	schema.NodeTypeCondition: `{
	  "$schema": "https://json-schema.org/draft/2020-12/schema",
	  "type": "object",
	  "required": ["expression"],
	  "properties": {
	    "expression": { "type": "string", "minLength": 1 },
	    "language":   { "type": "string", "enum": ["expr", "cel"] }
	  }
	}`,

	schema.NodeTypeActionHTTP: `{
	  "$schema": "https://json-schema.org/draft/2020-12/schema",
	  "type": "object",
	  "required": ["url", "method"],
	  "properties": {
	    "url":     { "type": "string", "minLength": 1, "pattern": "^https?://" },
	    "method":  { "type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"] },
	    "headers": { "type": "object", "additionalProperties": { "type": "string" } },
	    "body":    { "type": "string" }
	  }
	}`,

	schema.NodeTypeActionEmail: `{
	  "$schema": "https://json-schema.org/draft/2020-12/schema",
	  "type": "object",
	  "required": ["to", "subject"],
	  "properties": {
	    "to":      { "type": "string", "minLength": 3, "pattern": "^[^@\\s]+@[^@\\s]+$" },
	    "subject": { "type": "string", "minLength": 1 },
	    "body":    { "type": "string" }
	  }
	}`,

	schema.NodeTypeActionDelay: `{
	  "$schema": "https://json-schema.org/draft/2020-12/schema",
	  "type": "object",
	  "required": ["duration"],
	  "properties": {
	    "duration": { "type": "string", "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$" }
	  }
	}`,

	schema.NodeTypeActionFormat: `{
	  "$schema": "https://json-schema.org/draft/2020-12/schema",
	  "type": "object",
	  "required": ["template"],
	  "properties": {
	    "template": { "type": "string", "minLength": 1 }
	  }
	}`,
}

// schemaRegistry holds the compiled per-node-type schemas.
// Compiled once at construction; safe for concurrent use.
type schemaRegistry struct {
	compiled map[string]*jsonschema.Schema
}

func newSchemaRegistry() (*schemaRegistry, error) {
	compiled := make(map[string]*jsonschema.Schema, len(nodeSchemaJSON))

	for nodeType, src := range nodeSchemaJSON {
		c := jsonschema.NewCompiler()
		c.AssertFormat()

		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema for %s: %w", nodeType, err)
		}

		url := "flowdeck://node-schema/" + nodeType
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource for %s: %w", nodeType, err)
		}

		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", nodeType, err)
		}
		compiled[nodeType] = s
	}

	return &schemaRegistry{compiled: compiled}, nil
}

// Known reports whether a schema exists for the node type.
func (r *schemaRegistry) Known(nodeType string) bool {
	_, ok := r.compiled[nodeType]
	return ok
}

// Validate checks a node's Data against its type schema and appends one
// issue per leaf violation.
func (r *schemaRegistry) Validate(node *schema.Node, path string, result *schema.ValidationResult) {
	s, ok := r.compiled[node.Type]
	if !ok {
		return
	}

	data := node.Data
	if data == nil {
		data = map[string]any{}
	}

	doc, err := toJSONValue(data)
	if err != nil {
		result.AddError(path+".data", CodeInvalidParams, "node data is not JSON-serializable")
		return
	}

	err = s.Validate(doc)
	if err == nil {
		return
	}

	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError(path+".data", CodeInvalidParams, err.Error())
		return
	}

	for _, violation := range collectViolations(verr) {
		result.AddError(path+".data", CodeInvalidParams, violation)
	}
}

// toJSONValue round-trips a Go value through JSON encoding so that numeric
// values become json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
