package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

const identifierSchemaJSON = `{
	"type": "object",
	"properties": {
		"identifier": {"type": "string", "minLength": 1},
		"keyPattern": {"type": "string"},
		"description": {"type": "string"},
		"usage": {"type": "string"},
		"source": {"type": "string"},
		"mappingProperties": {"type": "object", "additionalProperties": {"type": "string"}}
	},
	"required": ["identifier"]
}`

var (
	registerSystemSchema = mustResolve(`{
		"type": "object",
		"properties": {"qualifiedName": {"type": "string", "minLength": 1}},
		"required": ["qualifiedName"]
	}`)

	upsertSchema = mustResolve(`{
		"type": "object",
		"properties": {
			"elementGuid": {"type": "string"},
			"elementTypeName": {"type": "string"},
			"systemGuid": {"type": "string"},
			"systemName": {"type": "string"},
			"externalIdentifier": ` + identifierSchemaJSON + `
		},
		"required": ["elementGuid", "elementTypeName", "systemGuid", "externalIdentifier"]
	}`)

	removeSchema = mustResolve(`{
		"type": "object",
		"properties": {
			"elementGuid": {"type": "string"},
			"elementTypeName": {"type": "string"},
			"systemGuid": {"type": "string"},
			"systemName": {"type": "string"},
			"identifier": {"type": "string"}
		},
		"required": ["elementGuid", "elementTypeName", "systemGuid", "identifier"]
	}`)

	confirmSchema = mustResolve(`{
		"type": "object",
		"properties": {
			"elementGuid": {"type": "string"},
			"systemGuid": {"type": "string"},
			"systemName": {"type": "string"},
			"identifier": {"type": "string"}
		},
		"required": ["elementGuid", "systemGuid", "identifier"]
	}`)
)

func mustResolve(raw string) *jsonschema.Resolved {
	var schema jsonschema.Schema
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		panic(fmt.Sprintf("failed to resolve request schema: %v", err))
	}
	return resolved
}

// decodeValidated checks body against schema and then decodes it into v. The body is
// validated as generic JSON first so structural errors are reported before field
// semantics.
func decodeValidated(body []byte, schema *jsonschema.Resolved, v any) error {
	var instance any
	if err := json.Unmarshal(body, &instance); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("request validation failed: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
