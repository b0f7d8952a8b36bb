package parser

import (
	"github.com/google/jsonschema-go/jsonschema"
)

func intPtr(v int) *int { return &v }

func commandSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"type"},
		Properties: map[string]*jsonschema.Schema{
			"id":         {Type: "string"},
			"type":       {Type: "string", MinLength: intPtr(1)},
			"params":     {Type: "object"},
			"isRelative": {Type: "boolean"},
		},
	}
}

// responseSchema describes a provider turn. dataCommands, actionCommands
// and communicationModule are mutually exclusive.
func responseSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"preText"},
		Properties: map[string]*jsonschema.Schema{
			"preText":           {Type: "string", MinLength: intPtr(1)},
			"validationRequest": {Type: "boolean"},
			"dataCommands":      {Type: "array", Items: commandSchema()},
			"actionCommands":    {Type: "array", Items: commandSchema()},
			"postText":          {Type: "string"},
			"communicationModule": {
				Type:     "object",
				Required: []string{"type"},
				Properties: map[string]*jsonschema.Schema{
					"type": {Type: "string", MinLength: intPtr(1)},
					"data": {Type: "object"},
				},
			},
			"keepControl": {Type: "boolean"},
			"completed":   {Type: "boolean"},
		},
		Not: &jsonschema.Schema{
			AnyOf: []*jsonschema.Schema{
				{Required: []string{"dataCommands", "actionCommands"}},
				{Required: []string{"dataCommands", "communicationModule"}},
				{Required: []string{"actionCommands", "communicationModule"}},
			},
		},
	}
}
