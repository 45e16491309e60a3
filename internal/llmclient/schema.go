// internal/llmclient/schema.go
package llmclient

import (
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
	"google.golang.org/genai"

	"github.com/xkilldash9x/director/api/schemas"
)

// toGenaiSchema converts the neutral schema into Gemini's OpenAPI subset.
func toGenaiSchema(s *schemas.ResponseSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(string(s.Type))),
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
	}
	// Gemini only accepts "enum" and "date-time" as string formats.
	if s.Format == "date-time" {
		out.Format = s.Format
	}
	if len(s.Enum) > 0 {
		out.Format = "enum"
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
		out.PropertyOrdering = propertyOrder(s)
	}
	if s.Items != nil {
		out.Items = toGenaiSchema(s.Items)
	}
	return out
}

// propertyOrder keeps required properties first and in declaration order, which
// makes Gemini emit reasoning fields before the action they justify.
func propertyOrder(s *schemas.ResponseSchema) []string {
	seen := make(map[string]bool, len(s.Properties))
	order := make([]string, 0, len(s.Properties))
	for _, name := range s.Required {
		if _, ok := s.Properties[name]; ok && !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	for name := range s.Properties {
		if !seen[name] {
			order = append(order, name)
		}
	}
	return order
}

// toOpenAISchema converts the neutral schema into a strict JSON schema definition.
// Strict mode requires every object to forbid additional properties.
func toOpenAISchema(s *schemas.ResponseSchema) jsonschema.Definition {
	if s == nil {
		return jsonschema.Definition{}
	}
	def := jsonschema.Definition{
		Type:        jsonschema.DataType(s.Type),
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
	}
	if s.Format == "uri" || s.Format == "url" {
		def.Description = strings.TrimSpace(def.Description + " Must be an absolute http(s) URL.")
	}
	if s.Type == schemas.SchemaObject {
		def.AdditionalProperties = false
		def.Properties = make(map[string]jsonschema.Definition, len(s.Properties))
		for name, prop := range s.Properties {
			def.Properties[name] = toOpenAISchema(prop)
		}
	}
	if s.Items != nil {
		items := toOpenAISchema(s.Items)
		def.Items = &items
	}
	return def
}
