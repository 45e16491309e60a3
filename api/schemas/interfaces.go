package schemas

import "context"

// -- LLM Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// SchemaType is the subset of JSON schema types used to constrain model output.
type SchemaType string

const (
	SchemaObject  SchemaType = "object"
	SchemaString  SchemaType = "string"
	SchemaArray   SchemaType = "array"
	SchemaInteger SchemaType = "integer"
	SchemaNumber  SchemaType = "number"
	SchemaBoolean SchemaType = "boolean"
)

// ResponseSchema is a provider-neutral description of the structured output a
// caller expects. Each client converts it to its provider's native form.
type ResponseSchema struct {
	Name        string                     `json:"name,omitempty"`
	Type        SchemaType                 `json:"type"`
	Description string                     `json:"description,omitempty"`
	Format      string                     `json:"format,omitempty"`
	Enum        []string                   `json:"enum,omitempty"`
	Properties  map[string]*ResponseSchema `json:"properties,omitempty"`
	Required    []string                   `json:"required,omitempty"`
	Items       *ResponseSchema            `json:"items,omitempty"`
}

// Image is an inline image attached to a prompt.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// prompts, optional images, the desired model tier and an output schema.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Images       []Image           `json:"-"`
	Schema       *ResponseSchema   `json:"schema,omitempty"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}
