package agentapi

import "context"

// Language is an entry of GET /api/languages.
type Language struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Voice is an entry of GET /api/voices.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Tag      string `json:"tag"`
	Language string `json:"language"`
}

// Prompt is an entry of GET /api/prompts.
type Prompt struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Model is an entry of GET /api/models.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListLanguages returns the languages available to agents.
func (c *Client) ListLanguages(ctx context.Context) ([]Language, error) {
	var out []Language
	if err := c.get(ctx, "/api/languages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListVoices returns the synthesis voices.
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	var out []Voice
	if err := c.get(ctx, "/api/voices", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPrompts returns the prompt presets.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var out []Prompt
	if err := c.get(ctx, "/api/prompts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListModels returns the model tiers.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var out []Model
	if err := c.get(ctx, "/api/models", &out); err != nil {
		return nil, err
	}
	return out, nil
}
