package agentapi

import (
	"context"
	"strings"

	xerrors "AgentStudio/internal/errors"
)

// Tools toggles the call-handling actions available to an agent.
type Tools struct {
	AllowHangUp   bool `json:"allowHangUp" yaml:"allow_hang_up"`
	AllowCallback bool `json:"allowCallback" yaml:"allow_callback"`
	LiveTransfer  bool `json:"liveTransfer" yaml:"live_transfer"`
}

// AgentPayload is the body of POST /api/agents and PUT /api/agents/:id.
type AgentPayload struct {
	Name               string   `json:"name"`
	Description        string   `json:"description,omitempty"`
	CallType           string   `json:"callType"`
	Language           string   `json:"language"`
	Voice              string   `json:"voice"`
	Prompt             string   `json:"prompt"`
	Model              string   `json:"model"`
	Latency            float64  `json:"latency"`
	Speed              int      `json:"speed"`
	CallScript         string   `json:"callScript,omitempty"`
	ServiceDescription string   `json:"serviceDescription,omitempty"`
	Attachments        []string `json:"attachments"`
	Tools              Tools    `json:"tools"`
}

// Agent is a stored agent as returned by GET /api/agents/:id.
type Agent struct {
	ID string `json:"id"`
	AgentPayload
}

// SavedAgent is the response of a create or update call.
type SavedAgent struct {
	ID string `json:"id"`
}

// AgentSummary is a dashboard row.
type AgentSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	ModifiedAt  string `json:"modifiedAt"`
	Type        string `json:"type"`
	Model       string `json:"model"`
}

// TestCallPayload identifies the person the test call should reach.
type TestCallPayload struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Gender      string `json:"gender"`
	PhoneNumber string `json:"phoneNumber"`
}

// ListAgents returns all agents visible to the caller.
func (c *Client) ListAgents(ctx context.Context) ([]AgentSummary, error) {
	var out []AgentSummary
	if err := c.get(ctx, "/api/agents", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAgent fetches a stored agent.
func (c *Client) GetAgent(ctx context.Context, id string) (Agent, error) {
	endpoint, err := agentPath(id, "")
	if err != nil {
		return Agent{}, err
	}
	var out Agent
	if err := c.get(ctx, endpoint, &out); err != nil {
		return Agent{}, err
	}
	return out, nil
}

// CreateAgent stores a new agent and returns its identifier.
func (c *Client) CreateAgent(ctx context.Context, payload AgentPayload) (SavedAgent, error) {
	var out SavedAgent
	if err := c.post(ctx, "/api/agents", normalizePayload(payload), &out); err != nil {
		return SavedAgent{}, err
	}
	if out.ID == "" {
		return SavedAgent{}, xerrors.New(xerrors.CodeDecode, "save response is missing id")
	}
	return out, nil
}

// UpdateAgent replaces the stored agent id.
func (c *Client) UpdateAgent(ctx context.Context, id string, payload AgentPayload) (SavedAgent, error) {
	endpoint, err := agentPath(id, "")
	if err != nil {
		return SavedAgent{}, err
	}
	var out SavedAgent
	if err := c.put(ctx, endpoint, normalizePayload(payload), &out); err != nil {
		return SavedAgent{}, err
	}
	if out.ID == "" {
		out.ID = id
	}
	return out, nil
}

// StartTestCall asks the backend to place a test call with agent id.
func (c *Client) StartTestCall(ctx context.Context, id string, payload TestCallPayload) error {
	endpoint, err := agentPath(id, "test-call")
	if err != nil {
		return err
	}
	return c.post(ctx, endpoint, payload, nil)
}

func agentPath(id, suffix string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "agent id is required")
	}
	if strings.ContainsAny(id, "/?#") {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "agent id contains reserved characters")
	}
	endpoint := "/api/agents/" + id
	if suffix != "" {
		endpoint += "/" + suffix
	}
	return endpoint, nil
}

func normalizePayload(payload AgentPayload) AgentPayload {
	if payload.Attachments == nil {
		payload.Attachments = []string{}
	}
	return payload
}
