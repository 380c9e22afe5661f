package form

import (
	stdErrors "errors"
	"fmt"
	"slices"
	"strings"

	xerrors "AgentStudio/internal/errors"
	"AgentStudio/sdk/go/agentapi"
)

const (
	CallTypeInbound  = "inbound"
	CallTypeOutbound = "outbound"

	DefaultLatency = 0.5
	DefaultSpeed   = 110

	MinLatency = 0.3
	MaxLatency = 1.0
	MinSpeed   = 90
	MaxSpeed   = 130
)

// Values 是智能体表单的全部字段。
type Values struct {
	AgentName          string         `json:"agentName" yaml:"agent_name"`
	Description        string         `json:"description" yaml:"description"`
	CallType           string         `json:"callType" yaml:"call_type"`
	Language           string         `json:"language" yaml:"language"`
	Voice              string         `json:"voice" yaml:"voice"`
	Prompt             string         `json:"prompt" yaml:"prompt"`
	Model              string         `json:"model" yaml:"model"`
	Latency            float64        `json:"latency" yaml:"latency"`
	Speed              int            `json:"speed" yaml:"speed"`
	CallScript         string         `json:"callScript" yaml:"call_script"`
	ServiceDescription string         `json:"serviceDescription" yaml:"service_description"`
	Attachments        []string       `json:"attachments" yaml:"attachments"`
	Tools              agentapi.Tools `json:"tools" yaml:"tools"`
}

// DefaultValues 返回新建智能体时的初始值。
func DefaultValues() Values {
	return Values{
		CallType:    CallTypeInbound,
		Latency:     DefaultLatency,
		Speed:       DefaultSpeed,
		Attachments: []string{},
		Tools:       agentapi.Tools{AllowHangUp: true},
	}
}

// FromAgent 以已保存的智能体填充表单，缺失字段使用默认值。
func FromAgent(agent agentapi.Agent) Values {
	v := DefaultValues()
	v.AgentName = agent.Name
	v.Description = agent.Description
	if agent.CallType != "" {
		v.CallType = agent.CallType
	}
	v.Language = agent.Language
	v.Voice = agent.Voice
	v.Prompt = agent.Prompt
	v.Model = agent.Model
	if agent.Latency != 0 {
		v.Latency = agent.Latency
	}
	if agent.Speed != 0 {
		v.Speed = agent.Speed
	}
	v.CallScript = agent.CallScript
	v.ServiceDescription = agent.ServiceDescription
	v.Tools = agent.Tools
	if len(agent.Attachments) > 0 {
		v.Attachments = slices.Clone(agent.Attachments)
	}
	return v
}

// Payload 将表单值转换为保存请求体。
func (v Values) Payload() agentapi.AgentPayload {
	attachments := append([]string{}, v.Attachments...)
	return agentapi.AgentPayload{
		Name:               v.AgentName,
		Description:        v.Description,
		CallType:           v.CallType,
		Language:           v.Language,
		Voice:              v.Voice,
		Prompt:             v.Prompt,
		Model:              v.Model,
		Latency:            v.Latency,
		Speed:              v.Speed,
		CallScript:         v.CallScript,
		ServiceDescription: v.ServiceDescription,
		Attachments:        attachments,
		Tools:              v.Tools,
	}
}

// MissingBasicSettings 统计基础设置中尚未填写的必填项数量。
func (v Values) MissingBasicSettings() int {
	missing := 0
	for _, field := range []string{v.AgentName, v.CallType, v.Language, v.Voice, v.Prompt, v.Model} {
		if strings.TrimSpace(field) == "" {
			missing++
		}
	}
	return missing
}

// FieldError 描述单个字段的校验失败。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError 汇总全部字段错误。
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return strings.Join(parts, "; ")
}

// Message 返回指定字段的错误信息，没有错误时返回空串。
func (e *ValidationError) Message(field string) string {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Message
		}
	}
	return ""
}

// Validate 校验表单，失败时返回包裹 *ValidationError 的 VALIDATION_FAILED 错误。
func (v Values) Validate() error {
	var fields []FieldError
	required := []struct {
		field, value, message string
	}{
		{"agentName", v.AgentName, "Agent name is required"},
		{"callType", v.CallType, "Call type is required"},
		{"language", v.Language, "Language is required"},
		{"voice", v.Voice, "Voice is required"},
		{"prompt", v.Prompt, "Prompt is required"},
		{"model", v.Model, "Model is required"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			fields = append(fields, FieldError{Field: r.field, Message: r.message})
		}
	}
	if v.CallType != "" && v.CallType != CallTypeInbound && v.CallType != CallTypeOutbound {
		fields = append(fields, FieldError{Field: "callType", Message: "Call type must be inbound or outbound"})
	}
	if v.Latency < MinLatency || v.Latency > MaxLatency {
		fields = append(fields, FieldError{Field: "latency", Message: fmt.Sprintf("Latency must be between %.1f and %.0f", MinLatency, MaxLatency)})
	}
	if v.Speed < MinSpeed || v.Speed > MaxSpeed {
		fields = append(fields, FieldError{Field: "speed", Message: fmt.Sprintf("Speed must be between %d and %d", MinSpeed, MaxSpeed)})
	}
	if len(fields) == 0 {
		return nil
	}
	return xerrors.Wrap(xerrors.CodeValidation, &ValidationError{Fields: fields}, "agent form is invalid",
		xerrors.WithMetadata("fields", fmt.Sprint(len(fields))),
	)
}

// FieldErrors 从 Validate 返回的错误中提取字段错误。
func FieldErrors(err error) []FieldError {
	var verr *ValidationError
	if stdErrors.As(err, &verr) {
		return append([]FieldError(nil), verr.Fields...)
	}
	return nil
}
