package form

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	xerrors "AgentStudio/internal/errors"
	"AgentStudio/internal/upload"
	"AgentStudio/pkg/logger"
	"AgentStudio/sdk/go/agentapi"
)

// Mode 区分新建与编辑。
type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// API 定义表单保存和测试通话所需的远端操作，*agentapi.Client 满足该接口。
type API interface {
	CreateAgent(ctx context.Context, payload agentapi.AgentPayload) (agentapi.SavedAgent, error)
	UpdateAgent(ctx context.Context, id string, payload agentapi.AgentPayload) (agentapi.SavedAgent, error)
	StartTestCall(ctx context.Context, id string, payload agentapi.TestCallPayload) error
}

// Form 维护一次智能体编辑会话：字段值、已保存的 ID 以及绑定的上传会话。
type Form struct {
	api    API
	mode   Mode
	logger *slog.Logger

	mu       sync.Mutex
	id       string
	values   Values
	retained []string
	session  *upload.Orchestrator
	unbind   func()
}

// New 创建表单。initial 为 nil 时使用默认值；编辑模式下沿用 initial 的 ID。
func New(api API, mode Mode, initial *agentapi.Agent) *Form {
	f := &Form{
		api:    api,
		mode:   mode,
		logger: logger.Named("form"),
		values: DefaultValues(),
	}
	if initial != nil {
		f.id = initial.ID
		f.values = FromAgent(*initial)
		f.retained = slices.Clone(f.values.Attachments)
	}
	return f
}

// Mode 返回表单模式。
func (f *Form) Mode() Mode { return f.mode }

// Heading 返回表单标题。
func (f *Form) Heading() string {
	if f.mode == ModeEdit {
		return "Edit Agent"
	}
	return "Create Agent"
}

// SaveLabel 返回保存按钮的文字。
func (f *Form) SaveLabel() string {
	if f.mode == ModeEdit {
		return "Save Changes"
	}
	return "Save Agent"
}

// ID 返回已保存的智能体 ID，尚未保存时为空。
func (f *Form) ID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

// Values 返回当前字段值的副本。
func (f *Form) Values() Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.values
	v.Attachments = slices.Clone(f.values.Attachments)
	return v
}

// Update 在锁内修改字段值。附件列表由上传会话维护，fn 对它的修改会被忽略。
func (f *Form) Update(fn func(*Values)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	attachments := f.values.Attachments
	fn(&f.values)
	if f.session != nil {
		f.values.Attachments = attachments
	}
}

// MissingBasicSettings 返回基础设置中未填写的必填项数量。
func (f *Form) MissingBasicSettings() int {
	return f.Values().MissingBasicSettings()
}

// Validate 校验当前字段值。
func (f *Form) Validate() error {
	return f.Values().Validate()
}

// BindUploads 让附件字段跟随上传会话的附件列表。编辑模式下已保存的附件排在会话附件之前。
// 重复绑定会替换之前的会话。
func (f *Form) BindUploads(session *upload.Orchestrator) {
	f.mu.Lock()
	previous := f.unbind
	f.session = session
	f.unbind = nil
	f.mu.Unlock()
	if previous != nil {
		previous()
	}
	if session == nil {
		return
	}

	unbind := session.Subscribe(func(ids []string) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.session != session {
			return
		}
		next := append(slices.Clone(f.retained), ids...)
		if next == nil {
			next = []string{}
		}
		if slices.Equal(f.values.Attachments, next) {
			return
		}
		f.values.Attachments = next
	})
	f.mu.Lock()
	if f.session == session {
		f.unbind = unbind
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	unbind()
}

// Save 校验并保存表单：没有 ID 时创建，否则更新。成功后记录返回的 ID。
func (f *Form) Save(ctx context.Context) (string, error) {
	if f.api == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "表单未配置 API")
	}
	values := f.Values()
	if err := values.Validate(); err != nil {
		return "", err
	}

	id := f.ID()
	var (
		saved agentapi.SavedAgent
		err   error
	)
	if id == "" {
		saved, err = f.api.CreateAgent(ctx, values.Payload())
	} else {
		saved, err = f.api.UpdateAgent(ctx, id, values.Payload())
	}
	if err != nil {
		f.logger.Error("Failed to save agent", slog.String("agent_id", id), slog.Any("error", err))
		return "", err
	}

	f.mu.Lock()
	f.id = saved.ID
	f.mu.Unlock()

	if id == "" {
		f.logger.Info("Agent created successfully", slog.String("agent_id", saved.ID))
	} else {
		f.logger.Info("Agent updated successfully", slog.String("agent_id", saved.ID))
	}
	logger.Audit().Info("智能体已保存",
		slog.String("agent_id", saved.ID),
		slog.Bool("created", id == ""),
		slog.Int("attachments", len(values.Attachments)),
	)
	return saved.ID, nil
}

// StartTestCall 先保存表单再发起测试通话。校验或保存失败时不会调用测试通话接口。
func (f *Form) StartTestCall(ctx context.Context, payload agentapi.TestCallPayload) error {
	id, err := f.Save(ctx)
	if err != nil {
		return err
	}
	if err := f.api.StartTestCall(ctx, id, payload); err != nil {
		f.logger.Error("发起测试通话失败", slog.String("agent_id", id), slog.Any("error", err))
		return err
	}
	f.logger.Info("测试通话已发起", slog.String("agent_id", id))
	return nil
}

// Reset 解除并关闭绑定的上传会话，清空附件（包括已保存的附件）。未完成的上传会被取消。
func (f *Form) Reset(ctx context.Context) error {
	f.mu.Lock()
	session := f.session
	unbind := f.unbind
	f.session = nil
	f.unbind = nil
	f.retained = nil
	f.values.Attachments = []string{}
	f.mu.Unlock()

	if unbind != nil {
		unbind()
	}
	if session == nil {
		return nil
	}
	return session.Close(ctx)
}
