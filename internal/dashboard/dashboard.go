package dashboard

import (
	"context"
	"slices"
	"strings"
	"time"

	xerrors "AgentStudio/internal/errors"
	"AgentStudio/sdk/go/agentapi"
)

var dateLayouts = []string{
	"Jan 2, 2006",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate 解析智能体的日期字段，支持展示格式（Jan 2, 2006）与 ISO 格式。
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Page 是一页仪表盘数据。
type Page struct {
	Items      []agentapi.AgentSummary `json:"items"`
	Page       int                     `json:"page"`
	PageSize   int                     `json:"page_size"`
	TotalItems int                     `json:"total_items"`
	TotalPages int                     `json:"total_pages"`
}

// HasPrev 报告是否存在上一页。
func (p Page) HasPrev() bool { return p.Page > 1 }

// HasNext 报告是否存在下一页。
func (p Page) HasNext() bool { return p.Page < p.TotalPages }

// Paginate 对智能体列表做筛选、排序和分页。页码被限制在 [1, TotalPages] 内。
func Paginate(items []agentapi.AgentSummary, opts ...ListOption) Page {
	options := buildListOptions(opts)

	filtered := make([]agentapi.AgentSummary, 0, len(items))
	for _, item := range items {
		if matches(item, options) {
			filtered = append(filtered, item)
		}
	}
	sortAgents(filtered, options.Order)

	total := len(filtered)
	totalPages := (total + options.PageSize - 1) / options.PageSize
	page := options.Page
	if totalPages == 0 {
		page = 1
	} else if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * options.PageSize
	end := min(start+options.PageSize, total)
	if start > total {
		start = total
	}
	return Page{
		Items:      slices.Clone(filtered[start:end]),
		Page:       page,
		PageSize:   options.PageSize,
		TotalItems: total,
		TotalPages: totalPages,
	}
}

func matches(item agentapi.AgentSummary, opts ListOptions) bool {
	if len(opts.Types) > 0 && !slices.Contains(opts.Types, strings.ToLower(item.Type)) {
		return false
	}
	if opts.Query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(item.Name), opts.Query) ||
		strings.Contains(strings.ToLower(item.Description), opts.Query)
}

// sortAgents 稳定排序；无法解析的日期排在最后。
func sortAgents(items []agentapi.AgentSummary, order SortOrder) {
	slices.SortStableFunc(items, func(a, b agentapi.AgentSummary) int {
		if order == SortByName {
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
		ta, okA := ParseDate(a.ModifiedAt)
		tb, okB := ParseDate(b.ModifiedAt)
		switch {
		case !okA && !okB:
			return 0
		case !okA:
			return 1
		case !okB:
			return -1
		}
		if order == SortByModifiedAsc {
			return ta.Compare(tb)
		}
		return tb.Compare(ta)
	})
}

// Lister 定义读取智能体列表的能力，*agentapi.Client 满足该接口。
type Lister interface {
	ListAgents(ctx context.Context) ([]agentapi.AgentSummary, error)
}

// Dashboard 从 API 读取智能体并分页展示。
type Dashboard struct {
	lister Lister
}

// New 创建 Dashboard。
func New(lister Lister) *Dashboard {
	return &Dashboard{lister: lister}
}

// Page 拉取最新的智能体列表并返回指定页。
func (d *Dashboard) Page(ctx context.Context, opts ...ListOption) (Page, error) {
	if d.lister == nil {
		return Page{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置智能体列表来源")
	}
	items, err := d.lister.ListAgents(ctx)
	if err != nil {
		return Page{}, err
	}
	return Paginate(items, opts...), nil
}
