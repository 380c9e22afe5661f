package dashboard

import (
	"strings"
)

// DefaultPageSize 是仪表盘每页显示的智能体数量。
const DefaultPageSize = 5

// SortOrder defines how agents are ordered on the dashboard.
type SortOrder int

const (
	// SortByModifiedDesc orders agents by ModifiedAt descending (most recent first).
	SortByModifiedDesc SortOrder = iota
	// SortByModifiedAsc orders agents by ModifiedAt ascending (oldest first).
	SortByModifiedAsc
	// SortByName orders agents alphabetically, ignoring case.
	SortByName
)

// ListOptions controls which agents appear on a dashboard page.
type ListOptions struct {
	Page     int
	PageSize int
	Query    string
	Types    []string
	Order    SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize > 100 {
		opts.PageSize = 100
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Types != nil {
		opts.Types = normalizeTypes(opts.Types)
	}
	switch opts.Order {
	case SortByModifiedAsc, SortByName:
	default:
		opts.Order = SortByModifiedDesc
	}
	opts.Query = strings.ToLower(strings.TrimSpace(opts.Query))
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithPage selects a 1-based page. Out-of-range pages are clamped.
func WithPage(page int) ListOption {
	return func(opts *ListOptions) {
		opts.Page = page
	}
}

// WithPageSize changes the number of agents per page.
func WithPageSize(size int) ListOption {
	return func(opts *ListOptions) {
		opts.PageSize = size
	}
}

// WithQuery filters agents by a case-insensitive match on name and description.
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) {
		opts.Query = query
	}
}

// WithTypes keeps only agents with the given call types.
func WithTypes(types ...string) ListOption {
	return func(opts *ListOptions) {
		opts.Types = append(opts.Types[:0], types...)
	}
}

// WithSortOrder changes the returned order of agents.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// buildListOptions applies option functions on top of defaults.
func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeTypes(input []string) []string {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, t := range input {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "inbound" && t != "outbound" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		result = append(result, t)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
