package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	xerrors "AgentStudio/internal/errors"
	"AgentStudio/pkg/logger"
	"AgentStudio/sdk/go/agentapi"
)

// LoadFailedMessage 是下拉数据加载失败时展示给用户的提示。
const LoadFailedMessage = "Failed to load data. Please try again."

// Source 标识一类参考数据。
type Source string

const (
	SourceLanguages Source = "languages"
	SourceVoices    Source = "voices"
	SourcePrompts   Source = "prompts"
	SourceModels    Source = "models"
)

// Sources 按展示顺序列出全部参考数据。
var Sources = []Source{SourceLanguages, SourceVoices, SourcePrompts, SourceModels}

// Fetcher 定义参考数据的读取能力，*agentapi.Client 满足该接口。
type Fetcher interface {
	ListLanguages(ctx context.Context) ([]agentapi.Language, error)
	ListVoices(ctx context.Context) ([]agentapi.Voice, error)
	ListPrompts(ctx context.Context) ([]agentapi.Prompt, error)
	ListModels(ctx context.Context) ([]agentapi.Model, error)
}

// State 保存单个数据源的加载状态。
type State[T any] struct {
	Items   []T    `json:"items"`
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

func (s State[T]) clone() State[T] {
	if s.Items != nil {
		s.Items = slices.Clone(s.Items)
	}
	return s
}

// Snapshot 是四类参考数据在某一时刻的副本。
type Snapshot struct {
	Languages State[agentapi.Language] `json:"languages"`
	Voices    State[agentapi.Voice]    `json:"voices"`
	Prompts   State[agentapi.Prompt]   `json:"prompts"`
	Models    State[agentapi.Model]    `json:"models"`
}

// AnyLoading 报告是否仍有数据源在加载。
func (s Snapshot) AnyLoading() bool {
	return s.Languages.Loading || s.Voices.Loading || s.Prompts.Loading || s.Models.Loading
}

// Catalog 并发加载表单下拉框所需的参考数据，每个数据源独立维护状态。
type Catalog struct {
	fetcher Fetcher
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger

	mu        sync.RWMutex
	languages State[agentapi.Language]
	voices    State[agentapi.Voice]
	prompts   State[agentapi.Prompt]
	models    State[agentapi.Model]
}

// Option 定义可选配置。
type Option func(*Catalog)

// WithCache 配置缓存，加载时优先读取缓存。
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Catalog) {
		c.cache = cache
		c.ttl = ttl
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// New 创建 Catalog。
func New(fetcher Fetcher, opts ...Option) *Catalog {
	c := &Catalog{
		fetcher: fetcher,
		logger:  logger.Named("catalog"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Load 并发加载全部数据源。单个数据源失败不影响其他数据源：
// 失败的数据源列表被清空并记录 LoadFailedMessage，取消导致的失败被忽略并保留原有数据。
// 返回值汇总非取消类的失败。
func (c *Catalog) Load(ctx context.Context) error {
	if c.fetcher == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置参考数据来源")
	}
	var g errgroup.Group
	errs := make([]error, len(Sources))
	g.Go(func() error {
		errs[0] = loadSource(ctx, c, SourceLanguages, &c.languages, c.fetcher.ListLanguages)
		return nil
	})
	g.Go(func() error {
		errs[1] = loadSource(ctx, c, SourceVoices, &c.voices, c.fetcher.ListVoices)
		return nil
	})
	g.Go(func() error {
		errs[2] = loadSource(ctx, c, SourcePrompts, &c.prompts, c.fetcher.ListPrompts)
		return nil
	})
	g.Go(func() error {
		errs[3] = loadSource(ctx, c, SourceModels, &c.models, c.fetcher.ListModels)
		return nil
	})
	_ = g.Wait()
	return errors.Join(errs...)
}

func loadSource[T any](ctx context.Context, c *Catalog, source Source, state *State[T], fetch func(context.Context) ([]T, error)) error {
	c.mu.Lock()
	state.Loading = true
	state.Error = ""
	c.mu.Unlock()

	key := cacheKey(source)
	if c.cache != nil {
		var cached []T
		hit, err := c.cache.Get(ctx, key, &cached)
		if err != nil {
			c.logger.Warn("读取参考数据缓存失败", slog.String("source", string(source)), slog.Any("error", err))
		}
		if hit {
			if cached == nil {
				cached = []T{}
			}
			c.mu.Lock()
			state.Items = cached
			state.Loading = false
			c.mu.Unlock()
			c.logger.Debug("命中参考数据缓存", slog.String("source", string(source)), slog.Int("items", len(cached)))
			return nil
		}
	}

	items, err := fetch(ctx)
	if err != nil {
		if xerrors.IsAborted(err) || ctx.Err() != nil {
			c.mu.Lock()
			state.Loading = false
			c.mu.Unlock()
			c.logger.Debug("参考数据加载已取消", slog.String("source", string(source)))
			return nil
		}
		c.mu.Lock()
		state.Items = []T{}
		state.Error = LoadFailedMessage
		state.Loading = false
		c.mu.Unlock()
		c.logger.Warn("加载参考数据失败", slog.String("source", string(source)), slog.Any("error", err))
		return fmt.Errorf("%s: %w", source, err)
	}
	if items == nil {
		items = []T{}
	}

	c.mu.Lock()
	state.Items = items
	state.Loading = false
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, items, c.ttl); err != nil {
			c.logger.Warn("写入参考数据缓存失败", slog.String("source", string(source)), slog.Any("error", err))
		}
	}
	return nil
}

// Snapshot 返回当前全部数据源的副本。
func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Languages: c.languages.clone(),
		Voices:    c.voices.clone(),
		Prompts:   c.prompts.clone(),
		Models:    c.models.clone(),
	}
}

// Invalidate 清除指定数据源的缓存，未指定时清除全部。
func (c *Catalog) Invalidate(ctx context.Context, sources ...Source) error {
	if c.cache == nil {
		return nil
	}
	if len(sources) == 0 {
		sources = Sources
	}
	var errs []error
	for _, source := range sources {
		if err := c.cache.Delete(ctx, cacheKey(source)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func cacheKey(source Source) string {
	return "reference:" + string(source)
}
