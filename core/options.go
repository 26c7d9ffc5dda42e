package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	stateStore      StateStore
	watchProvider   WatchProvider
	pipeline        Pipeline
	backoff         BackoffScheduler
	nowFn           func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithStateStore(store StateStore) Option {
	return func(b *serviceBuilder) {
		b.stateStore = store
	}
}

func WithWatchProvider(provider WatchProvider) Option {
	return func(b *serviceBuilder) {
		b.watchProvider = provider
	}
}

func WithPipeline(pipeline Pipeline) Option {
	return func(b *serviceBuilder) {
		b.pipeline = pipeline
	}
}

func WithBackoffScheduler(scheduler BackoffScheduler) Option {
	return func(b *serviceBuilder) {
		b.backoff = scheduler
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.nowFn = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("outbound", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		nowFn:           func() time.Time { return time.Now().UTC() },
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.Store.Backend) != "" {
		layer["store"] = map[string]any{
			"backend":       cfg.Store.Backend,
			"path":          cfg.Store.Path,
			"base_url":      cfg.Store.BaseURL,
			"auth_token":    cfg.Store.AuthToken,
			"dsn":           cfg.Store.DSN,
			"cache_enabled": cfg.Store.CacheEnabled,
		}
	}
	if includeZero || strings.TrimSpace(cfg.Webhook.Token) != "" || cfg.Webhook.AllowInsecure {
		layer["webhook"] = map[string]any{
			"token":          cfg.Webhook.Token,
			"token_header":   cfg.Webhook.TokenHeader,
			"allow_insecure": cfg.Webhook.AllowInsecure,
		}
	}
	if includeZero || cfg.Watch.Lifetime > 0 || strings.TrimSpace(cfg.Watch.CallbackURL) != "" {
		layer["watch"] = map[string]any{
			"lifetime":       cfg.Watch.Lifetime,
			"renewal_margin": cfg.Watch.RenewalMargin,
			"check_interval": cfg.Watch.CheckInterval,
			"callback_url":   cfg.Watch.CallbackURL,
		}
	}
	if includeZero || cfg.Dispatch.BucketWidth > 0 {
		layer["dispatch"] = map[string]any{
			"bucket_width":     cfg.Dispatch.BucketWidth,
			"pipeline_timeout": cfg.Dispatch.PipelineTimeout,
			"dedup_retention":  cfg.Dispatch.DedupRetention,
		}
	}
	if len(cfg.Workflows) > 0 {
		workflows := make(map[string]any, len(cfg.Workflows))
		for id, wf := range cfg.Workflows {
			workflows[id] = map[string]any{
				"workflow_id":      wf.WorkflowID,
				"source_folder_id": wf.SourceFolderID,
				"sheet_id":         wf.SheetID,
				"tab_name":         wf.TabName,
				"status_cell":      wf.StatusCell,
				"notify_url":       wf.NotifyURL,
				"callback_url":     wf.CallbackURL,
				"force_overwrite":  wf.ForceOverwrite,
				"skip_images":      wf.SkipImages,
				"filters":          wf.Filters,
				"columns":          wf.Columns,
				"bucket_width":     wf.BucketWidth,
			}
		}
		layer["workflows"] = workflows
	}
	return layer
}
