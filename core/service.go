package core

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config          Config
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

	watchManager *WatchManager
	dedupGuard   *DedupGuard
	dispatcher   *Dispatcher
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorFactory    ErrorFactory
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	StateStore      StateStore
	WatchProvider   WatchProvider
	Pipeline        Pipeline
	Backoff         BackoffScheduler
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("outbound", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("outbound"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.nowFn == nil {
		builder.nowFn = func() time.Time { return time.Now().UTC() }
	}
	if builder.backoff == nil {
		builder.backoff = ExponentialBackoffScheduler{
			Initial: defaultRenewInitialBackoff,
			Max:     defaultRenewMaxBackoff,
		}
	}
	if builder.stateStore == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: state store is required"))
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if err := finalConfig.ValidateStrict(); err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	guard := NewDedupGuard(builder.stateStore, builder.nowFn)
	var manager *WatchManager
	if builder.watchProvider != nil {
		manager = NewWatchManager(
			builder.stateStore,
			builder.watchProvider,
			finalConfig.Watch,
			finalConfig.Webhook.Token,
			logger,
			builder.nowFn,
		)
	}
	var dispatcher *Dispatcher
	if builder.pipeline != nil {
		dispatcher = NewDispatcher(
			guard,
			builder.pipeline,
			builder.stateStore,
			finalConfig.Dispatch.PipelineTimeout,
			logger,
			builder.nowFn,
		)
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		stateStore:      builder.stateStore,
		watchProvider:   builder.watchProvider,
		pipeline:        builder.pipeline,
		backoff:         builder.backoff,
		nowFn:           builder.nowFn,
		watchManager:    manager,
		dedupGuard:      guard,
		dispatcher:      dispatcher,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorFactory:    s.errorFactory,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		StateStore:      s.stateStore,
		WatchProvider:   s.watchProvider,
		Pipeline:        s.pipeline,
		Backoff:         s.backoff,
	}
}

func (s *Service) WorkflowIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.config.Workflows))
	for id := range s.config.Workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EnsureActiveWatch renews the workflow's watch channel if it is missing
// or inside the renewal lead window, and returns the active channel.
func (s *Service) EnsureActiveWatch(ctx context.Context, workflowID string) (channel WatchChannel, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"workflow_id": workflowID}
	defer func() {
		if channel.ChannelID != "" {
			fields["channel_id"] = channel.ChannelID
		}
		s.observeOperation(ctx, startedAt, "ensure_active_watch", err, fields)
	}()

	wf, err := s.resolveWorkflow(workflowID)
	if err != nil {
		return WatchChannel{}, err
	}
	if s.watchManager == nil {
		err = s.mapError(fmt.Errorf("core: watch provider is not configured"))
		return WatchChannel{}, err
	}
	channel, renewed, err := s.watchManager.EnsureActive(ctx, wf)
	if err != nil {
		err = s.mapError(err)
		return WatchChannel{}, err
	}
	fields["renewed"] = renewed
	return channel, nil
}

// RenewWatch force-registers a replacement channel.
func (s *Service) RenewWatch(ctx context.Context, workflowID string) (channel WatchChannel, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"workflow_id": workflowID}
	defer func() {
		if channel.ChannelID != "" {
			fields["channel_id"] = channel.ChannelID
		}
		s.observeOperation(ctx, startedAt, "renew_watch", err, fields)
	}()

	wf, err := s.resolveWorkflow(workflowID)
	if err != nil {
		return WatchChannel{}, err
	}
	if s.watchManager == nil {
		err = s.mapError(fmt.Errorf("core: watch provider is not configured"))
		return WatchChannel{}, err
	}
	channel, err = s.watchManager.Renew(ctx, wf)
	if err != nil {
		err = s.mapError(err)
		return WatchChannel{}, err
	}
	return channel, nil
}

func (s *Service) StopWatch(ctx context.Context, workflowID string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"workflow_id": workflowID}
	defer func() {
		s.observeOperation(ctx, startedAt, "stop_watch", err, fields)
	}()

	if _, err = s.resolveWorkflow(workflowID); err != nil {
		return err
	}
	if s.watchManager == nil {
		err = s.mapError(fmt.Errorf("core: watch provider is not configured"))
		return err
	}
	if err = s.watchManager.Stop(ctx, workflowID); err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

func (s *Service) WatchStatus(ctx context.Context, workflowID string) (WatchStatus, error) {
	if _, err := s.resolveWorkflow(workflowID); err != nil {
		return WatchStatus{}, err
	}
	if s.watchManager == nil {
		return WatchStatus{}, s.mapError(fmt.Errorf("core: watch provider is not configured"))
	}
	status, err := s.watchManager.Status(ctx, workflowID)
	if err != nil {
		return WatchStatus{}, s.mapError(err)
	}
	return status, nil
}

// HandleNotification processes a verified provider push. An expired stored
// channel is renewed lazily before dispatch so a missed renewal tick does
// not drop the change.
func (s *Service) HandleNotification(ctx context.Context, workflowID string, event ChangeEvent) (outcome DispatchOutcome, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"workflow_id":    workflowID,
		"resource_state": event.ResourceState,
	}
	defer func() {
		if outcome.Fingerprint != "" {
			fields["fingerprint"] = outcome.Fingerprint
		}
		if outcome.Claim != "" {
			fields["claim"] = string(outcome.Claim)
		}
		s.observeOperation(ctx, startedAt, "handle_notification", err, fields)
	}()

	wf, err := s.resolveWorkflow(workflowID)
	if err != nil {
		return DispatchOutcome{}, err
	}
	if s.dispatcher == nil {
		err = s.mapError(fmt.Errorf("core: pipeline is not configured"))
		return DispatchOutcome{}, err
	}

	if s.watchManager != nil && !event.Handshake() {
		if status, statusErr := s.watchManager.Status(ctx, workflowID); statusErr == nil && status.State == WatchStateExpired {
			if _, _, renewErr := s.watchManager.EnsureActive(ctx, wf); renewErr != nil {
				s.logError(ctx, "lazy watch renewal failed", map[string]any{
					"workflow_id": workflowID,
					"error":       renewErr.Error(),
				})
			}
		}
	}

	outcome, err = s.dispatcher.Dispatch(ctx, wf, event)
	if err != nil {
		err = s.mapError(err)
		return outcome, err
	}
	return outcome, nil
}

// RunWorkflow triggers the pipeline outside of a provider notification.
func (s *Service) RunWorkflow(ctx context.Context, workflowID string, force bool) (outcome DispatchOutcome, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"workflow_id": workflowID,
		"force":       force,
	}
	defer func() {
		if outcome.Claim != "" {
			fields["claim"] = string(outcome.Claim)
		}
		s.observeOperation(ctx, startedAt, "run_workflow", err, fields)
	}()

	wf, err := s.resolveWorkflow(workflowID)
	if err != nil {
		return DispatchOutcome{}, err
	}
	if s.dispatcher == nil {
		err = s.mapError(fmt.Errorf("core: pipeline is not configured"))
		return DispatchOutcome{}, err
	}
	outcome, err = s.dispatcher.Run(ctx, wf, force)
	if err != nil {
		err = s.mapError(err)
		return outcome, err
	}
	return outcome, nil
}

func (s *Service) WorkflowStatus(ctx context.Context, workflowID string) (RunStatus, bool, error) {
	if _, err := s.resolveWorkflow(workflowID); err != nil {
		return RunStatus{}, false, err
	}
	if s.dispatcher == nil {
		return RunStatus{}, false, s.mapError(fmt.Errorf("core: pipeline is not configured"))
	}
	status, found, err := s.dispatcher.Status(ctx, workflowID)
	if err != nil {
		return RunStatus{}, false, s.mapError(err)
	}
	return status, found, nil
}

// SweepDedup opportunistically removes dedup records past the retention
// window. Errors are logged, never surfaced.
func (s *Service) SweepDedup(ctx context.Context, workflowID string) {
	if s == nil || s.dedupGuard == nil {
		return
	}
	removed, err := s.dedupGuard.Sweep(ctx, workflowID, s.config.Dispatch.DedupRetention)
	if err != nil {
		s.logError(ctx, "dedup sweep failed", map[string]any{
			"workflow_id": workflowID,
			"error":       err.Error(),
		})
		return
	}
	if removed > 0 {
		s.logInfo(ctx, "dedup sweep removed records", map[string]any{
			"workflow_id": workflowID,
			"removed":     removed,
		})
	}
}

func (s *Service) resolveWorkflow(workflowID string) (WorkflowConfig, error) {
	if s == nil {
		return WorkflowConfig{}, fmt.Errorf("core: service is nil")
	}
	workflowID = strings.TrimSpace(workflowID)
	wf, ok := s.config.Workflow(workflowID)
	if !ok {
		wrapped := s.errorFactory(
			fmt.Sprintf("workflow %q not configured", workflowID),
			goerrors.CategoryNotFound,
		).WithCode(http.StatusNotFound).WithTextCode(ServiceErrorUnknownWorkflow)
		return WorkflowConfig{}, wrapped.WithMetadata(map[string]any{"workflow_id": workflowID})
	}
	return wf, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
