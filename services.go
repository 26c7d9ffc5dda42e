package outbound

import "github.com/Outbound-Project/outbound-bot/core"

type Config = core.Config

type StoreConfig = core.StoreConfig

type WebhookConfig = core.WebhookConfig

type WatchConfig = core.WatchConfig

type DispatchConfig = core.DispatchConfig

type WorkflowConfig = core.WorkflowConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type StateStore = core.StateStore
type WatchProvider = core.WatchProvider
type Pipeline = core.Pipeline
type BackoffScheduler = core.BackoffScheduler
type MetricsRecorder = core.MetricsRecorder

type WatchChannel = core.WatchChannel
type WatchStatus = core.WatchStatus

type ChangeEvent = core.ChangeEvent

type DispatchOutcome = core.DispatchOutcome

type RunStatus = core.RunStatus

type ProcessingSummary = core.ProcessingSummary

var (
	WithLogger           = core.WithLogger
	WithLoggerProvider   = core.WithLoggerProvider
	WithMetricsRecorder  = core.WithMetricsRecorder
	WithErrorFactory     = core.WithErrorFactory
	WithErrorMapper      = core.WithErrorMapper
	WithConfigProvider   = core.WithConfigProvider
	WithOptionsResolver  = core.WithOptionsResolver
	WithStateStore       = core.WithStateStore
	WithWatchProvider    = core.WithWatchProvider
	WithPipeline         = core.WithPipeline
	WithBackoffScheduler = core.WithBackoffScheduler
	WithNowFunc          = core.WithNowFunc
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
