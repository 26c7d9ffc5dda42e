package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultWatchLifetime    = 24 * time.Hour
	defaultRenewalMargin    = 30 * time.Minute
	defaultCheckInterval    = 5 * time.Minute
	defaultBucketWidth      = 2 * time.Minute
	defaultPipelineTimeout  = 5 * time.Minute
	defaultDedupRetention   = 72 * time.Hour
	defaultWebhookTokenName = "X-Goog-Channel-Token"
)

type StoreBackend string

const (
	StoreBackendFile     StoreBackend = "file"
	StoreBackendKV       StoreBackend = "kv"
	StoreBackendSQLite   StoreBackend = "sqlite"
	StoreBackendPostgres StoreBackend = "postgres"
)

type StoreConfig struct {
	Backend      string `koanf:"backend" mapstructure:"backend"`
	Path         string `koanf:"path" mapstructure:"path"`
	BaseURL      string `koanf:"base_url" mapstructure:"base_url"`
	AuthToken    string `koanf:"auth_token" mapstructure:"auth_token"`
	DSN          string `koanf:"dsn" mapstructure:"dsn"`
	CacheEnabled bool   `koanf:"cache_enabled" mapstructure:"cache_enabled"`
}

type WebhookConfig struct {
	Token         string `koanf:"token" mapstructure:"token"`
	TokenHeader   string `koanf:"token_header" mapstructure:"token_header"`
	AllowInsecure bool   `koanf:"allow_insecure" mapstructure:"allow_insecure"`
}

type WatchConfig struct {
	Lifetime      time.Duration `koanf:"lifetime" mapstructure:"lifetime"`
	RenewalMargin time.Duration `koanf:"renewal_margin" mapstructure:"renewal_margin"`
	CheckInterval time.Duration `koanf:"check_interval" mapstructure:"check_interval"`
	CallbackURL   string        `koanf:"callback_url" mapstructure:"callback_url"`
}

// RenewalLead is the window before expiration inside which a channel is
// renewed: the configured safety margin or 20% of the channel lifetime,
// whichever is larger.
func (w WatchConfig) RenewalLead() time.Duration {
	lifetime := w.Lifetime
	if lifetime <= 0 {
		lifetime = defaultWatchLifetime
	}
	margin := w.RenewalMargin
	if margin <= 0 {
		margin = defaultRenewalMargin
	}
	if fraction := lifetime / 5; fraction > margin {
		return fraction
	}
	return margin
}

type DispatchConfig struct {
	BucketWidth     time.Duration `koanf:"bucket_width" mapstructure:"bucket_width"`
	PipelineTimeout time.Duration `koanf:"pipeline_timeout" mapstructure:"pipeline_timeout"`
	DedupRetention  time.Duration `koanf:"dedup_retention" mapstructure:"dedup_retention"`
}

// WorkflowConfig describes one source-to-destination flow. Immutable after
// startup; keyed by workflow id in Config.Workflows.
type WorkflowConfig struct {
	WorkflowID     string              `koanf:"workflow_id" mapstructure:"workflow_id"`
	SourceFolderID string              `koanf:"source_folder_id" mapstructure:"source_folder_id"`
	SheetID        string              `koanf:"sheet_id" mapstructure:"sheet_id"`
	TabName        string              `koanf:"tab_name" mapstructure:"tab_name"`
	StatusCell     string              `koanf:"status_cell" mapstructure:"status_cell"`
	NotifyURL      string              `koanf:"notify_url" mapstructure:"notify_url"`
	CallbackURL    string              `koanf:"callback_url" mapstructure:"callback_url"`
	ForceOverwrite bool                `koanf:"force_overwrite" mapstructure:"force_overwrite"`
	SkipImages     bool                `koanf:"skip_images" mapstructure:"skip_images"`
	Filters        map[string][]string `koanf:"filters" mapstructure:"filters"`
	Columns        []string            `koanf:"columns" mapstructure:"columns"`
	BucketWidth    time.Duration       `koanf:"bucket_width" mapstructure:"bucket_width"`
}

type Config struct {
	ServiceName string                    `koanf:"service_name" mapstructure:"service_name"`
	Store       StoreConfig               `koanf:"store" mapstructure:"store"`
	Webhook     WebhookConfig             `koanf:"webhook" mapstructure:"webhook"`
	Watch       WatchConfig               `koanf:"watch" mapstructure:"watch"`
	Dispatch    DispatchConfig            `koanf:"dispatch" mapstructure:"dispatch"`
	Workflows   map[string]WorkflowConfig `koanf:"workflows" mapstructure:"workflows"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "outbound-bot",
		Store: StoreConfig{
			Backend: string(StoreBackendFile),
			Path:    "outbound-state",
		},
		Webhook: WebhookConfig{
			TokenHeader: defaultWebhookTokenName,
		},
		Watch: WatchConfig{
			Lifetime:      defaultWatchLifetime,
			RenewalMargin: defaultRenewalMargin,
			CheckInterval: defaultCheckInterval,
		},
		Dispatch: DispatchConfig{
			BucketWidth:     defaultBucketWidth,
			PipelineTimeout: defaultPipelineTimeout,
			DedupRetention:  defaultDedupRetention,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch StoreBackend(strings.TrimSpace(strings.ToLower(c.Store.Backend))) {
	case StoreBackendFile, StoreBackendKV, StoreBackendSQLite, StoreBackendPostgres:
	default:
		return fmt.Errorf("core: invalid store backend %q", c.Store.Backend)
	}
	for id, wf := range c.Workflows {
		if strings.TrimSpace(wf.SourceFolderID) == "" {
			return fmt.Errorf("core: workflow %q: source_folder_id is required", id)
		}
		if strings.TrimSpace(wf.SheetID) == "" {
			return fmt.Errorf("core: workflow %q: sheet_id is required", id)
		}
	}
	return nil
}

// ValidateStrict adds the startup-only rules on top of Validate: webhook
// verification is fail-closed, so a resolved config without a shared
// channel token is refused unless insecure mode is explicit.
func (c Config) ValidateStrict() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Webhook.Token) == "" && !c.Webhook.AllowInsecure {
		return fmt.Errorf("core: webhook token is required unless allow_insecure is set")
	}
	return nil
}

// Workflow returns the configuration for a workflow id, filling in the id
// and the global bucket width when the entry leaves them unset.
func (c Config) Workflow(workflowID string) (WorkflowConfig, bool) {
	wf, ok := c.Workflows[strings.TrimSpace(workflowID)]
	if !ok {
		return WorkflowConfig{}, false
	}
	if strings.TrimSpace(wf.WorkflowID) == "" {
		wf.WorkflowID = strings.TrimSpace(workflowID)
	}
	if wf.BucketWidth <= 0 {
		wf.BucketWidth = c.Dispatch.BucketWidth
	}
	if wf.BucketWidth <= 0 {
		wf.BucketWidth = defaultBucketWidth
	}
	if strings.TrimSpace(wf.CallbackURL) == "" {
		wf.CallbackURL = c.Watch.CallbackURL
	}
	return wf, true
}
