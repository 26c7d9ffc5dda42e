package outbound

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Outbound-Project/outbound-bot/core"
)

type WorkflowPack struct {
	Name      string
	Workflows map[string]core.WorkflowConfig
}

type PipelineFactory func(cfg Config) (core.Pipeline, error)

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	workflowPacks map[string]WorkflowPack
	pipelines     map[string]PipelineFactory
	bundles       map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		workflowPacks: map[string]WorkflowPack{},
		pipelines:     map[string]PipelineFactory{},
		bundles:       map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterWorkflowPack(pack WorkflowPack) error {
	if h == nil {
		return fmt.Errorf("outbound: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("outbound: workflow pack name is required")
	}
	if len(pack.Workflows) == 0 {
		return fmt.Errorf("outbound: workflow pack %q has no workflows", name)
	}

	normalized := WorkflowPack{
		Name:      name,
		Workflows: make(map[string]core.WorkflowConfig, len(pack.Workflows)),
	}
	for id, wf := range pack.Workflows {
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("outbound: workflow pack %q contains a blank workflow id", name)
		}
		normalized.Workflows[id] = wf
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.workflowPacks[name]; exists {
		return fmt.Errorf("outbound: workflow pack %q already registered", name)
	}
	h.workflowPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterPipelineFactory(name string, factory PipelineFactory) error {
	if h == nil {
		return fmt.Errorf("outbound: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("outbound: pipeline factory name is required")
	}
	if factory == nil {
		return fmt.Errorf("outbound: pipeline factory %q is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.pipelines[name]; exists {
		return fmt.Errorf("outbound: pipeline factory %q already registered", name)
	}
	h.pipelines[name] = factory
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("outbound: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("outbound: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("outbound: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("outbound: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyWorkflowPacks merges every registered pack into cfg.Workflows.
// Workflow ids must be unique across the base config and all packs.
func (h *ExtensionHooks) ApplyWorkflowPacks(cfg *Config) error {
	if h == nil {
		return nil
	}
	if cfg == nil {
		return fmt.Errorf("outbound: config is required")
	}
	if cfg.Workflows == nil {
		cfg.Workflows = map[string]core.WorkflowConfig{}
	}

	for _, pack := range h.WorkflowPacks() {
		ids := make([]string, 0, len(pack.Workflows))
		for id := range pack.Workflows {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if _, exists := cfg.Workflows[id]; exists {
				return fmt.Errorf("outbound: workflow pack %q redefines workflow %q", pack.Name, id)
			}
			cfg.Workflows[id] = pack.Workflows[id]
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildPipeline(name string, cfg Config) (core.Pipeline, error) {
	if h == nil {
		return nil, fmt.Errorf("outbound: extension hooks are nil")
	}
	name = strings.TrimSpace(name)

	h.mu.RLock()
	factory, ok := h.pipelines[name]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("outbound: pipeline factory %q is not registered", name)
	}
	return factory(cfg)
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("outbound: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) WorkflowPacks() []WorkflowPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.workflowPacks))
	for name := range h.workflowPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]WorkflowPack, 0, len(names))
	for _, name := range names {
		pack := h.workflowPacks[name]
		copied := WorkflowPack{
			Name:      pack.Name,
			Workflows: make(map[string]core.WorkflowConfig, len(pack.Workflows)),
		}
		for id, wf := range pack.Workflows {
			copied.Workflows[id] = wf
		}
		out = append(out, copied)
	}
	return out
}

func (h *ExtensionHooks) PipelineNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.pipelines))
	for name := range h.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
