package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// envConfigLoader resolves configuration from an optional JSON file plus
// environment overrides. Workflows only come from the file; flat settings
// like the store backend or webhook token can be set per environment.
type envConfigLoader struct {
	path    string
	environ func(string) string
}

func newEnvConfigLoader(path string) *envConfigLoader {
	return &envConfigLoader{path: strings.TrimSpace(path), environ: os.Getenv}
}

var envOverrides = map[string][]string{
	"OUTBOUND_SERVICE_NAME":     {"service_name"},
	"OUTBOUND_STORE_BACKEND":    {"store", "backend"},
	"OUTBOUND_STORE_PATH":       {"store", "path"},
	"OUTBOUND_STORE_BASE_URL":   {"store", "base_url"},
	"OUTBOUND_STORE_AUTH_TOKEN": {"store", "auth_token"},
	"OUTBOUND_STORE_DSN":        {"store", "dsn"},
	"OUTBOUND_WEBHOOK_TOKEN":    {"webhook", "token"},
	"OUTBOUND_CALLBACK_URL":     {"watch", "callback_url"},
}

func (l *envConfigLoader) LoadRaw(_ context.Context) (map[string]any, error) {
	raw := map[string]any{}

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", l.path, err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", l.path, err)
		}
	}

	environ := l.environ
	if environ == nil {
		environ = os.Getenv
	}
	for name, path := range envOverrides {
		value := strings.TrimSpace(environ(name))
		if value == "" {
			continue
		}
		setNested(raw, path, value)
	}
	if environ("OUTBOUND_WEBHOOK_ALLOW_INSECURE") == "1" {
		setNested(raw, []string{"webhook", "allow_insecure"}, true)
	}
	if environ("OUTBOUND_STORE_CACHE") == "1" {
		setNested(raw, []string{"store", "cache_enabled"}, true)
	}
	return raw, nil
}

func setNested(raw map[string]any, path []string, value any) {
	current := raw
	for _, key := range path[:len(path)-1] {
		child, ok := current[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			current[key] = child
		}
		current = child
	}
	current[path[len(path)-1]] = value
}
