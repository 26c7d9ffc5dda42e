package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// DefaultName is the component name the engine logs under when a
// caller does not pick one.
const DefaultName = "outbound-bot"

// Stack bundles the resolved logging surfaces for one engine
// component: the glog pair plus their go-job equivalents so queue
// workers log through the same sink.
type Stack struct {
	Provider    glog.LoggerProvider
	Logger      glog.Logger
	JobProvider job.LoggerProvider
	JobLogger   job.Logger
}

// NewStack resolves a logger with precedence provider > logger > nop
// and derives the go-job adapters from whatever won.
func NewStack(name string, provider glog.LoggerProvider, logger glog.Logger) Stack {
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	stack := Stack{Provider: resolvedProvider, Logger: resolvedLogger}
	if resolvedProvider != nil {
		stack.JobProvider = job.GoLoggerProvider(resolvedProvider)
	}
	if resolvedLogger != nil {
		stack.JobLogger = job.GoLogger(resolvedLogger)
	}
	return stack
}
