package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Outbound-Project/outbound-bot/core"
	"github.com/Outbound-Project/outbound-bot/inbound"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultRequestTimeout = 60 * time.Second

// API exposes the dispatch engine over HTTP. Routes are per workflow:
// webhook ingestion, manual runs, watch administration, and status.
type API struct {
	service        *core.Service
	verifier       *inbound.Verifier
	logger         glog.Logger
	mapper         core.ErrorMapper
	requestTimeout time.Duration
	nowFn          func() time.Time
}

type Option func(*API)

func WithVerifier(verifier *inbound.Verifier) Option {
	return func(a *API) {
		if verifier != nil {
			a.verifier = verifier
		}
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithErrorMapper(mapper core.ErrorMapper) Option {
	return func(a *API) {
		if mapper != nil {
			a.mapper = mapper
		}
	}
}

func WithRequestTimeout(timeout time.Duration) Option {
	return func(a *API) {
		if timeout > 0 {
			a.requestTimeout = timeout
		}
	}
}

func WithNowFunc(nowFn func() time.Time) Option {
	return func(a *API) {
		if nowFn != nil {
			a.nowFn = nowFn
		}
	}
}

func New(service *core.Service, opts ...Option) *API {
	a := &API{
		service:        service,
		logger:         glog.Nop(),
		requestTimeout: defaultRequestTimeout,
		nowFn:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.verifier == nil && service != nil {
		a.verifier = inbound.NewVerifier(service.Config().Webhook)
	}
	if a.mapper == nil && service != nil {
		a.mapper = service.Dependencies().ErrorMapper
	}
	return a
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.requestTimeout))

	r.Get("/health", a.handleHealth)

	r.Route("/{workflow}", func(r chi.Router) {
		r.Post("/webhook", a.handleWebhook)
		r.Post("/run", a.handleRun)
		r.Post("/watch", a.handleEnsureWatch)
		r.Post("/watch/renew", a.handleRenewWatch)
		r.Get("/watch/status", a.handleWatchStatus)
		r.Get("/status", a.handleRunStatus)
	})

	return r
}

type envelope struct {
	Status  string                `json:"status"`
	Detail  string                `json:"detail,omitempty"`
	Code    string                `json:"code,omitempty"`
	Channel *core.WatchChannel    `json:"channel,omitempty"`
	Watch   *core.WatchStatus     `json:"watch,omitempty"`
	Outcome *core.DispatchOutcome `json:"outcome,omitempty"`
	Run     *core.RunStatus       `json:"run,omitempty"`
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Status: "ok"})
}

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflow")

	if err := a.verifier.Verify(r.Context(), r.Header); err != nil {
		a.writeError(w, r, err)
		return
	}
	event, err := inbound.ParseNotification(r.Header, a.nowFn())
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	outcome, err := a.service.HandleNotification(r.Context(), workflowID, event)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	detail := outcome.Detail
	if outcome.Deduped {
		detail = "already processed"
	}
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Detail: detail, Outcome: &outcome})
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflow")
	force := parseForce(r.URL.Query().Get("force"))

	outcome, err := a.service.RunWorkflow(r.Context(), workflowID, force)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	detail := outcome.Detail
	if outcome.Deduped {
		detail = "already processed"
	}
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Detail: detail, Outcome: &outcome})
}

func (a *API) handleEnsureWatch(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflow")

	channel, err := a.service.EnsureActiveWatch(r.Context(), workflowID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Channel: &channel})
}

func (a *API) handleRenewWatch(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflow")

	channel, err := a.service.RenewWatch(r.Context(), workflowID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Channel: &channel})
}

func (a *API) handleWatchStatus(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflow")

	status, err := a.service.WatchStatus(r.Context(), workflowID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Watch: &status})
}

func (a *API) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflow")

	status, found, err := a.service.WorkflowStatus(r.Context(), workflowID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, envelope{
			Status: "error",
			Detail: "no runs recorded",
			Code:   core.ServiceErrorUnknownWorkflow,
		})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Run: &status})
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	mapped := a.mapError(err)
	if mapped.Code >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", mapped.TextCode,
			"error", err,
		)
	} else {
		a.logger.Warn("request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"code", mapped.TextCode,
		)
	}
	writeJSON(w, mapped.Code, envelope{
		Status: "error",
		Detail: mapped.Message,
		Code:   mapped.TextCode,
	})
}

func (a *API) mapError(err error) *goerrors.Error {
	if a.mapper != nil {
		if mapped := a.mapper(err); mapped != nil {
			return mapped
		}
	}
	return goerrors.New("An unexpected error occurred", goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ServiceErrorInternal)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := a.nowFn()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parseForce(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
