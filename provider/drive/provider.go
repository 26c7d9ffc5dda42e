// Package drive implements the watch provider against the Google Drive
// v3 REST surface: changes.watch for registration, channels.stop for
// teardown, and changes.getStartPageToken for cursor bootstrap.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Outbound-Project/outbound-bot/core"
)

const (
	defaultBaseURL        = "https://www.googleapis.com/drive/v3"
	defaultRequestTimeout = 15 * time.Second
	maxResponseBodyBytes  = 1 << 20
	maxMediaBodyBytes     = 256 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource yields the bearer token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type staticTokenSource string

func (s staticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

func StaticTokenSource(token string) TokenSource {
	return staticTokenSource(strings.TrimSpace(token))
}

type Config struct {
	BaseURL        string
	TokenSource    TokenSource
	RequestTimeout time.Duration
	HTTPClient     HTTPDoer
	Now            func() time.Time
}

type Provider struct {
	baseURL    string
	tokens     TokenSource
	timeout    time.Duration
	httpClient HTTPDoer
	nowFn      func() time.Time
}

func New(cfg Config) (*Provider, error) {
	if cfg.TokenSource == nil {
		return nil, fmt.Errorf("drive: token source is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Provider{
		baseURL:    baseURL,
		tokens:     cfg.TokenSource,
		timeout:    timeout,
		httpClient: httpClient,
		nowFn:      nowFn,
	}, nil
}

type watchChannelPayload struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Address    string `json:"address"`
	Token      string `json:"token,omitempty"`
	Expiration string `json:"expiration,omitempty"`
}

type watchChannelResponse struct {
	ID         string `json:"id"`
	ResourceID string `json:"resourceId"`
	Expiration string `json:"expiration"`
}

func (p *Provider) Register(ctx context.Context, req core.RegisterWatchRequest) (core.WatchRegistration, error) {
	if strings.TrimSpace(req.ChannelID) == "" {
		return core.WatchRegistration{}, fmt.Errorf("drive: channel id is required")
	}
	if strings.TrimSpace(req.CallbackURL) == "" {
		return core.WatchRegistration{}, fmt.Errorf("drive: callback url is required")
	}

	pageToken, err := p.StartPageToken(ctx)
	if err != nil {
		return core.WatchRegistration{}, fmt.Errorf("drive: changes.watch bootstrap: %w", err)
	}

	payload := watchChannelPayload{
		ID:      req.ChannelID,
		Type:    "web_hook",
		Address: req.CallbackURL,
		Token:   req.Token,
	}
	if req.TTL > 0 {
		expiresAt := p.nowFn().Add(req.TTL)
		payload.Expiration = strconv.FormatInt(expiresAt.UnixMilli(), 10)
	}

	endpoint := p.baseURL + "/changes/watch?pageToken=" + url.QueryEscape(pageToken)
	body, err := p.postJSON(ctx, endpoint, payload)
	if err != nil {
		return core.WatchRegistration{}, fmt.Errorf("drive: changes.watch: %w", err)
	}

	var response watchChannelResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return core.WatchRegistration{}, fmt.Errorf("drive: decode changes.watch response: %w", err)
	}
	if response.ID == "" {
		response.ID = req.ChannelID
	}

	registration := core.WatchRegistration{
		ChannelID:  response.ID,
		ResourceID: response.ResourceID,
	}
	if response.Expiration != "" {
		millis, parseErr := strconv.ParseInt(response.Expiration, 10, 64)
		if parseErr != nil {
			return core.WatchRegistration{}, fmt.Errorf("drive: parse channel expiration %q: %w", response.Expiration, parseErr)
		}
		registration.Expiration = time.UnixMilli(millis).UTC()
	} else if req.TTL > 0 {
		registration.Expiration = p.nowFn().Add(req.TTL)
	}
	return registration, nil
}

func (p *Provider) Stop(ctx context.Context, channelID, resourceID string) error {
	if strings.TrimSpace(channelID) == "" {
		return fmt.Errorf("drive: channel id is required")
	}
	payload := map[string]string{
		"id":         channelID,
		"resourceId": resourceID,
	}
	if _, err := p.postJSON(ctx, p.baseURL+"/channels/stop", payload); err != nil {
		return fmt.Errorf("drive: channels.stop: %w", err)
	}
	return nil
}

func (p *Provider) StartPageToken(ctx context.Context) (string, error) {
	body, err := p.get(ctx, p.baseURL+"/changes/startPageToken")
	if err != nil {
		return "", fmt.Errorf("drive: changes.getStartPageToken: %w", err)
	}
	var response struct {
		StartPageToken string `json:"startPageToken"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("drive: decode start page token: %w", err)
	}
	if response.StartPageToken == "" {
		return "", fmt.Errorf("drive: empty start page token")
	}
	return response.StartPageToken, nil
}

func (p *Provider) postJSON(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return p.do(ctx, http.MethodPost, endpoint, encoded, maxResponseBodyBytes)
}

func (p *Provider) get(ctx context.Context, endpoint string) ([]byte, error) {
	return p.do(ctx, http.MethodGet, endpoint, nil, maxResponseBodyBytes)
}

func (p *Provider) do(ctx context.Context, method, endpoint string, body []byte, maxBodyBytes int64) ([]byte, error) {
	if p == nil || p.httpClient == nil {
		return nil, fmt.Errorf("provider is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(requestCtx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "application/json")

	token, err := p.tokens.Token(requestCtx)
	if err != nil {
		return nil, fmt.Errorf("resolve access token: %w", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := p.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > maxBodyBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxBodyBytes)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status %d: %s", response.StatusCode, summarizeBody(data))
	}
	return data, nil
}

func summarizeBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		text = text[:256]
	}
	return text
}

var _ core.WatchProvider = (*Provider)(nil)
