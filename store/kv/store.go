// Package kvstore talks to a remote key/value service over HTTP. The
// service exposes one document per key and reports revisions through
// ETags, which back the compare-and-swap contract.
package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Outbound-Project/outbound-bot/core"
)

const (
	defaultRequestTimeout    = 10 * time.Second
	maxResponseBodyBytes     = 1 << 20
	headerIfMatch            = "If-Match"
	headerIfNoneMatch        = "If-None-Match"
	headerETag               = "ETag"
	keysEndpointPath         = "/v1/keys"
	entryEndpointPathPrefix  = "/v1/state/"
	authorizationHeaderName  = "Authorization"
	authorizationBearerScope = "Bearer "
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	BaseURL        string
	AuthToken      string
	RequestTimeout time.Duration
	HTTPClient     HTTPDoer
}

// Store maps the state-store contract onto the remote service:
// GET reads entry plus ETag, PUT with If-None-Match creates, PUT with
// If-Match swaps, and a 412 reports a lost swap.
type Store struct {
	baseURL    string
	authToken  string
	timeout    time.Duration
	httpClient HTTPDoer
}

func New(cfg Config) (*Store, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("kvstore: base url is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Store{
		baseURL:    baseURL,
		authToken:  strings.TrimSpace(cfg.AuthToken),
		timeout:    timeout,
		httpClient: httpClient,
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, string, bool, error) {
	response, err := s.do(ctx, http.MethodGet, s.entryURL(key), nil, nil)
	if err != nil {
		return nil, "", false, err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		body, readErr := readBody(response.Body)
		if readErr != nil {
			return nil, "", false, fmt.Errorf("kvstore: read entry %q: %w", key, readErr)
		}
		return body, response.Header.Get(headerETag), true, nil
	case http.StatusNotFound:
		return nil, "", false, nil
	default:
		return nil, "", false, unexpectedStatus("read", key, response)
	}
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	response, err := s.do(ctx, http.MethodPut, s.entryURL(key), value, nil)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusOK || response.StatusCode == http.StatusCreated ||
		response.StatusCode == http.StatusNoContent {
		return nil
	}
	return unexpectedStatus("write", key, response)
}

func (s *Store) CompareAndSwap(ctx context.Context, key, expectedVersion string, value []byte) (bool, error) {
	headers := map[string]string{}
	if strings.TrimSpace(expectedVersion) == "" {
		headers[headerIfNoneMatch] = "*"
	} else {
		headers[headerIfMatch] = expectedVersion
	}

	response, err := s.do(ctx, http.MethodPut, s.entryURL(key), value, headers)
	if err != nil {
		return false, err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return true, nil
	case http.StatusPreconditionFailed, http.StatusConflict:
		return false, nil
	default:
		return false, unexpectedStatus("swap", key, response)
	}
}

func (s *Store) Delete(ctx context.Context, key string) error {
	response, err := s.do(ctx, http.MethodDelete, s.entryURL(key), nil, nil)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusOK || response.StatusCode == http.StatusNoContent ||
		response.StatusCode == http.StatusNotFound {
		return nil
	}
	return unexpectedStatus("delete", key, response)
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	endpoint := s.baseURL + keysEndpointPath
	if strings.TrimSpace(prefix) != "" {
		endpoint += "?prefix=" + url.QueryEscape(prefix)
	}
	response, err := s.do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, unexpectedStatus("list", prefix, response)
	}
	body, err := readBody(response.Body)
	if err != nil {
		return nil, fmt.Errorf("kvstore: read key listing: %w", err)
	}
	var payload struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("kvstore: decode key listing: %w", err)
	}
	return payload.Keys, nil
}

func (s *Store) do(ctx context.Context, method, endpoint string, body []byte, headers map[string]string) (*http.Response, error) {
	if s == nil || s.httpClient == nil {
		return nil, fmt.Errorf("kvstore: store is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, s.timeout)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(requestCtx, method, endpoint, reader)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("kvstore: build %s request: %w", method, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/octet-stream")
	}
	if s.authToken != "" {
		request.Header.Set(authorizationHeaderName, authorizationBearerScope+s.authToken)
	}
	for name, value := range headers {
		request.Header.Set(name, value)
	}

	response, err := s.httpClient.Do(request)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("kvstore: %s %s: %w", method, endpoint, err)
	}
	response.Body = cancelingReadCloser{ReadCloser: response.Body, cancel: cancel}
	return response, nil
}

func (s *Store) entryURL(key string) string {
	return s.baseURL + entryEndpointPathPrefix + url.PathEscape(key)
}

func readBody(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxResponseBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxResponseBodyBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxResponseBodyBytes)
	}
	return data, nil
}

func unexpectedStatus(op, key string, response *http.Response) error {
	return fmt.Errorf("kvstore: %s %q: unexpected status %d", op, key, response.StatusCode)
}

type cancelingReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelingReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

var (
	_ core.StateStore   = (*Store)(nil)
	_ core.PrefixLister = (*Store)(nil)
)
