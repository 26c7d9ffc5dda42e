package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultTokenURL      = "https://oauth2.googleapis.com/token"
	defaultTokenLifetime = time.Hour
	refreshMargin        = 2 * time.Minute

	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// HTTPDoer matches the transport seam used by the provider and
// pipeline clients.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ServiceAccountKey is the parsed Google service-account JSON key.
type ServiceAccountKey struct {
	ClientEmail  string `json:"client_email"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	TokenURI     string `json:"token_uri"`

	signingKey *rsa.PrivateKey
}

// ParseServiceAccountKey decodes a service-account JSON key file and
// parses the embedded PEM private key. Both PKCS#8 and PKCS#1 key
// encodings are accepted.
func ParseServiceAccountKey(raw []byte) (ServiceAccountKey, error) {
	var key ServiceAccountKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return ServiceAccountKey{}, fmt.Errorf("auth: decode service account key: %w", err)
	}
	if strings.TrimSpace(key.ClientEmail) == "" {
		return ServiceAccountKey{}, fmt.Errorf("auth: service account key is missing client_email")
	}

	block, _ := pem.Decode([]byte(key.PrivateKey))
	if block == nil {
		return ServiceAccountKey{}, fmt.Errorf("auth: service account key has no PEM private key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		rsaKey, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return ServiceAccountKey{}, fmt.Errorf("auth: parse service account private key: %w", err)
		}
		key.signingKey = rsaKey
		return key, nil
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return ServiceAccountKey{}, fmt.Errorf("auth: service account private key is not RSA")
	}
	key.signingKey = rsaKey
	return key, nil
}

type ServiceAccountConfig struct {
	Key            ServiceAccountKey
	Scopes         []string
	TokenURL       string
	TokenLifetime  time.Duration
	RequestTimeout time.Duration
	HTTPClient     HTTPDoer
	Now            func() time.Time
}

// ServiceAccountTokenSource exchanges a signed service-account
// assertion for an access token and caches it until shortly before
// expiry. Safe for concurrent use.
type ServiceAccountTokenSource struct {
	key        ServiceAccountKey
	scopes     []string
	tokenURL   string
	lifetime   time.Duration
	httpClient HTTPDoer
	nowFn      func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewServiceAccountTokenSource(cfg ServiceAccountConfig) (*ServiceAccountTokenSource, error) {
	if cfg.Key.signingKey == nil {
		return nil, fmt.Errorf("auth: service account key is not parsed")
	}
	if len(cfg.Scopes) == 0 {
		return nil, fmt.Errorf("auth: at least one scope is required")
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = strings.TrimSpace(cfg.Key.TokenURI)
	}
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	lifetime := cfg.TokenLifetime
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &ServiceAccountTokenSource{
		key:        cfg.Key,
		scopes:     append([]string(nil), cfg.Scopes...),
		tokenURL:   tokenURL,
		lifetime:   lifetime,
		httpClient: httpClient,
		nowFn:      nowFn,
	}, nil
}

func (s *ServiceAccountTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	if s.accessToken != "" && now.Before(s.expiresAt.Add(-refreshMargin)) {
		return s.accessToken, nil
	}

	token, expiresIn, err := s.exchange(ctx, now)
	if err != nil {
		return "", err
	}
	s.accessToken = token
	s.expiresAt = now.Add(expiresIn)
	return token, nil
}

func (s *ServiceAccountTokenSource) exchange(ctx context.Context, now time.Time) (string, time.Duration, error) {
	assertion, err := buildRS256JWT(s.key.PrivateKeyID, s.key.signingKey, map[string]any{
		"iss":   s.key.ClientEmail,
		"scope": strings.Join(s.scopes, " "),
		"aud":   s.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(s.lifetime).Unix(),
	})
	if err != nil {
		return "", 0, err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("auth: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("auth: token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, fmt.Errorf("auth: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("auth: token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, fmt.Errorf("auth: decode token response: %w", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return "", 0, fmt.Errorf("auth: token endpoint returned empty access token")
	}
	expiresIn := time.Duration(payload.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = s.lifetime
	}
	return payload.AccessToken, expiresIn, nil
}
