package auth

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testServiceAccountKey(t *testing.T) (ServiceAccountKey, *rsa.PrivateKey) {
	t.Helper()
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	raw, err := json.Marshal(map[string]string{
		"client_email":   "bot@project.iam.gserviceaccount.com",
		"private_key_id": "key-1",
		"private_key":    string(pemKey),
		"token_uri":      "https://oauth2.example/token",
	})
	if err != nil {
		t.Fatalf("marshal key json: %v", err)
	}
	key, err := ParseServiceAccountKey(raw)
	if err != nil {
		t.Fatalf("parse service account key: %v", err)
	}
	return key, rsaKey
}

type stubTokenDoer struct {
	calls      int
	assertions []string
	status     int
	body       string
}

func (d *stubTokenDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls++
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, err
	}
	if got := form.Get("grant_type"); got != jwtBearerGrant {
		return nil, fmt.Errorf("unexpected grant type %q", got)
	}
	d.assertions = append(d.assertions, form.Get("assertion"))

	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	body := d.body
	if body == "" {
		body = `{"access_token":"token-1","token_type":"Bearer","expires_in":3600}`
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     http.Header{},
	}, nil
}

func TestParseServiceAccountKey_Validation(t *testing.T) {
	if _, err := ParseServiceAccountKey([]byte("{")); err == nil {
		t.Fatalf("expected malformed json error")
	}
	if _, err := ParseServiceAccountKey([]byte(`{"client_email":""}`)); err == nil {
		t.Fatalf("expected missing client_email error")
	}
	if _, err := ParseServiceAccountKey([]byte(`{"client_email":"a@b","private_key":"not pem"}`)); err == nil {
		t.Fatalf("expected pem decode error")
	}
}

func TestServiceAccountTokenSource_ExchangesSignedAssertion(t *testing.T) {
	key, rsaKey := testServiceAccountKey(t)
	doer := &stubTokenDoer{}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	source, err := NewServiceAccountTokenSource(ServiceAccountConfig{
		Key:        key,
		Scopes:     []string{"https://www.googleapis.com/auth/drive.readonly"},
		HTTPClient: doer,
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new token source: %v", err)
	}

	token, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "token-1" {
		t.Fatalf("unexpected access token %q", token)
	}
	if len(doer.assertions) != 1 {
		t.Fatalf("expected one assertion, got %d", len(doer.assertions))
	}

	parts := strings.Split(doer.assertions[0], ".")
	if len(parts) != 3 {
		t.Fatalf("expected three jwt segments, got %d", len(parts))
	}
	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if err := rsa.VerifyPKCS1v15(&rsaKey.PublicKey, crypto.SHA256, digest[:], signature); err != nil {
		t.Fatalf("verify assertion signature: %v", err)
	}

	claimsRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode claims: %v", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(claimsRaw, &claims); err != nil {
		t.Fatalf("unmarshal claims: %v", err)
	}
	if claims["iss"] != "bot@project.iam.gserviceaccount.com" {
		t.Fatalf("unexpected issuer %v", claims["iss"])
	}
	if claims["aud"] != "https://oauth2.example/token" {
		t.Fatalf("unexpected audience %v", claims["aud"])
	}
	if claims["scope"] != "https://www.googleapis.com/auth/drive.readonly" {
		t.Fatalf("unexpected scope %v", claims["scope"])
	}
}

func TestServiceAccountTokenSource_CachesUntilRefreshMargin(t *testing.T) {
	key, _ := testServiceAccountKey(t)
	doer := &stubTokenDoer{}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	source, err := NewServiceAccountTokenSource(ServiceAccountConfig{
		Key:        key,
		Scopes:     []string{"scope-a"},
		HTTPClient: doer,
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new token source: %v", err)
	}

	if _, err := source.Token(context.Background()); err != nil {
		t.Fatalf("first token: %v", err)
	}
	if _, err := source.Token(context.Background()); err != nil {
		t.Fatalf("cached token: %v", err)
	}
	if doer.calls != 1 {
		t.Fatalf("expected cached reuse, got %d exchanges", doer.calls)
	}

	now = now.Add(59 * time.Minute)
	if _, err := source.Token(context.Background()); err != nil {
		t.Fatalf("refreshed token: %v", err)
	}
	if doer.calls != 2 {
		t.Fatalf("expected refresh inside margin, got %d exchanges", doer.calls)
	}
}

func TestServiceAccountTokenSource_ReportsExchangeFailures(t *testing.T) {
	key, _ := testServiceAccountKey(t)

	source, err := NewServiceAccountTokenSource(ServiceAccountConfig{
		Key:        key,
		Scopes:     []string{"scope-a"},
		HTTPClient: &stubTokenDoer{status: http.StatusForbidden, body: `{"error":"access_denied"}`},
	})
	if err != nil {
		t.Fatalf("new token source: %v", err)
	}
	if _, err := source.Token(context.Background()); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 exchange error, got %v", err)
	}

	source, err = NewServiceAccountTokenSource(ServiceAccountConfig{
		Key:        key,
		Scopes:     []string{"scope-a"},
		HTTPClient: &stubTokenDoer{body: `{"token_type":"Bearer"}`},
	})
	if err != nil {
		t.Fatalf("new token source: %v", err)
	}
	if _, err := source.Token(context.Background()); err == nil || !strings.Contains(err.Error(), "empty access token") {
		t.Fatalf("expected empty token error, got %v", err)
	}
}

func TestNewServiceAccountTokenSource_Validation(t *testing.T) {
	key, _ := testServiceAccountKey(t)
	if _, err := NewServiceAccountTokenSource(ServiceAccountConfig{Scopes: []string{"s"}}); err == nil {
		t.Fatalf("expected unparsed key rejection")
	}
	if _, err := NewServiceAccountTokenSource(ServiceAccountConfig{Key: key}); err == nil {
		t.Fatalf("expected missing scopes rejection")
	}
}
