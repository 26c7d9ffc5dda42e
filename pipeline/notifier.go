package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Outbound-Project/outbound-bot/core"
)

// SeaTalkNotifier posts text and base64 image messages to the
// workflow's group webhook. A workflow without a notify URL is a
// silent no-op, matching how unconfigured channels behave upstream.
type SeaTalkNotifier struct {
	timeout    time.Duration
	httpClient HTTPDoer
	atAll      bool
}

type SeaTalkNotifierConfig struct {
	RequestTimeout time.Duration
	HTTPClient     HTTPDoer
	MentionAll     bool
}

func NewSeaTalkNotifier(cfg SeaTalkNotifierConfig) *SeaTalkNotifier {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &SeaTalkNotifier{
		timeout:    timeout,
		httpClient: httpClient,
		atAll:      cfg.MentionAll,
	}
}

type seatalkTextPayload struct {
	Content string `json:"content"`
	Format  int    `json:"format"`
	AtAll   bool   `json:"at_all,omitempty"`
}

func (n *SeaTalkNotifier) NotifyText(ctx context.Context, wf core.WorkflowConfig, text string) error {
	if strings.TrimSpace(wf.NotifyURL) == "" {
		return nil
	}
	payload := map[string]any{
		"tag": "text",
		"text": seatalkTextPayload{
			Content: text,
			Format:  2,
			AtAll:   n.atAll,
		},
	}
	return n.post(ctx, wf.NotifyURL, payload)
}

func (n *SeaTalkNotifier) NotifyImage(ctx context.Context, wf core.WorkflowConfig, image []byte) error {
	if strings.TrimSpace(wf.NotifyURL) == "" {
		return nil
	}
	payload := map[string]any{
		"tag": "image",
		"image_base64": map[string]string{
			"content": base64.StdEncoding.EncodeToString(image),
		},
	}
	return n.post(ctx, wf.NotifyURL, payload)
}

func (n *SeaTalkNotifier) post(ctx context.Context, webhookURL string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pipeline: encode notification: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodPost, webhookURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("pipeline: build notification request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := n.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("pipeline: send notification: %w", err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxSheetsBodyBytes))

	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("pipeline: notification webhook returned %d", response.StatusCode)
	}
	return nil
}

var _ Notifier = (*SeaTalkNotifier)(nil)
