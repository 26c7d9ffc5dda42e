package pipeline

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
	defaultSheetsBaseURL  = "https://sheets.googleapis.com/v4"
	defaultHTTPTimeout    = 30 * time.Second
	maxSheetsBodyBytes    = 1 << 20
	valueInputOptionParam = "valueInputOption=RAW"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource yields the bearer token attached to outgoing requests.
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

type SheetsWriterConfig struct {
	BaseURL        string
	TokenSource    TokenSource
	RequestTimeout time.Duration
	HTTPClient     HTTPDoer
}

// SheetsWriter drives the destination spreadsheet through the values
// API: clear + update for row imports, update for the status cell.
type SheetsWriter struct {
	baseURL    string
	tokens     TokenSource
	timeout    time.Duration
	httpClient HTTPDoer
}

func NewSheetsWriter(cfg SheetsWriterConfig) (*SheetsWriter, error) {
	if cfg.TokenSource == nil {
		return nil, fmt.Errorf("pipeline: sheets token source is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultSheetsBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &SheetsWriter{
		baseURL:    baseURL,
		tokens:     cfg.TokenSource,
		timeout:    timeout,
		httpClient: httpClient,
	}, nil
}

func (w *SheetsWriter) WriteRows(ctx context.Context, wf core.WorkflowConfig, table Table) (int, error) {
	if strings.TrimSpace(wf.SheetID) == "" {
		return 0, fmt.Errorf("pipeline: workflow %q has no destination sheet", wf.WorkflowID)
	}
	tab := wf.TabName
	if strings.TrimSpace(tab) == "" {
		return 0, fmt.Errorf("pipeline: workflow %q has no destination tab", wf.WorkflowID)
	}

	clearRange := sheetRange(tab, "A:"+columnLetter(len(table.Header)))
	if err := w.clearValues(ctx, wf.SheetID, clearRange); err != nil {
		return 0, fmt.Errorf("pipeline: clear %s: %w", clearRange, err)
	}

	updateRange := sheetRange(tab, "A1")
	if err := w.updateValues(ctx, wf.SheetID, updateRange, table.Values()); err != nil {
		return 0, fmt.Errorf("pipeline: update %s: %w", updateRange, err)
	}
	return len(table.Rows), nil
}

func (w *SheetsWriter) UpdateStatus(ctx context.Context, wf core.WorkflowConfig, value string) error {
	if strings.TrimSpace(wf.StatusCell) == "" {
		return nil
	}
	tab, cell := splitStatusCell(wf.StatusCell, wf.TabName)
	statusRange := sheetRange(tab, cell)
	if err := w.updateValues(ctx, wf.SheetID, statusRange, [][]string{{value}}); err != nil {
		return fmt.Errorf("pipeline: update status %s: %w", statusRange, err)
	}
	return nil
}

func (w *SheetsWriter) clearValues(ctx context.Context, sheetID, valueRange string) error {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s:clear",
		w.baseURL, url.PathEscape(sheetID), url.PathEscape(valueRange))
	return w.send(ctx, http.MethodPost, endpoint, map[string]any{})
}

func (w *SheetsWriter) updateValues(ctx context.Context, sheetID, valueRange string, values [][]string) error {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s?%s",
		w.baseURL, url.PathEscape(sheetID), url.PathEscape(valueRange), valueInputOptionParam)
	return w.send(ctx, http.MethodPut, endpoint, map[string]any{"values": values})
}

func (w *SheetsWriter) send(ctx context.Context, method, endpoint string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, method, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	request.Header.Set("Content-Type", "application/json")

	token, err := w.tokens.Token(requestCtx)
	if err != nil {
		return fmt.Errorf("resolve access token: %w", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := w.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(response.Body, maxSheetsBodyBytes))
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// sheetRange quotes the tab name A1-style, doubling embedded quotes.
func sheetRange(tab, ref string) string {
	safe := strings.ReplaceAll(tab, "'", "''")
	return fmt.Sprintf("'%s'!%s", safe, ref)
}

func splitStatusCell(statusCell, fallbackTab string) (string, string) {
	if at := strings.LastIndex(statusCell, "!"); at >= 0 {
		return statusCell[:at], statusCell[at+1:]
	}
	return fallbackTab, statusCell
}

func columnLetter(count int) string {
	if count <= 0 {
		return "A"
	}
	letters := ""
	for count > 0 {
		count--
		letters = string(rune('A'+count%26)) + letters
		count /= 26
	}
	return letters
}

var _ TabularWriter = (*SheetsWriter)(nil)
