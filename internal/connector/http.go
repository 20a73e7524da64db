package connector

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Conductor/internal/domain"
)

const (
	// NameHTTP — имя HTTP-коннектора.
	NameHTTP = "http"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB

	// IdempotencyHeader передаётся во внешний API, если не задан в headers.
	IdempotencyHeader = "Idempotency-Key"
)

// HTTPConnector выполняет HTTP-запрос.
//
// Payload:
//
//	{
//	    "method": "POST",                 // по умолчанию action или GET
//	    "url": "https://api.example.com/data",
//	    "headers": {"Authorization": "Bearer {{ .Input.token }}"},
//	    "body": {"data": "{{ .Steps.fetch.Output.items }}"},
//	    "follow_redirects": true,
//	    "validate_ssl": true,
//	    "timeout_sec": 30
//	}
//
// Output: status_code, headers, body (JSON или строка).
// 5xx, 408 и 429 — retryable failure, остальные 4xx — permanent.
type HTTPConnector struct{}

// NewHTTPConnector создаёт HTTPConnector.
func NewHTTPConnector() *HTTPConnector {
	return &HTTPConnector{}
}

// Name возвращает имя коннектора.
func (c *HTTPConnector) Name() string {
	return NameHTTP
}

// httpConfig — распарсенный payload.
type httpConfig struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            any
	FollowRedirects bool
	ValidateSSL     bool
	Timeout         time.Duration
}

// Execute выполняет запрос.
func (c *HTTPConnector) Execute(ctx context.Context, inv *Invocation) (domain.StepResult, error) {
	cfg, err := parseHTTPConfig(inv)
	if err != nil {
		return domain.StepResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := buildRequest(ctx, cfg)
	if err != nil {
		return domain.StepResult{}, Permanentf("%w: build request: %v", ErrHTTPRequest, err)
	}

	resp, err := buildClient(cfg).Do(req)
	if err != nil {
		return domain.StepResult{}, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return domain.StepResult{}, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	output := buildOutput(resp, respBody)

	if resp.StatusCode >= 400 {
		result := domain.Failed(
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
			isRetryableStatus(resp.StatusCode),
		)
		// Output сохраняется для диагностики
		result.Output = output
		return result, nil
	}

	return domain.Succeeded(output), nil
}

// parseHTTPConfig разбирает payload; метод по умолчанию берётся из action.
func parseHTTPConfig(inv *Invocation) (*httpConfig, error) {
	p := inv.Payload
	cfg := &httpConfig{
		Method:          getString(p, "method", ""),
		URL:             getString(p, "url", ""),
		Headers:         getStringMap(p, "headers"),
		Body:            p["body"],
		FollowRedirects: getBool(p, "follow_redirects", true),
		ValidateSSL:     getBool(p, "validate_ssl", true),
		Timeout:         getDuration(p, "timeout"),
	}

	if cfg.URL == "" {
		return nil, Permanentf("%w: %s: url is required", ErrInvalidConfig, NameHTTP)
	}

	if cfg.Method == "" && isHTTPMethod(inv.Action) {
		cfg.Method = inv.Action
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)

	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	if _, ok := cfg.Headers[IdempotencyHeader]; !ok && inv.IdempotencyKey != "" {
		cfg.Headers[IdempotencyHeader] = inv.IdempotencyKey
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	return cfg, nil
}

func isHTTPMethod(s string) bool {
	switch strings.ToUpper(s) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
		return true
	}
	return false
}

// isRetryableStatus — временные ошибки сервера и rate limit.
func isRetryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// buildClient создаёт клиент с настройками TLS и редиректов.
func buildClient(cfg *httpConfig) *http.Client {
	var checkRedirect func(*http.Request, []*http.Request) error
	if !cfg.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	client := &http.Client{CheckRedirect: checkRedirect}
	if !cfg.ValidateSSL {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}

// buildRequest создаёт запрос с body и заголовками.
func buildRequest(ctx context.Context, cfg *httpConfig) (*http.Request, error) {
	var bodyReader io.Reader

	if cfg.Body != nil {
		bodyBytes, err := serializeBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)

		if _, ok := cfg.Headers["Content-Type"]; !ok {
			cfg.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// serializeBody: строка и []byte передаются как есть, остальное — JSON.
func serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// buildOutput формирует output из HTTP-ответа.
func buildOutput(resp *http.Response, body []byte) map[string]any {
	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	// Пробуем JSON, иначе строка
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed = string(body)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsed,
	}
}

// truncate обрезает строку до maxLen байт.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
