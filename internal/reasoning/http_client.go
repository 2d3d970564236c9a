package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "nvidia/nemotron-nano-12b-v2-vl:free"
)

type HTTPClientConfig struct {
	BaseURL string
	Path    string
	APIKey  string
	Model   string
	// Temperature is optional; it is the parameter dropped on the 400 fallback.
	Temperature *float64
	// Timeout bounds each attempt.
	Timeout    time.Duration
	Policy     Policy
	Referer    string
	Title      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTPClient calls an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	baseURL     string
	path        string
	apiKey      string
	model       string
	temperature *float64
	timeout     time.Duration
	policy      Policy
	referer     string
	title       string
	client      *http.Client
	logger      *zap.Logger
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("reasoning api key required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	path := cfg.Path
	if path == "" {
		path = "/chat/completions"
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		path:        path,
		apiKey:      cfg.APIKey,
		model:       model,
		temperature: cfg.Temperature,
		timeout:     timeout,
		policy:      cfg.Policy.withDefaults(),
		referer:     cfg.Referer,
		title:       cfg.Title,
		client:      client,
		logger:      logger.Named("reasoning"),
	}, nil
}

// New returns an HTTPClient when cfg carries a credential and an
// OfflineClient otherwise.
func New(cfg HTTPClientConfig) Client {
	if cfg.APIKey == "" {
		return NewOfflineClient(cfg.Logger)
	}
	c, err := NewHTTPClient(cfg)
	if err != nil {
		return NewOfflineClient(cfg.Logger)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error,omitempty"`
}

func (c *HTTPClient) Invoke(ctx context.Context, req Request) Response {
	userContent, err := json.Marshal(req.Context)
	if err != nil {
		c.logger.Error("marshal reasoning context", zap.String("role", req.Role), zap.Error(err))
		return Response{Text: Placeholder, Degraded: true, Err: &ServiceError{Kind: KindUnclassified, Err: err}}
	}
	messages := []chatMessage{
		{Role: "system", Content: req.Instruction},
		{Role: "user", Content: string(userContent)},
	}

	maxAttempts := c.policy.MaxAttempts
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		log := c.logger.With(
			zap.String("role", req.Role),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
		)
		text, err := c.send(ctx, chatRequest{Model: c.model, Messages: messages, Temperature: c.temperature})
		if err == nil {
			log.Info("reasoning call succeeded", zap.String("outcome", "ok"), zap.Int("len", len(text)))
			return Response{Text: text, Attempts: attempt + 1}
		}
		lastErr = err

		switch c.policy.Decide(err) {
		case ActionBackoff:
			if attempt == maxAttempts-1 {
				log.Warn("reasoning rate limited", zap.String("outcome", "rate_limited"), zap.Error(err))
				continue
			}
			delay := c.policy.Delay(attempt)
			log.Warn("reasoning rate limited, backing off",
				zap.String("outcome", "rate_limited"),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if sleepErr := c.policy.Sleep(ctx, delay); sleepErr != nil {
				return Response{Text: Placeholder, Attempts: attempt + 1, Degraded: true, Err: sleepErr}
			}
		case ActionSimplify:
			log.Warn("reasoning request rejected, retrying without optional parameters",
				zap.String("outcome", "malformed_request"),
				zap.Error(err),
			)
			text, retryErr := c.send(ctx, chatRequest{Model: c.model, Messages: messages})
			if retryErr == nil {
				log.Info("reasoning fallback succeeded", zap.String("outcome", "ok"), zap.Int("len", len(text)))
				return Response{Text: text, Attempts: attempt + 2}
			}
			log.Warn("reasoning fallback failed", zap.String("outcome", "malformed_request"), zap.Error(retryErr))
			return Response{Text: Placeholder, Attempts: attempt + 2, Degraded: true, Err: retryErr}
		default:
			log.Error("reasoning call failed", zap.String("outcome", "unclassified"), zap.Error(err))
			return Response{Text: Placeholder, Attempts: attempt + 1, Degraded: true, Err: err}
		}
	}
	c.logger.Warn("reasoning attempts exhausted",
		zap.String("role", req.Role),
		zap.String("outcome", "exhausted"),
		zap.Int("max_attempts", maxAttempts),
	)
	return Response{Text: Placeholder, Attempts: maxAttempts, Degraded: true, Err: lastErr}
}

func (c *HTTPClient) send(ctx context.Context, payload chatRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &ServiceError{Kind: KindUnclassified, Err: fmt.Errorf("marshal request: %w", err)}
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if err != nil {
		return "", &ServiceError{Kind: KindUnclassified, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &ServiceError{Kind: KindUnclassified, Err: err}
	}
	defer resp.Body.Close()
	return decodeCompletion(resp)
}

func decodeCompletion(resp *http.Response) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &ServiceError{Kind: KindUnclassified, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", NewStatusError(resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &ServiceError{Kind: KindUnclassified, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	// Some providers report upstream failures inside a 200 body.
	if out.Error != nil {
		var code int
		_ = json.Unmarshal(out.Error.Code, &code)
		if code == 0 {
			return "", &ServiceError{Kind: KindUnclassified, Status: resp.StatusCode, Err: errors.New(out.Error.Message)}
		}
		return "", NewStatusError(code, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", &ServiceError{Kind: KindUnclassified, Status: resp.StatusCode, Err: errors.New("no choices in response")}
	}
	return out.Choices[0].Message.Content, nil
}
