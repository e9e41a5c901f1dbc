package genapi

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

	"github.com/rs/zerolog"

	"genqueue/internal/domain"
	"genqueue/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("genapi: api key is required")

const (
	DefaultBaseURL        = "https://api.example-genapi.com/v1"
	DefaultGeneratePath   = "/images/generations"
	DefaultEditPath       = "/images/edits"
	DefaultTurboGenerate  = "/images/generations/turbo"
	DefaultTurboEdit      = "/images/edits/turbo"
	DefaultBalancePath    = "/balance"
	defaultRequestTimeout = 120 * time.Second

	maxErrorRunes = 256
)

// Options configures the generation provider client.
type Options struct {
	APIKey  string
	BaseURL string
	// Endpoint paths relative to BaseURL. Empty values use the defaults.
	GeneratePath      string
	EditPath          string
	TurboGeneratePath string
	TurboEditPath     string
	BalancePath       string
	HTTPClient        *http.Client
	Logger            *infra.Logger
	RequestTimeout    time.Duration
}

// Client performs HTTP calls to the generation provider.
type Client struct {
	apiKey     string
	baseURL    string
	paths      map[endpointKey]string
	balance    string
	httpClient *http.Client
	logger     *infra.Logger
}

type endpointKey struct {
	mode domain.Mode
	edit bool
}

// Request is one provider call. Images switches the call to the edit endpoint.
type Request struct {
	Prompt    string
	Width     int
	Height    int
	MaxImages int
	Mode      domain.Mode
	Images    []string
	Seed      *int64
}

// Size renders the resolution the way the provider expects it.
func (r Request) Size() string {
	return fmt.Sprintf("%d*%d", r.Width, r.Height)
}

type generationPayload struct {
	Prompt             string   `json:"prompt"`
	Size               string   `json:"size"`
	MaxImages          int      `json:"max_images"`
	EnableSyncMode     bool     `json:"enable_sync_mode"`
	EnableBase64Output bool     `json:"enable_base64_output"`
	Images             []string `json:"images,omitempty"`
	Seed               *int64   `json:"seed,omitempty"`
}

type errorResponse struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
	Error   any    `json:"error"`
}

type balanceResponse struct {
	Balance *float64 `json:"balance"`
	Data    struct {
		Balance *float64 `json:"balance"`
	} `json:"data"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: baseURL,
		paths: map[endpointKey]string{
			{domain.ModeStandard, false}: pathOr(opts.GeneratePath, DefaultGeneratePath),
			{domain.ModeStandard, true}:  pathOr(opts.EditPath, DefaultEditPath),
			{domain.ModeTurbo, false}:    pathOr(opts.TurboGeneratePath, DefaultTurboGenerate),
			{domain.ModeTurbo, true}:     pathOr(opts.TurboEditPath, DefaultTurboEdit),
		},
		balance:    pathOr(opts.BalancePath, DefaultBalancePath),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func pathOr(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = fallback
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Endpoint returns the absolute URL used for req.
func (c *Client) Endpoint(req Request) string {
	key := endpointKey{mode: domain.NormalizeMode(req.Mode), edit: len(req.Images) > 0}
	path, ok := c.paths[key]
	if !ok {
		path = c.paths[endpointKey{mode: domain.ModeStandard, edit: key.edit}]
	}
	return c.baseURL + path
}

// Generate invokes the provider once. A nil error means the body matched one
// of the documented output shapes or the pending shape; every failure is a
// *domain.AdapterError.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	if !c.HasCredentials() {
		return nil, &domain.AdapterError{Kind: domain.FailureAuth, Message: "api key is not configured", Err: ErrMissingAPIKey}
	}
	payload := generationPayload{
		Prompt:             strings.TrimSpace(req.Prompt),
		Size:               req.Size(),
		MaxImages:          req.MaxImages,
		EnableSyncMode:     true,
		EnableBase64Output: false,
		Seed:               req.Seed,
	}
	if payload.MaxImages <= 0 {
		payload.MaxImages = 1
	}
	if len(req.Images) > 0 {
		payload.Images = append([]string(nil), req.Images...)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("genapi: encode request: %w", err)
	}

	endpoint := c.Endpoint(req)
	raw, status, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &domain.AdapterError{
			Kind:       domain.ClassifyStatus(status),
			StatusCode: status,
			Message:    errorMessage(raw),
		}
	}

	res := Decode(raw)
	switch {
	case res.Shape == ShapeMalformed && res.Code >= 400:
		return nil, &domain.AdapterError{Kind: domain.ClassifyStatus(res.Code), StatusCode: res.Code, Message: res.Message}
	case res.Shape == ShapeMalformed:
		return nil, &domain.AdapterError{Kind: domain.FailureMalformedResponse, StatusCode: status, Message: res.Message}
	}
	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("shape", res.Shape.String()).
		Int("outputs", len(res.Outputs)).
		Str("task_id", res.TaskID).
		Msg("genapi: provider call finished")
	return &res, nil
}

// Balance fetches the remaining account credit.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	if !c.HasCredentials() {
		return 0, ErrMissingAPIKey
	}
	raw, status, err := c.do(ctx, http.MethodGet, c.baseURL+c.balance, nil)
	if err != nil {
		return 0, err
	}
	if status < 200 || status >= 300 {
		return 0, &domain.AdapterError{Kind: domain.ClassifyStatus(status), StatusCode: status, Message: errorMessage(raw)}
	}
	var decoded balanceResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return 0, fmt.Errorf("genapi: decode balance: %w", err)
	}
	switch {
	case decoded.Data.Balance != nil:
		return *decoded.Data.Balance, nil
	case decoded.Balance != nil:
		return *decoded.Balance, nil
	default:
		return 0, &domain.AdapterError{Kind: domain.FailureMalformedResponse, StatusCode: status, Message: "balance missing from response"}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("genapi: build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, &domain.AdapterError{Kind: domain.FailureServerError, Message: "http request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &domain.AdapterError{Kind: domain.FailureServerError, StatusCode: resp.StatusCode, Message: "read response failed", Err: err}
	}
	return raw, resp.StatusCode, nil
}

func errorMessage(raw []byte) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if msg := strings.TrimSpace(detail.Message); msg != "" {
			return msg
		}
		switch e := detail.Error.(type) {
		case string:
			if e = strings.TrimSpace(e); e != "" {
				return e
			}
		case map[string]any:
			if msg, ok := e["message"].(string); ok && strings.TrimSpace(msg) != "" {
				return strings.TrimSpace(msg)
			}
		}
	}
	text := strings.TrimSpace(string(raw))
	if r := []rune(text); len(r) > maxErrorRunes {
		text = string(r[:maxErrorRunes])
	}
	if text == "" {
		text = "empty response body"
	}
	return text
}
