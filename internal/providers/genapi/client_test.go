package genapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"genqueue/internal/domain"
)

func TestGenerateTextToImagePayload(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, err := NewClient(Options{
		APIKey:     "test",
		BaseURL:    "https://provider.test/v1",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	transport.setJSONResponse("/v1/images/generations", http.StatusOK, map[string]any{
		"data": map[string]any{"outputs": []string{"u1", "u2"}, "seed": 42},
	})

	res, err := client.Generate(context.Background(), Request{
		Prompt:    "a red fox",
		Width:     1024,
		Height:    768,
		MaxImages: 2,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Shape != ShapeDataOutputs || len(res.Outputs) != 2 || res.Seed == nil || *res.Seed != 42 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := transport.lastHeader.Get("Authorization"); got != "Bearer test" {
		t.Fatalf("authorization = %q", got)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["size"] != "1024*768" {
		t.Fatalf("size = %v, want 1024*768", payload["size"])
	}
	if payload["max_images"] != float64(2) {
		t.Fatalf("max_images = %v, want 2", payload["max_images"])
	}
	if payload["enable_sync_mode"] != true || payload["enable_base64_output"] != false {
		t.Fatalf("sync flags = %v/%v", payload["enable_sync_mode"], payload["enable_base64_output"])
	}
	if _, ok := payload["seed"]; ok {
		t.Fatalf("seed should be omitted when unspecified")
	}
	if _, ok := payload["images"]; ok {
		t.Fatalf("images should be omitted without references")
	}
}

func TestGenerateEditEndpointPreservesReferenceOrder(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, _ := NewClient(Options{
		APIKey:     "test",
		BaseURL:    "https://provider.test/v1",
		HTTPClient: &http.Client{Transport: transport},
	})
	transport.setJSONResponse("/v1/images/edits", http.StatusOK, map[string]any{"images": []string{"out"}})

	seed := int64(0)
	_, err := client.Generate(context.Background(), Request{
		Prompt:    "swap background",
		Width:     512,
		Height:    512,
		MaxImages: 1,
		Images:    []string{"https://ref/first.png", "https://ref/second.png"},
		Seed:      &seed,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if transport.lastPath != "/v1/images/edits" {
		t.Fatalf("path = %q, want edit endpoint", transport.lastPath)
	}
	var payload struct {
		Images []string `json:"images"`
		Seed   *int64   `json:"seed"`
	}
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.Images) != 2 || payload.Images[0] != "https://ref/first.png" || payload.Images[1] != "https://ref/second.png" {
		t.Fatalf("images = %v", payload.Images)
	}
	if payload.Seed == nil || *payload.Seed != 0 {
		t.Fatalf("explicit zero seed must be sent, got %v", payload.Seed)
	}
}

func TestEndpointSelection(t *testing.T) {
	client, _ := NewClient(Options{APIKey: "k", BaseURL: "https://p.test/", TurboEditPath: "custom/turbo-edit"})
	cases := []struct {
		req  Request
		want string
	}{
		{Request{}, "https://p.test/images/generations"},
		{Request{Mode: domain.ModeTurbo}, "https://p.test/images/generations/turbo"},
		{Request{Images: []string{"x"}}, "https://p.test/images/edits"},
		{Request{Mode: domain.ModeTurbo, Images: []string{"x"}}, "https://p.test/custom/turbo-edit"},
	}
	for _, tc := range cases {
		if got := client.Endpoint(tc.req); got != tc.want {
			t.Fatalf("Endpoint(%+v) = %q, want %q", tc.req, got, tc.want)
		}
	}
}

func TestGenerateClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.FailureKind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"invalid key"}`, domain.FailureAuth},
		{"forbidden", http.StatusForbidden, `{"error":{"message":"no access"}}`, domain.FailureForbidden},
		{"rate limited", http.StatusTooManyRequests, `slow down`, domain.FailureRateLimited},
		{"server error", http.StatusBadGateway, ``, domain.FailureServerError},
		{"unknown 4xx", http.StatusTeapot, `{}`, domain.FailureServerError},
		{"malformed 2xx", http.StatusOK, `{"data":{"status":"completed"}}`, domain.FailureMalformedResponse},
		{"body code on 2xx", http.StatusOK, `{"code":401,"message":"token expired"}`, domain.FailureAuth},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client, _ := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
			_, err := client.Generate(context.Background(), Request{Prompt: "p", Width: 64, Height: 64})
			var ae *domain.AdapterError
			if !errors.As(err, &ae) {
				t.Fatalf("error = %v, want AdapterError", err)
			}
			if ae.Kind != tc.want {
				t.Fatalf("kind = %s, want %s (%v)", ae.Kind, tc.want, err)
			}
		})
	}
}

func TestGeneratePendingIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"status":"processing","id":"task-1"}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	res, err := client.Generate(context.Background(), Request{Prompt: "p", Width: 64, Height: 64})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.Pending() || res.TaskID != "task-1" {
		t.Fatalf("result = %+v, want pending task-1", res)
	}
}

func TestGenerateTimeoutIsServerError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, _ := NewClient(Options{APIKey: "k", BaseURL: srv.URL, RequestTimeout: 50 * time.Millisecond})
	_, err := client.Generate(context.Background(), Request{Prompt: "p", Width: 64, Height: 64})
	if ae := domain.AsAdapterError(err); ae == nil || ae.Kind != domain.FailureServerError {
		t.Fatalf("error = %v, want server_error", err)
	}
}

func TestGenerateWithoutKey(t *testing.T) {
	client, _ := NewClient(Options{})
	_, err := client.Generate(context.Background(), Request{Prompt: "p", Width: 64, Height: 64})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("error = %v, want ErrMissingAPIKey", err)
	}
}

func TestBalance(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, _ := NewClient(Options{APIKey: "k", BaseURL: "https://provider.test/v1", HTTPClient: &http.Client{Transport: transport}})
	transport.setJSONResponse("/v1/balance", http.StatusOK, map[string]any{"data": map[string]any{"balance": 12.5}})

	got, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != 12.5 {
		t.Fatalf("balance = %v, want 12.5", got)
	}
}

type captureTransport struct {
	responses  map[string]responseStub
	lastBody   []byte
	lastPath   string
	lastHeader http.Header
}

type responseStub struct {
	status int
	header http.Header
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.lastPath = req.URL.Path
	c.lastHeader = req.Header.Clone()
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
	}
	if stub, ok := c.responses[req.URL.Path]; ok {
		return stub.toResponse(), nil
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

func (c *captureTransport) setJSONResponse(path string, status int, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{
		status: status,
		header: http.Header{"Content-Type": []string{"application/json"}},
		body:   body,
	}
}

func (s responseStub) toResponse() *http.Response {
	header := http.Header{}
	for k, values := range s.header {
		cloned := make([]string, len(values))
		copy(cloned, values)
		header[k] = cloned
	}
	return &http.Response{
		StatusCode: s.status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(s.body)),
	}
}

func TestErrorMessageTruncatesOnRuneBoundary(t *testing.T) {
	body := []byte(strings.Repeat("界", 300))
	msg := errorMessage(body)
	if !utf8.ValidString(msg) {
		t.Fatalf("message is not valid UTF-8: %q", msg)
	}
	if n := utf8.RuneCountInString(msg); n != maxErrorRunes {
		t.Fatalf("message runes = %d, want %d", n, maxErrorRunes)
	}
	if got := errorMessage([]byte(`{"error":{"message":"quota exhausted"}}`)); got != "quota exhausted" {
		t.Fatalf("message = %q", got)
	}
}
