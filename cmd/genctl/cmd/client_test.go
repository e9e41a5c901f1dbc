package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genqueue/internal/domain"
)

func TestClientSubmitSendsRequest(t *testing.T) {
	var got domain.GenerationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/jobs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"job-1","status":"queued"}`))
	}))
	defer srv.Close()

	seed := int64(3)
	resp, err := NewClient(srv.URL+"/", time.Second).Submit(context.Background(), domain.GenerationRequest{
		Prompt: "fox", Width: 64, Height: 64, Count: 1, Seed: &seed,
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, domain.JobStatusQueued, resp.Status)
	assert.Equal(t, "fox", got.Prompt)
	require.NotNil(t, got.Seed)
	assert.Equal(t, int64(3), *got.Seed)
}

func TestClientDecodesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/jobs":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"queue_full","message":"queue full, max 5 jobs"}`))
		case "/v1/jobs/clear":
			w.Header().Set("Retry-After", "12")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limited","message":"slow down"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Second)

	_, err := c.Submit(context.Background(), domain.GenerationRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsQueueFull(err))
	assert.Contains(t, err.Error(), "queue full, max 5 jobs")

	_, err = c.Clear(context.Background())
	require.Error(t, err)
	assert.False(t, IsQueueFull(err))
	assert.Contains(t, err.Error(), "retry after 12s")

	err = c.Delete(context.Background(), "job-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestBuildSubmitRequest(t *testing.T) {
	prompt, width, height, count, mode = "a cat", 640, 480, 2, "turbo"
	seed = -1
	references = []string{"https://x/a.png", "https://x/b.png"}
	t.Cleanup(func() { references = nil })

	req := buildSubmitRequest()
	assert.Nil(t, req.Seed)
	assert.Equal(t, domain.ModeTurbo, req.Mode)
	require.Len(t, req.References, 2)
	assert.Equal(t, 1, req.References[1].Priority)

	seed = 0
	req = buildSubmitRequest()
	require.NotNil(t, req.Seed)
	assert.Equal(t, int64(0), *req.Seed)
}

func TestJobsListCommandRendersTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jobs":[{"id":"job-1","status":"failed","progress":40,` +
			`"request":{"prompt":"fox","width":64,"height":64,"count":1,"mode":"standard"},` +
			`"error":"bad key","errorKind":"auth","createdAt":"2025-01-01T00:00:00Z"}],` +
			`"counts":{"failed":1},"capacity":5}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"jobs", "list", "--api-url", srv.URL, "--output", "table"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	text := out.String()
	assert.Contains(t, text, "job-1")
	assert.Contains(t, text, "auth: bad key")
	assert.True(t, strings.Contains(text, "0/5 queue slots in use"), text)
}
