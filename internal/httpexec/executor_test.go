package httpexec

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldpulse/mobile-core/internal/models"
	"github.com/fieldpulse/mobile-core/internal/queue"
)

func queuedRequest(endpoint string) *models.QueuedRequest {
	return &models.QueuedRequest{
		ID:       "req-1",
		Endpoint: endpoint,
		Method:   models.MethodPost,
		Payload:  []byte(`{"status":"enroute"}`),
	}
}

func TestExecuteSuccess(t *testing.T) {
	var gotPath, gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exec := New(srv.URL)
	outcome, err := exec.Execute(context.Background(), queuedRequest("/jobs/j1/status"))
	require.NoError(t, err)
	assert.Equal(t, queue.Success, outcome)
	assert.Equal(t, "/jobs/j1/status", gotPath)
	assert.Equal(t, "req-1", gotKey)
	assert.JSONEq(t, `{"status":"enroute"}`, gotBody)
}

func TestExecuteOutcomeMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   queue.Outcome
	}{
		{"created", http.StatusCreated, queue.Success},
		{"server error", http.StatusInternalServerError, queue.RetryableFailure},
		{"bad gateway", http.StatusBadGateway, queue.RetryableFailure},
		{"rate limited", http.StatusTooManyRequests, queue.RetryableFailure},
		{"request timeout", http.StatusRequestTimeout, queue.RetryableFailure},
		{"bad request", http.StatusBadRequest, queue.TerminalFailure},
		{"conflict", http.StatusConflict, queue.TerminalFailure},
		{"not found", http.StatusNotFound, queue.TerminalFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			outcome, err := New(srv.URL).Execute(context.Background(), queuedRequest("/jobs/j1/status"))
			assert.Equal(t, tc.want, outcome)
			if tc.want != queue.Success {
				assert.Error(t, err)
			}
		})
	}
}

func TestExecuteConnectionRefusedIsRetryable(t *testing.T) {
	// A server that is already gone.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	outcome, err := New(srv.URL).Execute(context.Background(), queuedRequest("/jobs/j1/status"))
	require.Error(t, err)
	assert.Equal(t, queue.RetryableFailure, outcome)
}

func TestExecuteInjectsHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	exec := New(srv.URL, WithHeaders(func() http.Header {
		h := http.Header{}
		h.Set("Authorization", "Bearer token-123")
		return h
	}))

	_, err := exec.Execute(context.Background(), queuedRequest("/jobs/j1/status"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-123", gotAuth)
}

func TestJobClientFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/jobs/j7", r.URL.Path)
		json.NewEncoder(w).Encode(models.JobRecord{JobID: "j7", Status: models.JobCompleted})
	}))
	defer srv.Close()

	client := NewJobClient(New(srv.URL))
	rec, err := client.Fetch(context.Background(), "j7")
	require.NoError(t, err)
	assert.Equal(t, "j7", rec.JobID)
	assert.Equal(t, models.JobCompleted, rec.Status)
}

func TestJobClientFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewJobClient(New(srv.URL)).Fetch(context.Background(), "missing")
	require.Error(t, err)
}
