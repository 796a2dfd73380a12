package httpexec

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fieldpulse/mobile-core/internal/models"
)

// JobClient fetches authoritative job records, used by the session
// machine to reconcile after a terminal sync failure.
type JobClient struct {
	exec *Executor
}

// NewJobClient creates a JobClient sharing the executor's base URL,
// client and headers.
func NewJobClient(exec *Executor) *JobClient {
	return &JobClient{exec: exec}
}

// Fetch retrieves the server-side record for jobID.
func (c *JobClient) Fetch(ctx context.Context, jobID string) (*models.JobRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/jobs/%s", c.exec.baseURL, jobID), nil)
	if err != nil {
		return nil, err
	}
	if c.exec.header != nil {
		for k, vs := range c.exec.header() {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	resp, err := c.exec.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned %d for job %s", resp.StatusCode, jobID)
	}

	var rec models.JobRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode job record: %w", err)
	}
	return &rec, nil
}
