package checkin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Worker runs the claim for one job. An error means the job was not run
// and may be handed to another worker.
type Worker interface {
	Name() string
	Execute(ctx context.Context, job Job) (Outcome, error)
}

// LocalWorker claims in-process.
type LocalWorker struct {
	client GameClient
}

func NewLocalWorker(client GameClient) *LocalWorker {
	return &LocalWorker{client: client}
}

func (w *LocalWorker) Name() string { return "local" }

func (w *LocalWorker) Execute(ctx context.Context, job Job) (Outcome, error) {
	return ClaimAll(ctx, w.client, job), nil
}

// RemoteWorker forwards jobs to a worker host over HTTP.
type RemoteWorker struct {
	baseURL string
	http    *http.Client
}

func NewRemoteWorker(baseURL string, timeout time.Duration) *RemoteWorker {
	return &RemoteWorker{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (w *RemoteWorker) Name() string { return w.baseURL }

// Healthy probes GET /health once.
func (w *RemoteWorker) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func (w *RemoteWorker) Execute(ctx context.Context, job Job) (Outcome, error) {
	body, err := json.Marshal(job.Request())
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to encode job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/daily-reward", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("remote worker %s: %w", w.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Outcome{}, fmt.Errorf("remote worker %s returned %d", w.baseURL, resp.StatusCode)
	}

	var out RemoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Outcome{}, fmt.Errorf("remote worker %s: failed to decode response: %w", w.baseURL, err)
	}
	return outcomeFromResponse(out), nil
}
