package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quarrydata/pgexport/command"
	"github.com/quarrydata/pgexport/metrics"
	"github.com/quarrydata/pgexport/testutil"
)

type fakeJobStore struct {
	jobs map[string]*command.Job
}

func (s *fakeJobStore) Get(id string) (*command.Job, bool) {
	job, ok := s.jobs[id]
	return job, ok
}

func (s *fakeJobStore) List() []command.Info {
	var infos []command.Info
	for _, job := range s.jobs {
		infos = append(infos, job.Snapshot())
	}
	return infos
}

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(ctx context.Context) error {
	return p.err
}

func newTestServer(store JobStore, pinger Pinger, gatherer prometheus.Gatherer) *httptest.Server {
	srv := New(store, pinger, gatherer, Options{Logger: command.NewNoopLogger()})
	return httptest.NewServer(srv.Handler())
}

func TestHealthzOK(t *testing.T) {
	ts := newTestServer(&fakeJobStore{}, &fakePinger{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestHealthzDegraded(t *testing.T) {
	logger := testutil.NewCaptureLogger()
	srv := New(&fakeJobStore{}, &fakePinger{err: errors.New("connection refused")}, nil, Options{Logger: logger})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "degraded" {
		t.Errorf("expected status degraded, got %q", body["status"])
	}
	if !logger.Contains("health check failed") {
		t.Error("expected failed ping to be logged")
	}
}

func TestListJobsEmpty(t *testing.T) {
	ts := newTestServer(&fakeJobStore{}, &fakePinger{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/jobs")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var infos []command.Info
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatalf("expected JSON array, got decode error: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected empty list, got %d entries", len(infos))
	}
}

func TestListJobs(t *testing.T) {
	job := command.NewJob("SELECT 1", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	store := &fakeJobStore{jobs: map[string]*command.Job{job.ID(): job}}

	ts := newTestServer(store, &fakePinger{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/jobs")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var infos []command.Info
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 job, got %d", len(infos))
	}
	if infos[0].ID != job.ID() {
		t.Errorf("expected job %s, got %s", job.ID(), infos[0].ID)
	}
	if infos[0].Status != command.JobQueued {
		t.Errorf("expected QUEUED, got %s", infos[0].Status)
	}
}

func TestGetJob(t *testing.T) {
	job := command.NewJob("SELECT 1", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	store := &fakeJobStore{jobs: map[string]*command.Job{job.ID(): job}}

	ts := newTestServer(store, &fakePinger{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/jobs/" + job.ID())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var info command.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if info.Statement != "SELECT 1" {
		t.Errorf("expected statement in response, got %q", info.Statement)
	}
}

func TestGetJobNotFound(t *testing.T) {
	ts := newTestServer(&fakeJobStore{}, &fakePinger{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/jobs/unknown-id")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	collector.ObserveStream(1024, 2)

	ts := newTestServer(&fakeJobStore{}, &fakePinger{}, registry)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	ts := newTestServer(&fakeJobStore{}, &fakePinger{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 without a gatherer, got %d", resp.StatusCode)
	}
}
