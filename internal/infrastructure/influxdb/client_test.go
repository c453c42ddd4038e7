package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/catfeeder/internal/infrastructure/config"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
	status int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.writes = append(f.writes, string(body))
		status := f.status
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

func startFake(t *testing.T) (*fakeInflux, config.InfluxDBConfig) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "test-token",
		Org:           "home",
		Bucket:        "feeder",
		BatchSize:     10,
		FlushInterval: 60,
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClient_WriteFeedJob(t *testing.T) {
	fake, cfg := startFake(t)

	client, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	start := time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)
	client.WriteFeedJob(FeedJobPoint{
		FeederID:   "kitchen",
		JobID:      "job-1",
		Trigger:    "schedule",
		Status:     "successful",
		Portions:   2,
		Machines:   1,
		StartedAt:  start,
		FinishedAt: start.Add(4 * time.Second),
	})
	client.WriteMachineOutcome(MachineOutcomePoint{
		FeederID: "kitchen",
		JobID:    "job-1",
		Machine:  "left",
		Outcome:  "blocked",
		At:       start,
	})
	client.Flush()

	body := fake.body()
	for _, want := range []string{
		"feed_job,feeder=kitchen,status=successful,trigger=schedule",
		"duration_ms=4000i",
		"feed_machine,feeder=kitchen,machine=left,outcome=blocked",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("written body missing %q:\n%s", want, body)
		}
	}
}

func TestClient_WriteErrorCallback(t *testing.T) {
	fake, cfg := startFake(t)
	fake.status = http.StatusBadRequest

	client, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WriteMachineOutcome(MachineOutcomePoint{Machine: "left", Outcome: "successful", At: time.Now()})
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error callback not invoked")
	}
}

func TestClient_NilAndClosedAreSafe(t *testing.T) {
	var nilClient *Client
	nilClient.WriteFeedJob(FeedJobPoint{})
	if nilClient.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}

	_, cfg := startFake(t)
	client, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()
	client.Close()
	client.Flush()
	client.WriteFeedJob(FeedJobPoint{})
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}
}

func TestFeedJobPoint_LineProtocol(t *testing.T) {
	at := time.Unix(1700000000, 0)
	line := write.PointToLineProtocol(feedJobPoint(FeedJobPoint{
		FeederID:   "f1",
		JobID:      "j1",
		Trigger:    "remote",
		Status:     "empty",
		Portions:   3,
		Machines:   2,
		StartedAt:  at.Add(-time.Second),
		FinishedAt: at,
	}), time.Second)

	want := `feed_job,feeder=f1,status=empty,trigger=remote duration_ms=1000i,job_id="j1",machines=2i,portions=3i 1700000000`
	if strings.TrimSpace(line) != want {
		t.Errorf("line protocol =\n%s\nwant\n%s", line, want)
	}
}
