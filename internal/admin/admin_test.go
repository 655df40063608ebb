package admin_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lattice-ctf/flagbroker/internal/admin"
	"github.com/lattice-ctf/flagbroker/internal/game"
)

type fakeStats struct {
	stats game.Stats
}

func (f fakeStats) Stats() game.Stats { return f.stats }

func setupTestServer(t *testing.T, stats game.Stats) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	srv := admin.New("127.0.0.1:0", fakeStats{stats: stats}, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return ts
}

func TestSessionsEndpoint(t *testing.T) {
	t.Parallel()

	want := game.Stats{
		SlotsTotal:       10,
		SlotsInUse:       3,
		LiveHandlers:     6,
		SessionsCreated:  12,
		CapacityRejected: 1,
		SessionsReaped:   9,
	}
	ts := setupTestServer(t, want)

	resp, err := http.Get(ts.URL + "/sessions")
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body struct {
		Stats game.Stats `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if body.Stats != want {
		t.Errorf("Stats = %+v, want %+v", body.Stats, want)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	t.Parallel()

	ts := setupTestServer(t, game.Stats{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if body.Status != "ok" {
		t.Errorf("Status = %q, want %q", body.Status, "ok")
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	t.Parallel()

	ts := setupTestServer(t, game.Stats{})

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
