package mesh

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openconf/meshrelay/internal/api"
)

func statusServer(t *testing.T, status *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.ParticipantStatusResponse{
			ParticipantID: "p1",
			Status:        status.Load().(api.AdmissionStatus),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAdmissionPushWins(t *testing.T) {
	t.Parallel()

	var status atomic.Value
	status.Store(api.StatusWaiting)
	srv := statusServer(t, &status)

	coordinator := NewAdmissionCoordinator(srv.URL)
	go func() {
		time.Sleep(10 * time.Millisecond)
		coordinator.Deliver(api.StatusAdmitted)
	}()

	got, err := coordinator.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got != api.StatusAdmitted {
		t.Errorf("decision = %q, want admitted", got)
	}
}

func TestAdmissionPollFallback(t *testing.T) {
	t.Parallel()

	var status atomic.Value
	status.Store(api.StatusDenied)
	srv := statusServer(t, &status)

	coordinator := NewAdmissionCoordinator(srv.URL)
	coordinator.pollInterval = 10 * time.Millisecond

	got, err := coordinator.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got != api.StatusDenied {
		t.Errorf("decision = %q, want denied", got)
	}
}

func TestAdmissionFirstTerminalDecisionWins(t *testing.T) {
	t.Parallel()

	var status atomic.Value
	status.Store(api.StatusWaiting)
	srv := statusServer(t, &status)

	coordinator := NewAdmissionCoordinator(srv.URL)
	coordinator.Deliver(api.StatusAdmitted)
	coordinator.Deliver(api.StatusDenied)

	got, err := coordinator.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got != api.StatusAdmitted {
		t.Errorf("decision = %q, the first terminal transition must win", got)
	}
}

func TestAdmissionNonTerminalIgnored(t *testing.T) {
	t.Parallel()

	var status atomic.Value
	status.Store(api.StatusWaiting)
	srv := statusServer(t, &status)

	coordinator := NewAdmissionCoordinator(srv.URL)
	coordinator.Deliver(api.StatusWaiting)
	coordinator.Deliver(api.StatusDenied)

	got, err := coordinator.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got != api.StatusDenied {
		t.Errorf("decision = %q, a waiting observation must not settle the join", got)
	}
}

func TestAdmissionTimeout(t *testing.T) {
	t.Parallel()

	var status atomic.Value
	status.Store(api.StatusWaiting)
	srv := statusServer(t, &status)

	coordinator := NewAdmissionCoordinator(srv.URL)
	coordinator.pollInterval = 10 * time.Millisecond

	if _, err := coordinator.Wait(50 * time.Millisecond); err == nil {
		t.Fatal("expected a timeout error while the host stays silent")
	}
}
