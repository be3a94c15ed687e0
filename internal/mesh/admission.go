package mesh

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openconf/meshrelay/internal/api"
	"github.com/valyala/fasthttp"
)

// DefaultAdmissionPollInterval is the cadence of the polling fallback
// while waiting on a host decision.
const DefaultAdmissionPollInterval = 2 * time.Second

// AdmissionCoordinator waits out the host's decision on a join. Two
// delivery paths race: the pushed row update on the waiting channel
// and a periodic poll of the status endpoint. The first terminal
// status wins; everything after it is ignored, so a push and a poll
// reporting the same transition cannot double-fire.
type AdmissionCoordinator struct {
	statusURL    string
	pollInterval time.Duration
	client       *fasthttp.Client

	once    sync.Once
	decided chan api.AdmissionStatus
	stop    chan struct{}
}

func NewAdmissionCoordinator(statusURL string) *AdmissionCoordinator {
	return &AdmissionCoordinator{
		statusURL:    statusURL,
		pollInterval: DefaultAdmissionPollInterval,
		client:       &fasthttp.Client{},
		decided:      make(chan api.AdmissionStatus, 1),
		stop:         make(chan struct{}),
	}
}

// Deliver feeds a status observation from either path. Non-terminal
// statuses are ignored.
func (a *AdmissionCoordinator) Deliver(status api.AdmissionStatus) {
	if !status.Terminal() {
		return
	}
	a.once.Do(func() {
		a.decided <- status
		close(a.stop)
	})
}

// Wait blocks until a terminal decision arrives or timeout elapses,
// polling in the background the whole time.
func (a *AdmissionCoordinator) Wait(timeout time.Duration) (api.AdmissionStatus, error) {
	go a.pollLoop()
	defer a.Cancel()

	select {
	case status := <-a.decided:
		return status, nil
	case <-time.After(timeout):
		return api.StatusWaiting, fmt.Errorf("no admission decision within %s", timeout)
	}
}

// Cancel stops the poller. Safe to call any number of times.
func (a *AdmissionCoordinator) Cancel() {
	a.once.Do(func() {
		close(a.stop)
	})
}

func (a *AdmissionCoordinator) pollLoop() {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			status, err := a.poll()
			if err != nil {
				slog.Debug("admission poll failed", "error", err)
				continue
			}
			a.Deliver(status)
		}
	}
}

func (a *AdmissionCoordinator) poll() (api.AdmissionStatus, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(a.statusURL)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := a.client.DoTimeout(req, resp, a.pollInterval); err != nil {
		return "", err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("status endpoint returned %d", resp.StatusCode())
	}

	var body api.ParticipantStatusResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("failed to decode status response: %w", err)
	}
	return body.Status, nil
}
