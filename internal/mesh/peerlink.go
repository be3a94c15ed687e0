package mesh

import (
	"time"

	"github.com/pion/webrtc/v4"
)

type linkState int

const (
	linkNew linkState = iota
	linkOffering
	linkAnswering
	linkConnected
	linkDisconnected
	linkFailed
	linkClosed
)

func (s linkState) String() string {
	switch s {
	case linkNew:
		return "new"
	case linkOffering:
		return "offering"
	case linkAnswering:
		return "answering"
	case linkConnected:
		return "connected"
	case linkDisconnected:
		return "disconnected"
	case linkFailed:
		return "failed"
	case linkClosed:
		return "closed"
	}
	return "unknown"
}

// PeerLink is one edge of the mesh: the peer connection toward a
// single remote participant plus the negotiation state around it. All
// fields belong to the negotiator goroutine; nothing here is safe for
// concurrent use.
type PeerLink struct {
	peerID    string
	pc        *webrtc.PeerConnection
	state     linkState
	initiator bool

	// Candidates arriving before the remote description are buffered
	// and replayed once it lands.
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit

	// screenSender is the extra sender added while this side shares a
	// screen; nil otherwise.
	screenSender *webrtc.RTPSender

	// graceTimer runs while the link sits in linkDisconnected. It is
	// canceled by recovery or teardown.
	graceTimer *time.Timer

	restartAttempted bool
}

func newPeerLink(peerID string, pc *webrtc.PeerConnection, initiator bool) *PeerLink {
	return &PeerLink{
		peerID:    peerID,
		pc:        pc,
		state:     linkNew,
		initiator: initiator,
	}
}

func (l *PeerLink) cancelGrace() {
	if l.graceTimer != nil {
		l.graceTimer.Stop()
		l.graceTimer = nil
	}
}

// close tears the link down. Idempotent; a second close is a no-op so
// overlapping failure paths cannot double-release.
func (l *PeerLink) close() {
	if l.state == linkClosed {
		return
	}
	l.cancelGrace()
	l.state = linkClosed
	l.pendingCandidates = nil
	_ = l.pc.Close()
}

// bufferOrApply queues a remote candidate until the remote description
// is set, then applies directly.
func (l *PeerLink) bufferOrApply(candidate webrtc.ICECandidateInit) error {
	if !l.remoteSet {
		l.pendingCandidates = append(l.pendingCandidates, candidate)
		return nil
	}
	return l.pc.AddICECandidate(candidate)
}

// flushCandidates applies everything buffered before the remote
// description arrived.
func (l *PeerLink) flushCandidates() error {
	for _, c := range l.pendingCandidates {
		if err := l.pc.AddICECandidate(c); err != nil {
			return err
		}
	}
	l.pendingCandidates = nil
	return nil
}
