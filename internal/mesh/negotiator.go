package mesh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/openconf/meshrelay/internal/api"
	"github.com/openconf/meshrelay/internal/metrics"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// DefaultDisconnectGrace is how long a link may sit in the
// disconnected state before an ICE restart is attempted.
const DefaultDisconnectGrace = 10 * time.Second

// SignalSender delivers point-to-point signaling messages to the
// relay. The To field of each message names the recipient.
type SignalSender interface {
	SendSignal(msg api.ChannelMessage) error
}

// RemoteStream is delivered to the application whenever a classified
// remote track arrives.
type RemoteStream struct {
	PeerID   string
	StreamID string
	Kind     StreamKind
	Track    *webrtc.TrackRemote
}

type event interface{}

type evRoster struct{ roster []api.Participant }
type evJoined struct{ peerID string }
type evLeft struct{ peerID string }
type evOffer struct {
	from    string
	payload api.OfferPayload
}
type evAnswer struct {
	from    string
	payload api.AnswerPayload
}
type evCandidate struct {
	from      string
	candidate webrtc.ICECandidateInit
}
type evConnState struct {
	peerID string
	state  webrtc.PeerConnectionState
}
type evGraceExpired struct{ peerID string }
type evScreenShare struct{ start bool }
type evMeetingEnded struct{}

// Negotiator drives the full mesh for one session. It is the sole
// owner of the peer link table: every mutation happens on the Run
// goroutine, fed through the event channel. Pion callbacks and the
// channel readers only post events.
//
// Initiator rule: a participant initiates exactly toward the members
// already in the roster when it subscribed. Later joiners initiate
// toward it. When two sides offer each other simultaneously, the
// lexicographically lower participant ID stays initiator and the other
// side discards its pending offer and answers instead.
type Negotiator struct {
	selfID     string
	webrtcAPI  *webrtc.API
	pcConfig   webrtc.Configuration
	signals    SignalSender
	media      *LocalMediaSource
	classifier *StreamClassifier

	links map[string]*PeerLink
	grace time.Duration

	events chan event
	done   chan struct{}

	onRemoteStream func(RemoteStream)
}

func NewNegotiator(selfID string, webrtcAPI *webrtc.API, pcConfig webrtc.Configuration,
	signals SignalSender, media *LocalMediaSource) *Negotiator {
	return &Negotiator{
		selfID:     selfID,
		webrtcAPI:  webrtcAPI,
		pcConfig:   pcConfig,
		signals:    signals,
		media:      media,
		classifier: NewStreamClassifier(),
		links:      make(map[string]*PeerLink),
		grace:      DefaultDisconnectGrace,
		events:     make(chan event, 64),
		done:       make(chan struct{}),
	}
}

// OnRemoteStream registers the remote track callback. Must be set
// before Run.
func (n *Negotiator) OnRemoteStream(f func(RemoteStream)) {
	n.onRemoteStream = f
}

// Run consumes events until the context ends, then tears down every
// link.
func (n *Negotiator) Run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			n.closeAllLinks()
			return
		case e := <-n.events:
			n.dispatch(e)
		}
	}
}

func (n *Negotiator) post(e event) {
	select {
	case n.events <- e:
	case <-n.done:
	}
}

// HandleChannelMessage routes an inbound relay message into the event
// loop.
func (n *Negotiator) HandleChannelMessage(m api.ChannelMessage) {
	switch m.Event {
	case api.EventRoster:
		n.post(evRoster{roster: m.Roster})
	case api.EventUserJoined:
		if m.Joined != nil {
			n.post(evJoined{peerID: m.Joined.ParticipantID})
		}
	case api.EventUserLeft:
		if m.Left != nil {
			n.post(evLeft{peerID: m.Left.ParticipantID})
		}
	case api.EventOffer:
		if m.Offer != nil {
			n.post(evOffer{from: m.From, payload: *m.Offer})
		}
	case api.EventAnswer:
		if m.Answer != nil {
			n.post(evAnswer{from: m.From, payload: *m.Answer})
		}
	case api.EventIceCandidate:
		if m.Candidate != nil {
			n.post(evCandidate{from: m.From, candidate: m.Candidate.Candidate})
		}
	case api.EventMeetingEnded:
		n.post(evMeetingEnded{})
	}
}

// StartScreenShare and StopScreenShare renegotiate every link to add
// or drop the screen sender.
func (n *Negotiator) StartScreenShare() { n.post(evScreenShare{start: true}) }
func (n *Negotiator) StopScreenShare()  { n.post(evScreenShare{start: false}) }

func (n *Negotiator) dispatch(e event) {
	switch ev := e.(type) {
	case evRoster:
		n.handleRoster(ev.roster)
	case evJoined:
		n.handleJoined(ev.peerID)
	case evLeft:
		n.handleLeft(ev.peerID)
	case evOffer:
		n.handleOffer(ev.from, ev.payload)
	case evAnswer:
		n.handleAnswer(ev.from, ev.payload)
	case evCandidate:
		n.handleCandidate(ev.from, ev.candidate)
	case evConnState:
		n.handleConnState(ev.peerID, ev.state)
	case evGraceExpired:
		n.handleGraceExpired(ev.peerID)
	case evScreenShare:
		if ev.start {
			n.handleScreenShareStart()
		} else {
			n.handleScreenShareStop()
		}
	case evClassify:
		ev.reply <- n.classifier.Classify(ev.peerID, ev.streamID, ev.label)
	case evMeetingEnded:
		n.closeAllLinks()
	}
}

// handleRoster initiates toward every member already present. This is
// the only place outbound links are created; handleJoined deliberately
// does not initiate, the newcomer will offer toward us.
func (n *Negotiator) handleRoster(roster []api.Participant) {
	for _, p := range roster {
		if p.ID == n.selfID {
			continue
		}
		if _, ok := n.links[p.ID]; ok {
			continue
		}
		n.initiateLink(p.ID)
	}
}

func (n *Negotiator) handleJoined(peerID string) {
	if peerID == n.selfID {
		return
	}
	slog.Info("participant joined, awaiting their offer", "peerID", peerID)
}

func (n *Negotiator) handleLeft(peerID string) {
	link, ok := n.links[peerID]
	if !ok {
		return
	}
	slog.Info("participant left, closing link", "peerID", peerID)
	n.removeLink(link)
}

func (n *Negotiator) initiateLink(peerID string) {
	pc, err := n.newPeerConnection(peerID)
	if err != nil {
		slog.Error("failed to create peer connection", "peerID", peerID, "error", err)
		return
	}

	link := newPeerLink(peerID, pc, true)
	n.links[peerID] = link
	metrics.ActivePeerLinks.Inc()
	metrics.PeerLinksCreatedTotal.WithLabelValues("initiator").Inc()

	if err := n.sendOffer(link, false); err != nil {
		n.failLink(link, "offer_failed", err)
		return
	}
	n.setState(link, linkOffering)
}

func (n *Negotiator) handleOffer(from string, p api.OfferPayload) {
	link, ok := n.links[from]

	if ok && link.state == linkOffering {
		// Simultaneous offers. Lower participant ID keeps its offer.
		if n.selfID < from {
			metrics.StaleSignalsTotal.WithLabelValues("offer").Inc()
			slog.Debug("discarding glare offer, we stay initiator", "peerID", from)
			return
		}
		slog.Debug("yielding to glare offer", "peerID", from)
		link.close()
		metrics.ActivePeerLinks.Dec()
		delete(n.links, from)
		ok = false
	}

	n.classifier.AnnounceScreenStream(from, p.ScreenStreamID)

	if !ok {
		pc, err := n.newPeerConnection(from)
		if err != nil {
			slog.Error("failed to create peer connection", "peerID", from, "error", err)
			return
		}
		link = newPeerLink(from, pc, false)
		n.links[from] = link
		metrics.ActivePeerLinks.Inc()
		metrics.PeerLinksCreatedTotal.WithLabelValues("answerer").Inc()
		n.setState(link, linkAnswering)
	}

	if err := link.pc.SetRemoteDescription(p.Description); err != nil {
		n.failLink(link, "set_remote_failed", err)
		return
	}
	link.remoteSet = true
	if err := link.flushCandidates(); err != nil {
		slog.Warn("failed to apply buffered candidate", "peerID", from, "error", err)
	}

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		n.failLink(link, "create_answer_failed", err)
		return
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		n.failLink(link, "set_local_failed", err)
		return
	}

	err = n.signals.SendSignal(api.ChannelMessage{
		Event:  api.EventAnswer,
		To:     from,
		Answer: &api.AnswerPayload{Description: *link.pc.LocalDescription()},
	})
	if err != nil {
		n.failLink(link, "send_answer_failed", err)
	}
}

// handleAnswer applies a remote answer only while a local offer is
// outstanding. Anything else is a stale answer from an abandoned
// negotiation round and is dropped without touching the link.
func (n *Negotiator) handleAnswer(from string, p api.AnswerPayload) {
	link, ok := n.links[from]
	if !ok || link.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		metrics.StaleSignalsTotal.WithLabelValues("answer").Inc()
		slog.Debug("dropping stale answer", "peerID", from)
		return
	}

	if err := link.pc.SetRemoteDescription(p.Description); err != nil {
		n.failLink(link, "set_remote_failed", err)
		return
	}
	link.remoteSet = true
	if err := link.flushCandidates(); err != nil {
		slog.Warn("failed to apply buffered candidate", "peerID", from, "error", err)
	}
}

func (n *Negotiator) handleCandidate(from string, c webrtc.ICECandidateInit) {
	link, ok := n.links[from]
	if !ok {
		metrics.StaleSignalsTotal.WithLabelValues("candidate").Inc()
		return
	}
	if err := link.bufferOrApply(c); err != nil {
		slog.Warn("failed to add candidate", "peerID", from, "error", err)
	}
}

func (n *Negotiator) handleConnState(peerID string, state webrtc.PeerConnectionState) {
	link, ok := n.links[peerID]
	if !ok {
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		link.cancelGrace()
		link.restartAttempted = false
		n.setState(link, linkConnected)
		n.reconcileScreenSender(link)

	case webrtc.PeerConnectionStateDisconnected:
		if link.state != linkConnected {
			return
		}
		n.setState(link, linkDisconnected)
		n.startGrace(link)

	case webrtc.PeerConnectionStateFailed:
		if !link.restartAttempted {
			n.restartICE(link)
			return
		}
		n.failLink(link, "ice_failed", errors.New("connection failed after restart"))

	case webrtc.PeerConnectionStateClosed:
		if link.state != linkClosed {
			n.removeLink(link)
		}
	}
}

func (n *Negotiator) startGrace(link *PeerLink) {
	link.cancelGrace()
	peerID := link.peerID
	link.graceTimer = time.AfterFunc(n.grace, func() {
		n.post(evGraceExpired{peerID: peerID})
	})
}

// handleGraceExpired fires when a disconnected link did not recover
// within the grace period: one ICE restart, then give up.
func (n *Negotiator) handleGraceExpired(peerID string) {
	link, ok := n.links[peerID]
	if !ok || link.state != linkDisconnected {
		return
	}
	if link.restartAttempted {
		n.failLink(link, "grace_expired", errors.New("no recovery after restart"))
		return
	}
	n.restartICE(link)
}

func (n *Negotiator) restartICE(link *PeerLink) {
	link.restartAttempted = true
	metrics.IceRestartsTotal.Inc()
	metrics.RenegotiationsTotal.WithLabelValues("ice_restart").Inc()
	slog.Info("attempting ICE restart", "peerID", link.peerID)

	if err := n.sendOffer(link, true); err != nil {
		n.failLink(link, "ice_restart_failed", err)
		return
	}
	// A second grace period bounds the restart attempt.
	n.startGrace(link)
}

// reconcileScreenSender brings a freshly connected link in line with
// the current share state. A share started while the link was still
// negotiating has no sender on it yet; one stopped in that window may
// have left a sender behind.
func (n *Negotiator) reconcileScreenSender(link *PeerLink) {
	track := n.media.ScreenTrack()

	switch {
	case track != nil && link.screenSender == nil:
		sender, err := link.pc.AddTrack(track)
		if err != nil {
			slog.Error("failed to add screen track", "peerID", link.peerID, "error", err)
			return
		}
		link.screenSender = sender
		go n.drainRTCP(sender)
		metrics.RenegotiationsTotal.WithLabelValues("screen_share_start").Inc()
		if err := n.sendOffer(link, false); err != nil {
			slog.Error("screen share renegotiation failed", "peerID", link.peerID, "error", err)
		}

	case track == nil && link.screenSender != nil:
		if err := link.pc.RemoveTrack(link.screenSender); err != nil {
			slog.Error("failed to remove screen track", "peerID", link.peerID, "error", err)
		}
		link.screenSender = nil
		metrics.RenegotiationsTotal.WithLabelValues("screen_share_stop").Inc()
		if err := n.sendOffer(link, false); err != nil {
			slog.Error("screen share renegotiation failed", "peerID", link.peerID, "error", err)
		}
	}
}

func (n *Negotiator) handleScreenShareStart() {
	track, streamID, err := n.media.StartScreenTrack()
	if err != nil {
		slog.Error("failed to start screen track", "error", err)
		return
	}

	metrics.RenegotiationsTotal.WithLabelValues("screen_share_start").Inc()
	for _, link := range n.links {
		if link.state != linkConnected || link.screenSender != nil {
			continue
		}
		sender, err := link.pc.AddTrack(track)
		if err != nil {
			slog.Error("failed to add screen track", "peerID", link.peerID, "error", err)
			continue
		}
		link.screenSender = sender
		go n.drainRTCP(sender)
		if err := n.sendOffer(link, false); err != nil {
			slog.Error("screen share renegotiation failed", "peerID", link.peerID, "error", err)
		}
	}
	slog.Info("screen share started", "streamID", streamID)
}

func (n *Negotiator) handleScreenShareStop() {
	n.media.StopScreenTrack()

	metrics.RenegotiationsTotal.WithLabelValues("screen_share_stop").Inc()
	for _, link := range n.links {
		if link.screenSender == nil {
			continue
		}
		if err := link.pc.RemoveTrack(link.screenSender); err != nil {
			slog.Error("failed to remove screen track", "peerID", link.peerID, "error", err)
		}
		link.screenSender = nil
		if link.state == linkConnected {
			if err := n.sendOffer(link, false); err != nil {
				slog.Error("screen share renegotiation failed", "peerID", link.peerID, "error", err)
			}
		}
	}
	slog.Info("screen share stopped")
}

// sendOffer creates and sends an offer on the link, tagging the active
// screen stream identifier so the receiver can classify it ahead of
// the first frame.
func (n *Negotiator) sendOffer(link *PeerLink, iceRestart bool) error {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}

	offer, err := link.pc.CreateOffer(opts)
	if err != nil {
		return err
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	link.remoteSet = false

	return n.signals.SendSignal(api.ChannelMessage{
		Event: api.EventOffer,
		To:    link.peerID,
		Offer: &api.OfferPayload{
			Description:    *link.pc.LocalDescription(),
			ScreenStreamID: n.media.ScreenStreamID(),
		},
	})
}

func (n *Negotiator) newPeerConnection(peerID string) (*webrtc.PeerConnection, error) {
	pc, err := n.webrtcAPI.NewPeerConnection(n.pcConfig)
	if err != nil {
		return nil, err
	}

	for _, track := range n.localTracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		go n.drainRTCP(sender)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		err := n.signals.SendSignal(api.ChannelMessage{
			Event:     api.EventIceCandidate,
			To:        peerID,
			Candidate: &api.CandidatePayload{Candidate: c.ToJSON()},
		})
		if err != nil {
			slog.Warn("failed to send candidate", "peerID", peerID, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.post(evConnState{peerID: peerID, state: state})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind := n.classifyOnLoop(peerID, track.StreamID(), track.ID())
		slog.Info("remote track", "peerID", peerID, "streamID", track.StreamID(), "kind", kind)
		if n.onRemoteStream != nil {
			n.onRemoteStream(RemoteStream{
				PeerID:   peerID,
				StreamID: track.StreamID(),
				Kind:     kind,
				Track:    track,
			})
		}
	})

	return pc, nil
}

// classifyOnLoop runs the classifier on the negotiator goroutine. The
// OnTrack callback fires on a pion goroutine, so the verdict is
// fetched through the event channel to keep classifier state
// single-owner.
func (n *Negotiator) classifyOnLoop(peerID, streamID, label string) StreamKind {
	reply := make(chan StreamKind, 1)
	n.post(evClassify{peerID: peerID, streamID: streamID, label: label, reply: reply})
	select {
	case kind := <-reply:
		return kind
	case <-n.done:
		return KindCamera
	}
}

type evClassify struct {
	peerID   string
	streamID string
	label    string
	reply    chan StreamKind
}

func (n *Negotiator) localTracks() []webrtc.TrackLocal {
	tracks := []webrtc.TrackLocal{n.media.AudioTrack(), n.media.VideoTrack()}
	if screen := n.media.ScreenTrack(); screen != nil {
		tracks = append(tracks, screen)
	}
	return tracks
}

// drainRTCP consumes feedback on a sender so the interceptors keep
// working, counting keyframe and retransmission requests.
func (n *Negotiator) drainRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				slog.Debug("rtcp read ended", "error", err)
			}
			return
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication:
				metrics.PLIRequestsTotal.Inc()
			case *rtcp.TransportLayerNack:
				metrics.NACKRequestsTotal.Inc()
			}
		}
	}
}

func (n *Negotiator) setState(link *PeerLink, state linkState) {
	if link.state == state {
		return
	}
	link.state = state
	metrics.LinkStateChangesTotal.WithLabelValues(state.String()).Inc()
	slog.Debug("link state", "peerID", link.peerID, "state", state.String())
}

// failLink isolates a broken link: the failure is recorded, the link
// torn down, and every other edge of the mesh keeps running.
func (n *Negotiator) failLink(link *PeerLink, reason string, err error) {
	slog.Error("peer link failed", "peerID", link.peerID, "reason", reason, "error", err)
	metrics.PeerLinkFailuresTotal.WithLabelValues(reason).Inc()
	n.setState(link, linkFailed)
	n.removeLink(link)
}

func (n *Negotiator) removeLink(link *PeerLink) {
	link.close()
	if _, ok := n.links[link.peerID]; ok {
		delete(n.links, link.peerID)
		metrics.ActivePeerLinks.Dec()
	}
	n.classifier.Forget(link.peerID)
}

func (n *Negotiator) closeAllLinks() {
	for _, link := range n.links {
		link.close()
		metrics.ActivePeerLinks.Dec()
	}
	n.links = make(map[string]*PeerLink)
}
