package mesh

import (
	"sync"
	"testing"

	"github.com/openconf/meshrelay/internal/api"
	"github.com/pion/webrtc/v4"
)

// captureSender records outbound signaling. ICE gathering posts
// candidates from pion goroutines, so access is locked.
type captureSender struct {
	mu   sync.Mutex
	msgs []api.ChannelMessage
}

func (c *captureSender) SendSignal(m api.ChannelMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *captureSender) byEvent(event api.ChannelEvent) []api.ChannelMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []api.ChannelMessage
	for _, m := range c.msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func newTestNegotiator(t *testing.T, selfID string) (*Negotiator, *captureSender) {
	t.Helper()

	media, err := NewLocalMediaSource()
	if err != nil {
		t.Fatalf("NewLocalMediaSource: %v", err)
	}
	webrtcAPI, err := newWebRTCAPI("")
	if err != nil {
		t.Fatalf("newWebRTCAPI: %v", err)
	}

	sender := &captureSender{}
	n := NewNegotiator(selfID, webrtcAPI, webrtc.Configuration{}, sender, media)
	t.Cleanup(n.closeAllLinks)
	return n, sender
}

func roster(ids ...string) []api.Participant {
	out := make([]api.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, api.Participant{ID: id, Status: api.StatusAdmitted})
	}
	return out
}

// connect runs a full offer/answer round between an initiator and an
// answerer negotiator, returning the initiator's link.
func connect(t *testing.T, initiator *Negotiator, initiatorSender *captureSender,
	answerer *Negotiator, answererSender *captureSender) *PeerLink {
	t.Helper()

	initiator.handleRoster(roster(answerer.selfID))
	offers := initiatorSender.byEvent(api.EventOffer)
	if len(offers) != 1 {
		t.Fatalf("initiator sent %d offers, want 1", len(offers))
	}

	answerer.handleOffer(initiator.selfID, *offers[0].Offer)
	answers := answererSender.byEvent(api.EventAnswer)
	if len(answers) != 1 {
		t.Fatalf("answerer sent %d answers, want 1", len(answers))
	}

	initiator.handleAnswer(answerer.selfID, *answers[0].Answer)
	return initiator.links[answerer.selfID]
}

func TestRosterInitiatesTowardPresentMembers(t *testing.T) {
	n, sender := newTestNegotiator(t, "carol")

	n.handleRoster(roster("alice", "bob", "carol"))

	if len(n.links) != 2 {
		t.Fatalf("got %d links, want 2 (self excluded)", len(n.links))
	}
	for _, peerID := range []string{"alice", "bob"} {
		link, ok := n.links[peerID]
		if !ok {
			t.Fatalf("no link toward %s", peerID)
		}
		if !link.initiator {
			t.Errorf("link toward %s is not initiator", peerID)
		}
		if link.state != linkOffering {
			t.Errorf("link toward %s in state %s, want offering", peerID, link.state)
		}
	}

	offers := sender.byEvent(api.EventOffer)
	if len(offers) != 2 {
		t.Fatalf("sent %d offers, want 2", len(offers))
	}
	targets := map[string]bool{}
	for _, m := range offers {
		targets[m.To] = true
	}
	if !targets["alice"] || !targets["bob"] {
		t.Errorf("offers addressed to %v, want alice and bob", targets)
	}
}

func TestRepeatedRosterDoesNotDuplicateLinks(t *testing.T) {
	n, sender := newTestNegotiator(t, "carol")

	n.handleRoster(roster("alice"))
	n.handleRoster(roster("alice"))

	if len(n.links) != 1 {
		t.Fatalf("got %d links, want 1", len(n.links))
	}
	if got := len(sender.byEvent(api.EventOffer)); got != 1 {
		t.Errorf("sent %d offers, want 1", got)
	}
}

func TestLaterJoinerDoesNotTriggerInitiation(t *testing.T) {
	n, sender := newTestNegotiator(t, "alice")

	n.handleJoined("bob")

	if len(n.links) != 0 {
		t.Fatalf("got %d links, want 0; the newcomer offers toward us", len(n.links))
	}
	if got := len(sender.byEvent(api.EventOffer)); got != 0 {
		t.Errorf("sent %d offers, want 0", got)
	}
}

func TestOfferAnswerRound(t *testing.T) {
	alice, aliceSender := newTestNegotiator(t, "alice")
	bob, bobSender := newTestNegotiator(t, "bob")

	link := connect(t, alice, aliceSender, bob, bobSender)

	if !link.remoteSet {
		t.Error("initiator link has no remote description after answer")
	}
	if link.pc.SignalingState() != webrtc.SignalingStateStable {
		t.Errorf("signaling state = %s, want stable", link.pc.SignalingState())
	}
	bobLink := bob.links["alice"]
	if bobLink == nil || bobLink.initiator {
		t.Error("answerer side should hold a non-initiator link")
	}
}

func TestStaleAnswerIsDropped(t *testing.T) {
	alice, aliceSender := newTestNegotiator(t, "alice")
	bob, bobSender := newTestNegotiator(t, "bob")

	link := connect(t, alice, aliceSender, bob, bobSender)
	answers := bobSender.byEvent(api.EventAnswer)

	// Replay the answer after negotiation settled.
	alice.handleAnswer("bob", *answers[0].Answer)

	if got := alice.links["bob"]; got != link {
		t.Error("stale answer must not touch the link")
	}
	if link.pc.SignalingState() != webrtc.SignalingStateStable {
		t.Errorf("signaling state = %s, want stable", link.pc.SignalingState())
	}

	// An answer from a peer with no link at all is equally inert.
	alice.handleAnswer("mallory", *answers[0].Answer)
	if _, ok := alice.links["mallory"]; ok {
		t.Error("stale answer created a link")
	}
}

func TestGlareTieBreak(t *testing.T) {
	alice, aliceSender := newTestNegotiator(t, "alice")
	bob, bobSender := newTestNegotiator(t, "bob")

	// Both sides initiate simultaneously.
	alice.handleRoster(roster("bob"))
	bob.handleRoster(roster("alice"))

	aliceOffer := aliceSender.byEvent(api.EventOffer)[0]
	bobOffer := bobSender.byEvent(api.EventOffer)[0]

	// Lower ID keeps its pending offer.
	alice.handleOffer("bob", *bobOffer.Offer)
	if link := alice.links["bob"]; !link.initiator || link.state != linkOffering {
		t.Error("lower ID must stay initiator through glare")
	}
	if got := len(aliceSender.byEvent(api.EventAnswer)); got != 0 {
		t.Errorf("lower ID sent %d answers, want 0", got)
	}

	// Higher ID yields: discards its offer and answers instead.
	bob.handleOffer("alice", *aliceOffer.Offer)
	bobLink := bob.links["alice"]
	if bobLink == nil || bobLink.initiator {
		t.Fatal("higher ID must yield and become answerer")
	}
	answers := bobSender.byEvent(api.EventAnswer)
	if len(answers) != 1 {
		t.Fatalf("higher ID sent %d answers, want 1", len(answers))
	}

	// The round completes on the survivor's offer.
	alice.handleAnswer("bob", *answers[0].Answer)
	if alice.links["bob"].pc.SignalingState() != webrtc.SignalingStateStable {
		t.Error("glare round did not settle")
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	alice, aliceSender := newTestNegotiator(t, "alice")
	bob, bobSender := newTestNegotiator(t, "bob")

	alice.handleRoster(roster("bob"))

	candidate := webrtc.ICECandidateInit{
		Candidate: "candidate:3993008668 1 udp 2122260223 192.0.2.7 49827 typ host generation 0",
	}
	alice.handleCandidate("bob", candidate)

	link := alice.links["bob"]
	if len(link.pendingCandidates) != 1 {
		t.Fatalf("buffered %d candidates, want 1", len(link.pendingCandidates))
	}

	bob.handleOffer("alice", *aliceSender.byEvent(api.EventOffer)[0].Offer)
	alice.handleAnswer("bob", *bobSender.byEvent(api.EventAnswer)[0].Answer)

	if len(link.pendingCandidates) != 0 {
		t.Errorf("%d candidates left buffered after remote description", len(link.pendingCandidates))
	}
}

func TestDuplicateCandidateIsTolerated(t *testing.T) {
	alice, aliceSender := newTestNegotiator(t, "alice")
	bob, bobSender := newTestNegotiator(t, "bob")

	link := connect(t, alice, aliceSender, bob, bobSender)

	candidate := webrtc.ICECandidateInit{
		Candidate: "candidate:3993008668 1 udp 2122260223 192.0.2.7 49827 typ host generation 0",
	}
	alice.handleCandidate("bob", candidate)
	alice.handleCandidate("bob", candidate)

	if _, ok := alice.links["bob"]; !ok {
		t.Error("duplicate candidate tore down the link")
	}
	if link.state == linkFailed || link.state == linkClosed {
		t.Errorf("link state = %s after duplicate candidate", link.state)
	}
}

func TestThreePartyJoinOrderProducesOneLinkPerPair(t *testing.T) {
	// A joins an empty room, B sees A, C sees A and B. Each pair must
	// end with exactly one link and one initiator.
	negotiators := map[string]*Negotiator{}
	senders := map[string]*captureSender{}
	for _, id := range []string{"a", "b", "c"} {
		negotiators[id], senders[id] = newTestNegotiator(t, id)
	}

	negotiators["a"].handleRoster(roster("a"))
	negotiators["b"].handleRoster(roster("a", "b"))
	negotiators["c"].handleRoster(roster("a", "b", "c"))

	// Deliver every offer, then every answer.
	for _, from := range []string{"a", "b", "c"} {
		for _, m := range senders[from].byEvent(api.EventOffer) {
			negotiators[m.To].handleOffer(from, *m.Offer)
		}
	}
	for _, from := range []string{"a", "b", "c"} {
		for _, m := range senders[from].byEvent(api.EventAnswer) {
			negotiators[m.To].handleAnswer(from, *m.Answer)
		}
	}

	wantLinks := map[string]int{"a": 2, "b": 2, "c": 2}
	for id, n := range negotiators {
		if len(n.links) != wantLinks[id] {
			t.Errorf("%s holds %d links, want %d", id, len(n.links), wantLinks[id])
		}
	}

	// Exactly one initiator per unordered pair.
	pairs := [][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}}
	for _, pair := range pairs {
		left := negotiators[pair[0]].links[pair[1]]
		right := negotiators[pair[1]].links[pair[0]]
		if left == nil || right == nil {
			t.Fatalf("pair %v is missing a link", pair)
		}
		if left.initiator == right.initiator {
			t.Errorf("pair %v: both sides report initiator=%v", pair, left.initiator)
		}
	}
}

func TestCandidateForUnknownPeerIsDropped(t *testing.T) {
	alice, _ := newTestNegotiator(t, "alice")

	alice.handleCandidate("ghost", webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 192.0.2.1 1 typ host"})

	if len(alice.links) != 0 {
		t.Error("candidate for unknown peer created a link")
	}
}

func TestUserLeftClosesLinkImmediately(t *testing.T) {
	alice, aliceSender := newTestNegotiator(t, "alice")
	bob, bobSender := newTestNegotiator(t, "bob")

	link := connect(t, alice, aliceSender, bob, bobSender)

	alice.handleLeft("bob")

	if _, ok := alice.links["bob"]; ok {
		t.Error("link survives an explicit departure")
	}
	if link.state != linkClosed {
		t.Errorf("link state = %s, want closed", link.state)
	}

	// Teardown is idempotent.
	alice.handleLeft("bob")
	link.close()
}

func TestMeetingEndedClosesAllLinks(t *testing.T) {
	n, _ := newTestNegotiator(t, "carol")

	n.handleRoster(roster("alice", "bob"))
	n.dispatch(evMeetingEnded{})

	if len(n.links) != 0 {
		t.Fatalf("%d links left after meeting ended", len(n.links))
	}
}

func TestScreenShareRenegotiatesConnectedLinks(t *testing.T) {
	alice, aliceSender := newTestNegotiator(t, "alice")
	bob, bobSender := newTestNegotiator(t, "bob")

	link := connect(t, alice, aliceSender, bob, bobSender)
	link.state = linkConnected

	alice.handleScreenShareStart()

	if link.screenSender == nil {
		t.Fatal("no screen sender after share start")
	}
	offers := aliceSender.byEvent(api.EventOffer)
	renegotiation := offers[len(offers)-1]
	if renegotiation.Offer.ScreenStreamID == "" {
		t.Error("renegotiation offer lacks the screen stream identifier")
	}
	if renegotiation.Offer.ScreenStreamID != alice.media.ScreenStreamID() {
		t.Error("announced stream identifier does not match the screen track")
	}

	// Complete the round so the stop side can renegotiate too.
	bob.links["alice"].state = linkConnected
	bob.handleOffer("alice", *renegotiation.Offer)
	answers := bobSender.byEvent(api.EventAnswer)
	alice.handleAnswer("bob", *answers[len(answers)-1].Answer)

	alice.handleScreenShareStop()

	if link.screenSender != nil {
		t.Error("screen sender still attached after share stop")
	}
	offers = aliceSender.byEvent(api.EventOffer)
	if last := offers[len(offers)-1]; last.Offer.ScreenStreamID != "" {
		t.Error("stop renegotiation still announces a screen stream")
	}
	if alice.media.ScreenStreamID() != "" {
		t.Error("media source still reports an active screen stream")
	}
}

func TestScreenShareReachesLinkThatConnectsLater(t *testing.T) {
	alice, aliceSender := newTestNegotiator(t, "alice")
	bob, bobSender := newTestNegotiator(t, "bob")

	link := connect(t, alice, aliceSender, bob, bobSender)

	// Share starts while the transport is still connecting.
	alice.handleScreenShareStart()
	if link.screenSender != nil {
		t.Fatal("sender attached before the link connected")
	}
	offersBefore := len(aliceSender.byEvent(api.EventOffer))

	alice.handleConnState("bob", webrtc.PeerConnectionStateConnected)

	if link.screenSender == nil {
		t.Fatal("link that connected after share start never received the screen sender")
	}
	offers := aliceSender.byEvent(api.EventOffer)
	if len(offers) != offersBefore+1 {
		t.Fatalf("connect sent %d offers, want exactly one renegotiation", len(offers)-offersBefore)
	}
	if last := offers[len(offers)-1]; last.Offer.ScreenStreamID != alice.media.ScreenStreamID() {
		t.Error("renegotiation offer does not announce the screen stream")
	}

	// A link already carrying the sender is left alone on reconnect.
	alice.handleConnState("bob", webrtc.PeerConnectionStateConnected)
	if got := len(aliceSender.byEvent(api.EventOffer)); got != offersBefore+1 {
		t.Errorf("reconnect renegotiated again, %d offers total", got)
	}
}

func TestScreenShareAnnouncementDrivesClassifier(t *testing.T) {
	bob, _ := newTestNegotiator(t, "bob")
	alice, aliceSender := newTestNegotiator(t, "alice")

	alice.handleRoster(roster("bob"))
	offer := *aliceSender.byEvent(api.EventOffer)[0].Offer
	offer.ScreenStreamID = "stream-42"

	bob.handleOffer("alice", offer)

	if kind := bob.classifier.Classify("alice", "stream-42", "video"); kind != KindScreen {
		t.Errorf("announced stream classified as %s, want screen", kind)
	}
}

func TestDisconnectGraceThenIceRestart(t *testing.T) {
	alice, aliceSender := newTestNegotiator(t, "alice")
	bob, bobSender := newTestNegotiator(t, "bob")

	link := connect(t, alice, aliceSender, bob, bobSender)

	alice.handleConnState("bob", webrtc.PeerConnectionStateConnected)
	if link.state != linkConnected {
		t.Fatalf("link state = %s, want connected", link.state)
	}

	alice.handleConnState("bob", webrtc.PeerConnectionStateDisconnected)
	if link.state != linkDisconnected {
		t.Fatalf("link state = %s, want disconnected", link.state)
	}
	if link.graceTimer == nil {
		t.Fatal("no grace timer running after disconnect")
	}

	offersBefore := len(aliceSender.byEvent(api.EventOffer))
	alice.handleGraceExpired("bob")

	if !link.restartAttempted {
		t.Error("grace expiry did not attempt an ICE restart")
	}
	if got := len(aliceSender.byEvent(api.EventOffer)); got != offersBefore+1 {
		t.Errorf("restart sent %d offers, want exactly one more", got-offersBefore)
	}

	// Second expiry without recovery gives up on this link only.
	alice.handleGraceExpired("bob")
	if _, ok := alice.links["bob"]; ok {
		t.Error("link survives a failed restart")
	}
}

func TestRecoveryBeforeGraceExpiryKeepsLink(t *testing.T) {
	alice, aliceSender := newTestNegotiator(t, "alice")
	bob, bobSender := newTestNegotiator(t, "bob")

	link := connect(t, alice, aliceSender, bob, bobSender)

	alice.handleConnState("bob", webrtc.PeerConnectionStateConnected)
	alice.handleConnState("bob", webrtc.PeerConnectionStateDisconnected)
	alice.handleConnState("bob", webrtc.PeerConnectionStateConnected)

	if link.state != linkConnected {
		t.Fatalf("link state = %s, want connected", link.state)
	}
	if link.graceTimer != nil {
		t.Error("grace timer still armed after recovery")
	}

	// A stale expiry event from the canceled timer is harmless.
	alice.handleGraceExpired("bob")
	if _, ok := alice.links["bob"]; !ok {
		t.Error("stale grace expiry tore down a healthy link")
	}
}

func TestPeerFailureIsIsolated(t *testing.T) {
	carol, carolSender := newTestNegotiator(t, "carol")
	alice, aliceSender := newTestNegotiator(t, "alice")

	carol.handleRoster(roster("alice", "bob"))

	alice.handleOffer("carol", *offerTo(t, carolSender, "alice").Offer)
	carol.handleAnswer("alice", *aliceSender.byEvent(api.EventAnswer)[0].Answer)

	// bob's link dies; alice's stays.
	bobLink := carol.links["bob"]
	carol.failLink(bobLink, "ice_failed", errContrived)

	if _, ok := carol.links["bob"]; ok {
		t.Error("failed link still in table")
	}
	if _, ok := carol.links["alice"]; !ok {
		t.Error("healthy link was torn down with the failed one")
	}
}

var errContrived = webrtc.ErrConnectionClosed

func offerTo(t *testing.T, sender *captureSender, to string) api.ChannelMessage {
	t.Helper()
	for _, m := range sender.byEvent(api.EventOffer) {
		if m.To == to {
			return m
		}
	}
	t.Fatalf("no offer addressed to %s", to)
	return api.ChannelMessage{}
}
