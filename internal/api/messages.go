// Package api defines the wire types carried on the per-room channel
// topics and the REST surface of the relay. Every channel message has
// an event discriminator plus optional payload pointers; point-to-point
// messages additionally carry from/to participant identifiers.
package api

import (
	"time"

	"github.com/pion/webrtc/v4"
)

type ChannelEvent string

// Presence topic events.
const (
	EventRoster       = ChannelEvent("roster")
	EventUserJoined   = ChannelEvent("user-joined")
	EventUserLeft     = ChannelEvent("user-left")
	EventHandRaised   = ChannelEvent("hand-raised")
	EventHandLowered  = ChannelEvent("hand-lowered")
	EventChat         = ChannelEvent("chat")
	EventAdmission    = ChannelEvent("admission")
	EventMeetingEnded = ChannelEvent("meeting-ended")
	EventPing         = ChannelEvent("ping")
	EventPong         = ChannelEvent("pong")
)

// Signaling topic events.
const (
	EventOffer        = ChannelEvent("offer")
	EventAnswer       = ChannelEvent("answer")
	EventIceCandidate = ChannelEvent("ice-candidate")
)

// ChannelMessage is the envelope for both room topics. From is filled
// by the sender; To is only set on point-to-point signaling messages
// and the relay delivers those to the addressed participant alone.
type ChannelMessage struct {
	Event     ChannelEvent      `json:"event"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	Roster    []Participant     `json:"roster,omitempty"`
	Joined    *JoinedPayload    `json:"joined,omitempty"`
	Left      *LeftPayload      `json:"left,omitempty"`
	Offer     *OfferPayload     `json:"offer,omitempty"`
	Answer    *AnswerPayload    `json:"answer,omitempty"`
	Candidate *CandidatePayload `json:"candidate,omitempty"`
	Hand      *HandPayload      `json:"hand,omitempty"`
	Chat      *ChatPayload      `json:"chat,omitempty"`
	Admission *AdmissionPayload `json:"admission,omitempty"`
}

type JoinedPayload struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Role          Role   `json:"role"`
}

type LeftPayload struct {
	ParticipantID string `json:"participantId"`
}

// OfferPayload carries a session description. ScreenStreamID, when
// set, announces that the stream with that identifier in the offered
// media is a screen capture, letting the receiver classify it before
// the first track arrives.
type OfferPayload struct {
	Description    webrtc.SessionDescription `json:"sdp"`
	ScreenStreamID string                    `json:"screenStreamId,omitempty"`
}

type AnswerPayload struct {
	Description webrtc.SessionDescription `json:"sdp"`
}

type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type HandPayload struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

type ChatPayload struct {
	ParticipantID string    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	Body          string    `json:"body"`
	SentAt        time.Time `json:"sentAt"`
}

// AdmissionPayload is the row-update event pushed to a waiting
// participant when the host decides on their admission.
type AdmissionPayload struct {
	ParticipantID string          `json:"participantId"`
	Status        AdmissionStatus `json:"status"`
}
