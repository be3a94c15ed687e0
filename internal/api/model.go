package api

import "time"

type Role string

const (
	RoleHost        = Role("host")
	RoleParticipant = Role("participant")
)

type AdmissionStatus string

const (
	StatusWaiting  = AdmissionStatus("waiting")
	StatusAdmitted = AdmissionStatus("admitted")
	StatusDenied   = AdmissionStatus("denied")
	StatusLeft     = AdmissionStatus("left")
	StatusRemoved  = AdmissionStatus("removed")
)

// Terminal reports whether the status is a terminal admission
// decision from the waiting client's perspective.
func (s AdmissionStatus) Terminal() bool {
	return s == StatusAdmitted || s == StatusDenied || s == StatusRemoved
}

type Participant struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName"`
	Role        Role            `json:"role"`
	Status      AdmissionStatus `json:"status"`
	JoinedAt    time.Time       `json:"joinedAt"`
}

type RoomStatus string

const (
	RoomScheduled = RoomStatus("scheduled")
	RoomActive    = RoomStatus("active")
	RoomEnded     = RoomStatus("ended")
)

// Room carries the membership-policy flags distributed to clients at
// join time. Screen-share enforcement happens client side; the locked
// flag is enforced by the relay on join.
type Room struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	HostID              string     `json:"hostId,omitempty"`
	Status              RoomStatus `json:"status"`
	WaitingRoomEnabled  bool       `json:"waitingRoomEnabled"`
	ScreenShareEnabled  bool       `json:"screenShareEnabled"`
	ScreenShareHostOnly bool       `json:"screenShareHostOnly"`
	Locked              bool       `json:"locked"`
}
