package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshrelay_active_rooms",
		Help: "Number of rooms with at least one open channel subscription",
	})

	RoomsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshrelay_rooms_created_total",
		Help: "Total number of rooms created",
	})

	RoomsEndedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshrelay_rooms_ended_total",
		Help: "Total number of rooms ended by their host",
	})

	ActiveParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshrelay_active_participants",
		Help: "Number of admitted participants with an open presence subscription",
	})

	WaitingParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshrelay_waiting_participants",
		Help: "Number of participants currently in a waiting room",
	})

	ParticipantsJoinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshrelay_participants_joined_total",
		Help: "Total number of participant join requests accepted",
	})

	AdmissionDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshrelay_admission_decisions_total",
		Help: "Total host admission decisions",
	}, []string{"decision"}) // "admitted" | "denied" | "removed"

	ChannelMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshrelay_channel_messages_total",
		Help: "Total channel messages handled by the relay",
	}, []string{"topic", "event", "direction"}) // direction: "in" | "out"

	DroppedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshrelay_dropped_messages_total",
		Help: "Total channel messages dropped by the relay",
	}, []string{"reason"}) // "misaddressed" | "recipient_offline" | "write_failed" | "unknown_event"

	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshrelay_active_websocket_connections",
		Help: "Number of active WebSocket connections",
	})

	WebSocketConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshrelay_websocket_connections_total",
		Help: "Total number of WebSocket connections",
	})

	HandRaisesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshrelay_hand_raises_total",
		Help: "Total hand-raised events relayed",
	})

	ChatMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshrelay_chat_messages_total",
		Help: "Total chat messages relayed",
	})

	ConfigReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshrelay_config_reloads_total",
		Help: "Number of configuration reloads",
	})

	StartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshrelay_start_time_seconds",
		Help: "Server start time in Unix seconds",
	})

	// Mesh-side metrics, registered by clients built on internal/mesh.

	ActivePeerLinks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshrelay_mesh_active_peer_links",
		Help: "Number of live peer links in the local mesh",
	})

	PeerLinksCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshrelay_mesh_peer_links_created_total",
		Help: "Total peer links created",
	}, []string{"role"}) // "initiator" | "answerer"

	PeerLinkFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshrelay_mesh_peer_link_failures_total",
		Help: "Total peer link failures",
	}, []string{"reason"})

	RenegotiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshrelay_mesh_renegotiations_total",
		Help: "Total renegotiation offers issued",
	}, []string{"reason"}) // "screen_share_start" | "screen_share_stop" | "ice_restart"

	IceRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshrelay_mesh_ice_restarts_total",
		Help: "Total ICE restarts triggered after the disconnect grace period",
	})

	LinkStateChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshrelay_mesh_link_state_changes_total",
		Help: "Peer link transport state changes",
	}, []string{"state"})

	ClassifiedStreamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshrelay_mesh_classified_streams_total",
		Help: "Remote streams classified by kind",
	}, []string{"kind", "rule"}) // kind: "camera" | "screen"; rule: "announced" | "label" | "second_stream" | "default"

	StaleSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshrelay_mesh_stale_signals_total",
		Help: "Signaling messages discarded by state-machine guards",
	}, []string{"type"}) // "answer" | "candidate"

	PLIRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshrelay_mesh_pli_requests_total",
		Help: "Total PLI requests observed on outbound senders",
	})

	NACKRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshrelay_mesh_nack_requests_total",
		Help: "Total NACK requests observed on outbound senders",
	})
)
