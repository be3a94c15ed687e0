// Package store persists room and participant state behind the relay.
// The participant status column is the authoritative admission record:
// the relay pushes a row-update event when it changes and serves the
// polling read from the same row, so both delivery paths converge on
// one source of truth.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openconf/meshrelay/internal/api"

	_ "modernc.org/sqlite"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomEnded           = errors.New("room has ended")
	ErrRoomLocked          = errors.New("room is locked")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotWaiting          = errors.New("participant is not waiting")
	ErrNotHost             = errors.New("host key does not match")
)

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id                     TEXT PRIMARY KEY,
	title                  TEXT NOT NULL,
	host_id                TEXT NOT NULL,
	host_key               TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'scheduled',
	waiting_room_enabled   INTEGER NOT NULL DEFAULT 1,
	screen_share_enabled   INTEGER NOT NULL DEFAULT 1,
	screen_share_host_only INTEGER NOT NULL DEFAULT 0,
	locked                 INTEGER NOT NULL DEFAULT 0,
	created_at             TIMESTAMP NOT NULL,
	ended_at               TIMESTAMP
);
CREATE TABLE IF NOT EXISTS participants (
	id           TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL REFERENCES rooms(id),
	display_name TEXT NOT NULL,
	role         TEXT NOT NULL DEFAULT 'participant',
	status       TEXT NOT NULL DEFAULT 'waiting',
	joined_at    TIMESTAMP NOT NULL,
	left_at      TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_participants_room ON participants(room_id, status);
CREATE TABLE IF NOT EXISTS chat_messages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id        TEXT NOT NULL REFERENCES rooms(id),
	participant_id TEXT NOT NULL,
	display_name   TEXT NOT NULL,
	body           TEXT NOT NULL,
	sent_at        TIMESTAMP NOT NULL
);
`

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}

	// The relay serializes writes per request handler; a single
	// connection avoids SQLITE_BUSY on concurrent admission updates.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type RoomOptions struct {
	Title               string
	HostName            string
	WaitingRoomEnabled  bool
	ScreenShareEnabled  bool
	ScreenShareHostOnly bool
}

// CreateRoom creates the room and its host participant (admitted
// immediately, the waiting room never applies to the host). Returns
// the room, the host participant ID and the host key authorizing
// host-only actions.
func (s *Store) CreateRoom(opts RoomOptions) (api.Room, string, string, error) {
	roomID := uuid.NewString()
	hostID := uuid.NewString()
	hostKey := uuid.NewString()
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return api.Room{}, "", "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO rooms (id, title, host_id, host_key, status, waiting_room_enabled,
			screen_share_enabled, screen_share_host_only, locked, created_at)
		 VALUES (?, ?, ?, ?, 'active', ?, ?, ?, 0, ?)`,
		roomID, opts.Title, hostID, hostKey,
		opts.WaitingRoomEnabled, opts.ScreenShareEnabled, opts.ScreenShareHostOnly, now,
	)
	if err != nil {
		return api.Room{}, "", "", fmt.Errorf("failed to insert room: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO participants (id, room_id, display_name, role, status, joined_at)
		 VALUES (?, ?, ?, 'host', 'admitted', ?)`,
		hostID, roomID, opts.HostName, now,
	)
	if err != nil {
		return api.Room{}, "", "", fmt.Errorf("failed to insert host participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return api.Room{}, "", "", err
	}

	room := api.Room{
		ID:                  roomID,
		Title:               opts.Title,
		HostID:              hostID,
		Status:              api.RoomActive,
		WaitingRoomEnabled:  opts.WaitingRoomEnabled,
		ScreenShareEnabled:  opts.ScreenShareEnabled,
		ScreenShareHostOnly: opts.ScreenShareHostOnly,
	}
	return room, hostID, hostKey, nil
}

func (s *Store) GetRoom(roomID string) (api.Room, error) {
	var room api.Room
	var endedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, title, host_id, status, waiting_room_enabled, screen_share_enabled,
			screen_share_host_only, locked, ended_at
		 FROM rooms WHERE id = ?`, roomID,
	).Scan(&room.ID, &room.Title, &room.HostID, &room.Status, &room.WaitingRoomEnabled,
		&room.ScreenShareEnabled, &room.ScreenShareHostOnly, &room.Locked, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return api.Room{}, err
	}
	return room, nil
}

// CheckHostKey validates a host-only action against the room's key.
func (s *Store) CheckHostKey(roomID, hostKey string) error {
	var stored string
	err := s.db.QueryRow(`SELECT host_key FROM rooms WHERE id = ?`, roomID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRoomNotFound
	}
	if err != nil {
		return err
	}
	if stored != hostKey {
		return ErrNotHost
	}
	return nil
}

func (s *Store) EndRoom(roomID string) error {
	res, err := s.db.Exec(
		`UPDATE rooms SET status = 'ended', ended_at = ? WHERE id = ? AND status != 'ended'`,
		time.Now().UTC(), roomID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *Store) SetLocked(roomID string, locked bool) error {
	res, err := s.db.Exec(`UPDATE rooms SET locked = ? WHERE id = ?`, locked, roomID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// AddParticipant creates the participant record for a join request.
// Status starts as waiting when the room's waiting-room flag is set,
// admitted otherwise. Locked or ended rooms reject the join.
func (s *Store) AddParticipant(roomID, displayName string) (api.Participant, error) {
	room, err := s.GetRoom(roomID)
	if err != nil {
		return api.Participant{}, err
	}
	if room.Status == api.RoomEnded {
		return api.Participant{}, ErrRoomEnded
	}
	if room.Locked {
		return api.Participant{}, ErrRoomLocked
	}

	status := api.StatusAdmitted
	if room.WaitingRoomEnabled {
		status = api.StatusWaiting
	}

	p := api.Participant{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Role:        api.RoleParticipant,
		Status:      status,
		JoinedAt:    time.Now().UTC(),
	}

	_, err = s.db.Exec(
		`INSERT INTO participants (id, room_id, display_name, role, status, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, roomID, p.DisplayName, p.Role, p.Status, p.JoinedAt,
	)
	if err != nil {
		return api.Participant{}, fmt.Errorf("failed to insert participant: %w", err)
	}
	return p, nil
}

func (s *Store) GetParticipant(roomID, participantID string) (api.Participant, error) {
	var p api.Participant
	err := s.db.QueryRow(
		`SELECT id, display_name, role, status, joined_at
		 FROM participants WHERE id = ? AND room_id = ?`,
		participantID, roomID,
	).Scan(&p.ID, &p.DisplayName, &p.Role, &p.Status, &p.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Participant{}, ErrParticipantNotFound
	}
	if err != nil {
		return api.Participant{}, err
	}
	return p, nil
}

// Decide applies a host admission decision. The WHERE status='waiting'
// guard makes the transition one-shot at the SQL layer: a second,
// contradictory decision finds no waiting row and fails with
// ErrNotWaiting instead of overwriting the first.
func (s *Store) Decide(roomID, participantID string, status api.AdmissionStatus) error {
	if status != api.StatusAdmitted && status != api.StatusDenied {
		return fmt.Errorf("not an admission decision: %s", status)
	}

	res, err := s.db.Exec(
		`UPDATE participants SET status = ? WHERE id = ? AND room_id = ? AND status = 'waiting'`,
		status, participantID, roomID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetParticipant(roomID, participantID); err != nil {
			return err
		}
		return ErrNotWaiting
	}
	return nil
}

// MarkLeft records a participant's departure. Idempotent.
func (s *Store) MarkLeft(roomID, participantID string) error {
	_, err := s.db.Exec(
		`UPDATE participants SET status = 'left', left_at = ?
		 WHERE id = ? AND room_id = ? AND status IN ('admitted', 'waiting')`,
		time.Now().UTC(), participantID, roomID,
	)
	return err
}

// Remove records a host removal of an admitted participant.
func (s *Store) Remove(roomID, participantID string) error {
	res, err := s.db.Exec(
		`UPDATE participants SET status = 'removed', left_at = ?
		 WHERE id = ? AND room_id = ? AND status = 'admitted'`,
		time.Now().UTC(), participantID, roomID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

func (s *Store) ParticipantsByStatus(roomID string, status api.AdmissionStatus) ([]api.Participant, error) {
	rows, err := s.db.Query(
		`SELECT id, display_name, role, status, joined_at
		 FROM participants WHERE room_id = ? AND status = ? ORDER BY joined_at`,
		roomID, status,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Participant
	for rows.Next() {
		var p api.Participant
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Role, &p.Status, &p.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) AppendChat(roomID string, msg api.ChatPayload) error {
	_, err := s.db.Exec(
		`INSERT INTO chat_messages (room_id, participant_id, display_name, body, sent_at)
		 VALUES (?, ?, ?, ?, ?)`,
		roomID, msg.ParticipantID, msg.DisplayName, msg.Body, msg.SentAt,
	)
	return err
}

func (s *Store) RecentChat(roomID string, limit int) ([]api.ChatPayload, error) {
	rows, err := s.db.Query(
		`SELECT participant_id, display_name, body, sent_at
		 FROM chat_messages WHERE room_id = ?
		 ORDER BY id DESC LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.ChatPayload
	for rows.Next() {
		var m api.ChatPayload
		if err := rows.Scan(&m.ParticipantID, &m.DisplayName, &m.Body, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
