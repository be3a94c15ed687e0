package mesh

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Acquisition failures carry a remediation hint for the caller's UI.
var (
	ErrDeviceNotFound    = errors.New("capture device not found: check that a camera and microphone are connected")
	ErrDeviceBusy        = errors.New("capture device busy: close other applications using the camera")
	ErrCaptureDenied     = errors.New("capture permission denied: grant camera and microphone access")
	ErrScreenUnavailable = errors.New("screen capture unavailable: no shareable surface")
)

// SampleWriter receives encoded media samples for one outgoing track.
type SampleWriter interface {
	WriteSample(sample media.Sample) error
}

// LocalMediaSource owns the outgoing tracks of a session: one audio
// and one video track for the camera feed, plus an on-demand screen
// track. Muting gates sample writes without renegotiating, so the
// transceivers and the mesh topology stay untouched.
type LocalMediaSource struct {
	mu sync.Mutex

	cameraStreamID string
	screenStreamID string

	audioTrack  *webrtc.TrackLocalStaticSample
	videoTrack  *webrtc.TrackLocalStaticSample
	screenTrack *webrtc.TrackLocalStaticSample

	audioMuted bool
	videoMuted bool
}

func NewLocalMediaSource() (*LocalMediaSource, error) {
	cameraStreamID := uuid.NewString()

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", cameraStreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", cameraStreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	return &LocalMediaSource{
		cameraStreamID: cameraStreamID,
		audioTrack:     audioTrack,
		videoTrack:     videoTrack,
	}, nil
}

func (s *LocalMediaSource) CameraStreamID() string {
	return s.cameraStreamID
}

// ScreenStreamID returns the identifier of the active screen stream,
// empty when not sharing.
func (s *LocalMediaSource) ScreenStreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenStreamID
}

func (s *LocalMediaSource) AudioTrack() *webrtc.TrackLocalStaticSample { return s.audioTrack }
func (s *LocalMediaSource) VideoTrack() *webrtc.TrackLocalStaticSample { return s.videoTrack }

func (s *LocalMediaSource) ScreenTrack() *webrtc.TrackLocalStaticSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenTrack
}

// StartScreenTrack creates the screen track under a fresh stream
// identifier, distinct from the camera stream so receivers can tell
// the two apart.
func (s *LocalMediaSource) StartScreenTrack() (*webrtc.TrackLocalStaticSample, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.screenTrack != nil {
		return s.screenTrack, s.screenStreamID, nil
	}

	streamID := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"screen", streamID,
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create screen track: %w", err)
	}

	s.screenTrack = track
	s.screenStreamID = streamID
	return track, streamID, nil
}

func (s *LocalMediaSource) StopScreenTrack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenTrack = nil
	s.screenStreamID = ""
}

// SetAudioMuted flips the audio gate. The change is global: one toggle
// affects every peer link simultaneously because all links share the
// same track.
func (s *LocalMediaSource) SetAudioMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioMuted = muted
}

func (s *LocalMediaSource) SetVideoMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoMuted = muted
}

func (s *LocalMediaSource) AudioMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioMuted
}

func (s *LocalMediaSource) VideoMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoMuted
}

// WriteAudioSample forwards a captured sample unless audio is muted.
// Muted samples are dropped here, upstream of every peer connection.
func (s *LocalMediaSource) WriteAudioSample(sample media.Sample) error {
	if s.AudioMuted() {
		return nil
	}
	return s.audioTrack.WriteSample(sample)
}

func (s *LocalMediaSource) WriteVideoSample(sample media.Sample) error {
	if s.VideoMuted() {
		return nil
	}
	return s.videoTrack.WriteSample(sample)
}

func (s *LocalMediaSource) WriteScreenSample(sample media.Sample) error {
	track := s.ScreenTrack()
	if track == nil {
		return ErrScreenUnavailable
	}
	return track.WriteSample(sample)
}
