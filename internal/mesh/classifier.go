package mesh

import (
	"strings"

	"github.com/openconf/meshrelay/internal/metrics"
)

// StreamKind is the rendering category assigned to a remote stream.
type StreamKind string

const (
	KindCamera StreamKind = "camera"
	KindScreen StreamKind = "screen"
)

// StreamClassifier decides whether a remote participant's stream is a
// camera feed or a screen capture. Rules are ranked; the first match
// wins and the verdict sticks for the life of the stream so a renderer
// never sees a stream flip categories.
//
// Rule order:
//  1. The sender announced the stream's identifier in its offer.
//  2. The stream or track label names a screen surface.
//  3. The participant already shows a camera stream and this one has a
//     different identifier.
type StreamClassifier struct {
	announced map[string]string     // peerID -> announced screen stream ID
	verdicts  map[string]StreamKind // streamID -> sticky verdict
	cameras   map[string]string     // peerID -> first camera stream ID
	streams   map[string][]string   // peerID -> classified stream IDs
}

func NewStreamClassifier() *StreamClassifier {
	return &StreamClassifier{
		announced: make(map[string]string),
		verdicts:  make(map[string]StreamKind),
		cameras:   make(map[string]string),
		streams:   make(map[string][]string),
	}
}

// AnnounceScreenStream records the screen stream identifier a peer
// tagged on its offer. An empty ID clears the announcement.
func (c *StreamClassifier) AnnounceScreenStream(peerID, streamID string) {
	if streamID == "" {
		delete(c.announced, peerID)
		return
	}
	c.announced[peerID] = streamID
}

var screenLabelHints = []string{"screen", "window", "monitor", "display"}

// Classify assigns a kind to the stream. The first verdict for a given
// stream identifier is final.
func (c *StreamClassifier) Classify(peerID, streamID, label string) StreamKind {
	if kind, ok := c.verdicts[streamID]; ok {
		return kind
	}

	kind, rule := c.classify(peerID, streamID, label)
	c.verdicts[streamID] = kind
	c.streams[peerID] = append(c.streams[peerID], streamID)
	if kind == KindCamera {
		if _, ok := c.cameras[peerID]; !ok {
			c.cameras[peerID] = streamID
		}
	}
	metrics.ClassifiedStreamsTotal.WithLabelValues(string(kind), rule).Inc()
	return kind
}

func (c *StreamClassifier) classify(peerID, streamID, label string) (StreamKind, string) {
	if c.announced[peerID] == streamID {
		return KindScreen, "announced"
	}

	lower := strings.ToLower(label)
	for _, hint := range screenLabelHints {
		if strings.Contains(lower, hint) {
			return KindScreen, "label"
		}
	}

	if camera, ok := c.cameras[peerID]; ok && camera != streamID {
		return KindScreen, "second_stream"
	}

	return KindCamera, "default"
}

// Forget drops all state for a departed peer so identifiers can be
// reused by a rejoin without inheriting stale verdicts.
func (c *StreamClassifier) Forget(peerID string) {
	delete(c.announced, peerID)
	delete(c.cameras, peerID)
	for _, streamID := range c.streams[peerID] {
		delete(c.verdicts, streamID)
	}
	delete(c.streams, peerID)
}
