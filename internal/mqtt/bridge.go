package mqtt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledbridge/internal/color"
	"github.com/dokzlo13/ledbridge/internal/eventbus"
	"github.com/dokzlo13/ledbridge/internal/light"
)

// Publisher sends one MQTT message.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Lights looks up a light by fixture identity.
type Lights interface {
	Light(id string) (*light.Light, error)
}

// State is the retained JSON document published for each fixture.
type State struct {
	On         bool      `json:"on"`
	Brightness int       `json:"brightness"`
	Hue        float64   `json:"hue"`
	Saturation float64   `json:"saturation"`
	Linked     bool      `json:"linked"`
	Current    color.HSV `json:"current"`
}

// StateFromSnapshot builds the published state of a light.
func StateFromSnapshot(s light.Snapshot) State {
	return State{
		On:         s.On(),
		Brightness: int(math.Round(s.User.V)),
		Hue:        s.Target.H,
		Saturation: s.Target.S,
		Linked:     s.Linked,
		Current:    s.Current,
	}
}

// ParseCommand decodes a set payload. Besides the JSON document, the plain strings
// "ON" and "OFF" are accepted.
func ParseCommand(payload []byte) (light.Request, error) {
	var req light.Request

	switch strings.ToUpper(string(bytes.TrimSpace(payload))) {
	case "ON":
		on := true
		req.On = &on
		return req, nil
	case "OFF":
		on := false
		req.On = &on
		return req, nil
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if req.On == nil && req.Brightness == nil && req.Hue == nil && req.Saturation == nil {
		return req, fmt.Errorf("%w: no fields set", ErrInvalidCommand)
	}
	if req.Brightness != nil && (*req.Brightness < 0 || *req.Brightness > 100) {
		return req, fmt.Errorf("%w: brightness %d out of range", ErrInvalidCommand, *req.Brightness)
	}
	return req, nil
}

// Bridge connects the event bus and the light registry to MQTT.
type Bridge struct {
	pub    Publisher
	lights Lights
	topics Topics
	qos    byte

	mu       sync.Mutex
	segments map[string]string

	// publishMu orders snapshot reads with their publishes across bus workers.
	publishMu sync.Mutex
}

// NewBridge creates a bridge.
func NewBridge(pub Publisher, lights Lights, topics Topics, qos byte) *Bridge {
	return &Bridge{
		pub:      pub,
		lights:   lights,
		topics:   topics,
		qos:      qos,
		segments: make(map[string]string),
	}
}

// HandleEvent publishes the fixture state on state changes and link changes.
// The state is read when the event is handled, not taken from the event, so the
// retained document never goes back to an older snapshot.
func (b *Bridge) HandleEvent(e eventbus.Event) {
	l, err := b.lights.Light(e.Fixture)
	if err != nil {
		return
	}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()
	if err := b.PublishState(e.Fixture, l.Snapshot()); err != nil {
		log.Debug().Err(err).Str("fixture", e.Fixture).Msg("Failed to publish state to MQTT")
	}
}

// PublishState publishes the retained state document of a fixture.
func (b *Bridge) PublishState(id string, snap light.Snapshot) error {
	b.mu.Lock()
	b.segments[Segment(id)] = id
	b.mu.Unlock()

	payload, err := json.Marshal(StateFromSnapshot(snap))
	if err != nil {
		return err
	}
	return b.pub.Publish(b.topics.State(id), payload, b.qos, true)
}

// HandleCommand applies a set message to the addressed light.
func (b *Bridge) HandleCommand(topic string, payload []byte) error {
	seg, ok := b.topics.SegmentFromSet(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %s", ErrInvalidCommand, topic)
	}

	b.mu.Lock()
	id, known := b.segments[seg]
	b.mu.Unlock()
	if !known {
		id = seg
	}

	req, err := ParseCommand(payload)
	if err != nil {
		return err
	}
	l, err := b.lights.Light(id)
	if err != nil {
		return err
	}

	log.Debug().Str("fixture", id).Bytes("command", payload).Msg("MQTT command")
	l.Apply(req)
	return nil
}
