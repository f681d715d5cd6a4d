package tactile

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PoseMessage is published for every tracked frame.
type PoseMessage struct {
	RunID     string     `json:"runId,omitempty"`
	Frame     int        `json:"frame"`
	Pose      PoseVector `json:"pose"`
	Matrix    Transform  `json:"matrix"`
	Reset     bool       `json:"reset"`
	Timestamp int64      `json:"timestamp"`
}

// ResetMessage is published when the long-horizon tracker replaces its reference.
type ResetMessage struct {
	RunID              string  `json:"runId,omitempty"`
	Frame              int     `json:"frame"`
	ResetCount         int     `json:"resetCount"`
	RotationErrorDeg   float64 `json:"rotationErrorDeg"`
	TranslationErrorMM float64 `json:"translationErrorMM"`
	Timestamp          int64   `json:"timestamp"`
}

// Publisher publishes tracking progress to MQTT.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	last          *PoseMessage
	mu            sync.RWMutex
}

// NewPublisher creates a new pose publisher. An empty prefix falls back to
// MQTT_PUBLISH_PREFIX and then "tactiletrack". If client is nil, publishing
// returns an error.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = os.Getenv("MQTT_PUBLISH_PREFIX")
	}
	if prefix == "" {
		prefix = "tactiletrack"
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
	}
}

// PoseTopic is where per-frame poses are published.
func (p *Publisher) PoseTopic() string { return p.publishPrefix + "/pose" }

// ResetTopic is where reference resets are published.
func (p *Publisher) ResetTopic() string { return p.publishPrefix + "/reset" }

// PublishStep publishes the pose of a tracked frame and, if the step reset
// the reference, a reset event.
func (p *Publisher) PublishStep(runID string, r StepReport) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	now := time.Now().Unix()

	msg := &PoseMessage{
		RunID:     runID,
		Frame:     r.Frame,
		Pose:      r.Pose.Pose(),
		Matrix:    r.Pose,
		Reset:     r.Reset,
		Timestamp: now,
	}
	p.mu.Lock()
	p.last = msg
	p.mu.Unlock()

	if err := p.publishJSON(p.PoseTopic(), p.retain, msg); err != nil {
		return err
	}
	if !r.Reset {
		return nil
	}
	return p.publishJSON(p.ResetTopic(), false, ResetMessage{
		RunID:              runID,
		Frame:              r.Frame,
		ResetCount:         r.ResetCount,
		RotationErrorDeg:   r.RotationError,
		TranslationErrorMM: r.TranslationError,
		Timestamp:          now,
	})
}

func (p *Publisher) publishJSON(topic string, retain bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastPose returns the most recently published pose.
func (p *Publisher) LastPose() (PoseMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return PoseMessage{}, false
	}
	return *p.last, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether pose messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
