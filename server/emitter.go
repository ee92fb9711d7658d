package main

import (
	"encoding/json"
	"fmt"
	"image"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// motionEmitter publishes one event per frame that produced motion boxes.
// A nil emitter is valid and publishes nothing.
type motionEmitter struct {
	client      mqtt.Client
	topicPrefix string
}

type motionEvent struct {
	CameraID  string      `json:"camera_id"`
	Timestamp int64       `json:"timestamp"`
	Boxes     []motionBox `json:"boxes"`
}

type motionBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// newMotionEmitter returns nil when no broker is configured.
func newMotionEmitter(cfg mqttConfig) *motionEmitter {
	if cfg.Broker == "" {
		return nil
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}
	return &motionEmitter{
		client:      mqtt.NewClient(opts),
		topicPrefix: cfg.TopicPrefix,
	}
}

func (e *motionEmitter) connect() error {
	token := e.client.Connect()
	if !token.WaitTimeout(MQTTConnectTimeout) {
		return fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// PublishMotion fires a QoS 0 event; delivery is best-effort and never
// blocks the frame pipeline.
func (e *motionEmitter) PublishMotion(cameraID string, boxes []image.Rectangle) {
	if e == nil {
		return
	}
	event := motionEvent{
		CameraID:  cameraID,
		Timestamp: time.Now().Unix(),
		Boxes:     make([]motionBox, 0, len(boxes)),
	}
	for _, b := range boxes {
		event.Boxes = append(event.Boxes, motionBox{X: b.Min.X, Y: b.Min.Y, W: b.Dx(), H: b.Dy()})
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("marshal motion event")
		return
	}
	topic := fmt.Sprintf("%s/%s/motion", e.topicPrefix, cameraID)
	e.client.Publish(topic, 0, false, payload)
}
