// Package ingest moves sensor readings between an MQTT broker and the
// reading service.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"farmdash/pkg/logger"
	"farmdash/pkg/telemetry/service"
)

const (
	DefaultTopic = "farmdash/readings"
	qos          = 1
	waitTimeout  = 10 * time.Second
)

// Message is the JSON payload exchanged on the readings topic.
type Message struct {
	FieldID   string    `json:"field_id"`
	SensorID  string    `json:"sensor_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Connect dials broker and waits for the connection to come up.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(waitTimeout)
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(waitTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", broker, err)
	}
	return c, nil
}

// Subscriber stores every reading published on its topic.
type Subscriber struct {
	client mqtt.Client
	topic  string
	svc    service.ReadingService
	log    *zap.Logger
}

func NewSubscriber(client mqtt.Client, topic string, svc service.ReadingService, log *zap.Logger) *Subscriber {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Subscriber{client: client, topic: topic, svc: svc, log: logger.OrNop(log).Named("ingest")}
}

// Run subscribes and blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	token := s.client.Subscribe(s.topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		if err := s.Handle(ctx, m.Payload()); err != nil {
			s.log.Warn("dropping reading", zap.String("topic", m.Topic()), zap.Error(err))
		}
	})
	if !token.WaitTimeout(waitTimeout) {
		return fmt.Errorf("mqtt: subscribe %s timed out", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", s.topic, err)
	}
	s.log.Info("listening for readings", zap.String("topic", s.topic))

	<-ctx.Done()
	s.client.Unsubscribe(s.topic).WaitTimeout(waitTimeout)
	s.client.Disconnect(250)
	return nil
}

// Handle decodes one payload and records it. A missing timestamp means
// "now".
func (s *Subscriber) Handle(ctx context.Context, payload []byte) error {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("decode reading: %w", err)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	_, err := s.svc.Record(ctx, "", service.ReadingInput{
		FieldID:   m.FieldID,
		SensorID:  m.SensorID,
		Value:     m.Value,
		Timestamp: m.Timestamp,
	})
	return err
}
