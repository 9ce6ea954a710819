package ingest

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"farmdash/pkg/logger"
)

// Simulator publishes synthetic soil-moisture readings for one field.
type Simulator struct {
	fieldID  string
	sensorID string
	client   mqtt.Client
	topic    string
	interval time.Duration
	log      *zap.Logger

	rnd   *rand.Rand
	value float64
}

func NewSimulator(client mqtt.Client, topic, fieldID, sensorID string, interval time.Duration, log *zap.Logger) *Simulator {
	if topic == "" {
		topic = DefaultTopic
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Simulator{
		fieldID:  fieldID,
		sensorID: sensorID,
		client:   client,
		topic:    topic,
		interval: interval,
		log:      logger.OrNop(log).Named("simulator"),
		rnd:      rnd,
		value:    40 + rnd.Float64()*30,
	}
}

// Run publishes one reading per interval until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.client.Disconnect(250)

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			m := s.next(t)
			payload, err := json.Marshal(m)
			if err != nil {
				return err
			}
			token := s.client.Publish(s.topic, qos, false, payload)
			token.Wait()
			if err := token.Error(); err != nil {
				s.log.Warn("publish failed", zap.Error(err))
				continue
			}
			s.log.Debug("published", zap.String("field_id", m.FieldID), zap.Float64("value", m.Value))
		}
	}
}

// next advances a random walk bounded to 15..90 %.
func (s *Simulator) next(t time.Time) Message {
	s.value += (s.rnd.Float64() - 0.5) * 4
	if s.value < 15 {
		s.value = 15
	}
	if s.value > 90 {
		s.value = 90
	}
	return Message{
		FieldID:   s.fieldID,
		SensorID:  s.sensorID,
		Value:     float64(int(s.value*10)) / 10,
		Timestamp: t.UTC(),
	}
}
