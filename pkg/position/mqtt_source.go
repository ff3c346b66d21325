package position

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/ryanhale/tracksync/pkg/mqtt"
)

// positionMessage is the wire payload a remote tracker publishes.
type positionMessage struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// MQTTSource receives position fixes published by a remote paired tracker on
// an MQTT topic. The broker keeps the last fix as a retained message, so a
// one-shot read resolves immediately once the tracker has reported at least
// once.
type MQTTSource struct {
	topic      string
	qos        int
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger
}

// NewMQTTSource creates an MQTTSource reading from the given topic.
func NewMQTTSource(topic string, qos int, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *MQTTSource {
	return &MQTTSource{
		topic:      topic,
		qos:        qos,
		mqttClient: mqttClient,
		logger:     logger,
	}
}

// RequestPermission is an implicit grant; the remote tracker already holds
// the platform permission on its side.
func (m *MQTTSource) RequestPermission(ctx context.Context) error {
	return nil
}

// Current waits for the next (or retained) sample on the topic.
func (m *MQTTSource) Current(ctx context.Context) (Sample, error) {
	samples := make(chan Sample, 1)

	token := m.mqttClient.Subscribe(m.topic, byte(m.qos), func(client mqttLib.Client, msg mqttLib.Message) {
		sample, err := m.decode(msg.Payload())
		if err != nil {
			m.logger.Error().Err(err).Str("topic", msg.Topic()).Msg("Dropping malformed position message")
			return
		}
		select {
		case samples <- sample:
		default:
		}
	})
	if token.Wait() && token.Error() != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, token.Error())
	}
	defer m.mqttClient.Unsubscribe(m.topic)

	select {
	case sample := <-samples:
		return sample, nil
	case <-ctx.Done():
		return Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

// Watch subscribes to the topic and emits gated samples until stopped.
func (m *MQTTSource) Watch(ctx context.Context, cfg WatchConfig) (Watcher, error) {
	w := newChannelWatcher()
	g := newGate(cfg)

	token := m.mqttClient.Subscribe(m.topic, byte(m.qos), func(client mqttLib.Client, msg mqttLib.Message) {
		sample, err := m.decode(msg.Payload())
		if err != nil {
			m.logger.Error().Err(err).Str("topic", msg.Topic()).Msg("Dropping malformed position message")
			return
		}
		if g.admit(sample) {
			w.emit(ctx, sample)
		}
	})
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, token.Error())
	}

	go func() {
		select {
		case <-w.done:
		case <-ctx.Done():
		}
		// The handler may still be mid-flight; leave the updates channel
		// open and let the done signal end delivery.
		m.mqttClient.Unsubscribe(m.topic).Wait()
		w.Stop()
	}()

	return w, nil
}

func (m *MQTTSource) decode(payload []byte) (Sample, error) {
	var msg positionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Sample{}, err
	}
	sample := Sample{
		Latitude:   msg.Latitude,
		Longitude:  msg.Longitude,
		Accuracy:   msg.Accuracy,
		CapturedAt: msg.CapturedAt,
	}
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = time.Now()
	}
	return sample, nil
}
