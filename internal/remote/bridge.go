// Package remote exposes the feeder over MQTT: remote feed commands,
// status requests, configuration reloads and discovery.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/catfeeder/internal/feeder"
	"github.com/nerrad567/catfeeder/internal/feeding"
	"github.com/nerrad567/catfeeder/internal/infrastructure/config"
	"github.com/nerrad567/catfeeder/internal/infrastructure/mqtt"
)

// defaultPortions is used when a feed command names no portion count.
const defaultPortions = 1

// Broker is the MQTT surface the bridge needs.
type Broker interface {
	Topics() mqtt.Topics
	QoS() byte
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Service is the feeder the bridge drives.
type Service interface {
	Feed(trigger feeding.Trigger, portions int) (string, error)
	Status() feeder.StatusReport
	Reload() error
	Device() config.DeviceConfig
	MaxRemotePortions() int
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// FeedCommand is the payload of a feed message.
type FeedCommand struct {
	Portions *int `json:"portions"`
}

// DiscoveryResponse answers a discovery request.
type DiscoveryResponse struct {
	FeederID  string `json:"feeder_id"`
	Name      string `json:"name"`
	ConfigURL string `json:"config_url"`
}

// Bridge connects a Service to the broker.
type Bridge struct {
	broker Broker
	svc    Service
	logger Logger
}

// New creates a bridge. logger may be nil.
func New(broker Broker, svc Service, logger Logger) *Bridge {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{broker: broker, svc: svc, logger: logger}
}

// Start subscribes to the feeder's command topics and to discovery.
func (b *Bridge) Start() error {
	topics := b.broker.Topics()
	qos := b.broker.QoS()

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{topics.Feed(), b.handleFeed},
		{topics.StatusRequest(), b.handleStatusRequest},
		{topics.Update(), b.handleUpdate},
		{topics.Discovery(), b.handleDiscovery},
	}
	for _, sub := range subs {
		if err := b.broker.Subscribe(sub.topic, qos, sub.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", sub.topic, err)
		}
	}
	return nil
}

// PublishStatus publishes the current status report.
func (b *Bridge) PublishStatus() error {
	payload, err := json.Marshal(b.svc.Status())
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}
	return b.broker.Publish(b.broker.Topics().Status(), payload, b.broker.QoS(), false)
}

// PortionsFrom decodes a feed payload. A missing count means one portion;
// the result is clamped to [1, max].
func PortionsFrom(payload []byte, maxPortions int) (int, error) {
	portions := defaultPortions
	if len(payload) > 0 {
		var cmd FeedCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return 0, fmt.Errorf("decoding feed command: %w", err)
		}
		if cmd.Portions != nil {
			portions = *cmd.Portions
		}
	}
	if maxPortions < 1 {
		maxPortions = 1
	}
	return min(max(portions, 1), maxPortions), nil
}

func (b *Bridge) handleFeed(_ string, payload []byte) error {
	portions, err := PortionsFrom(payload, b.svc.MaxRemotePortions())
	if err != nil {
		return err
	}

	id, err := b.svc.Feed(feeding.TriggerRemote, portions)
	switch {
	case errors.Is(err, feeder.ErrBusy):
		b.logger.Warn("cannot feed now, another feeding sequence is already running")
		return nil
	case err != nil:
		return fmt.Errorf("remote feeding: %w", err)
	}
	b.logger.Info("remote feeding started", "job_id", id, "portions", portions)
	return nil
}

func (b *Bridge) handleStatusRequest(_ string, _ []byte) error {
	return b.PublishStatus()
}

func (b *Bridge) handleUpdate(_ string, _ []byte) error {
	b.logger.Info("configuration update requested over MQTT")
	return b.svc.Reload()
}

func (b *Bridge) handleDiscovery(_ string, _ []byte) error {
	dev := b.svc.Device()
	payload, err := json.Marshal(DiscoveryResponse{
		FeederID:  dev.ID,
		Name:      dev.Name,
		ConfigURL: dev.ConfigURL,
	})
	if err != nil {
		return fmt.Errorf("marshalling discovery response: %w", err)
	}
	return b.broker.Publish(b.broker.Topics().DiscoveryResponse(), payload, b.broker.QoS(), false)
}
