package publish

import (
	"context"
	"fmt"
	"strconv"

	"github.com/awaistahir/smart-heat/internal/engine"
	"github.com/awaistahir/smart-heat/internal/store"
	mqttv2 "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/sirupsen/logrus"
)

// Broker is an embedded MQTT broker that devices subscribe to
type Broker struct {
	server *mqttv2.Server
	prefix string
}

// StartBroker starts an embedded broker. An empty address starts it without a
// network listener, reachable only through the inline client.
func StartBroker(address, prefix string) (*Broker, error) {
	server := mqttv2.New(&mqttv2.Options{
		InlineClient: true,
	})

	// Allow all connections.
	_ = server.AddHook(new(auth.AllowHook), nil)

	if address != "" {
		tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: address})
		if err := server.AddListener(tcp); err != nil {
			return nil, fmt.Errorf("adding mqtt listener: %w", err)
		}
	}

	if err := server.Serve(); err != nil {
		return nil, fmt.Errorf("starting mqtt broker: %w", err)
	}

	logrus.WithField("address", address).Info("mqtt broker started")
	return &Broker{server: server, prefix: prefix}, nil
}

// Close stops the broker
func (b *Broker) Close() error {
	return b.server.Close()
}

// Server returns the underlying broker
func (b *Broker) Server() *mqttv2.Server {
	return b.server
}

// ScheduleTopic is where the retained schedule of device is published
func (b *Broker) ScheduleTopic(device string) string {
	return fmt.Sprintf("%s/%s/schedule", b.prefix, device)
}

// ControlTopic is where the current control of device is published
func (b *Broker) ControlTopic(device string) string {
	return fmt.Sprintf("%s/%s/control", b.prefix, device)
}

// Name implements Sink
func (b *Broker) Name() string {
	return "mqtt"
}

// Publish sends the run as a retained message on the schedule topic
func (b *Broker) Publish(ctx context.Context, run *store.Run) error {
	payload, err := encodeRun(run)
	if err != nil {
		return err
	}
	if err := b.server.Publish(b.ScheduleTopic(run.Device), payload, true, 1); err != nil {
		return fmt.Errorf("publishing schedule: %w", err)
	}
	return nil
}

// Controller returns a device controller publishing to the control topic
func (b *Broker) Controller(device string) *MQTTController {
	return &MQTTController{broker: b, device: device}
}

// MQTTController publishes 0/1 control values for one device
type MQTTController struct {
	broker *Broker
	device string
}

// SetControl publishes the control value as a retained message
func (c *MQTTController) SetControl(ctx context.Context, control engine.Control) error {
	payload := []byte(strconv.Itoa(control.Value()))
	if err := c.broker.server.Publish(c.broker.ControlTopic(c.device), payload, true, 1); err != nil {
		return fmt.Errorf("publishing control: %w", err)
	}
	logrus.WithFields(logrus.Fields{"device": c.device, "control": control}).Info("control published")
	return nil
}
