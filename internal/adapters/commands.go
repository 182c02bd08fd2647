package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/sinapsi/sinapsi-core/internal/engine"
	"github.com/sinapsi/sinapsi-core/internal/infrastructure/mqtt"
)

// commandQoS is the QoS for platform commands. Commands are not retained: a
// platform agent that connects late must not replay an old SMS.
const commandQoS = 1

// Publisher is the MQTT surface the command adapters need. *mqtt.Client
// implements it.
type Publisher interface {
	PublishJSON(topic string, v any, qos byte) error
}

// SMSCommand is published to sinapsi/device/{id}/command/sms.
type SMSCommand struct {
	Number  string `json:"number"`
	Message string `json:"message"`
}

// WifiCommand is published to sinapsi/device/{id}/command/wifi.
type WifiCommand struct {
	Enabled bool `json:"enabled"`
}

// NotificationCommand is published to sinapsi/device/{id}/command/notification.
type NotificationCommand struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// CommandSender hands platform operations to the device's platform agent
// as MQTT commands. It implements engine.SMSAdapter, engine.WifiAdapter
// and engine.NotificationAdapter through the views returned by SMS, Wifi
// and Notification.
type CommandSender struct {
	pub      Publisher
	deviceID int
}

// NewCommandSender creates a sender for the local device.
func NewCommandSender(pub Publisher, deviceID int) *CommandSender {
	return &CommandSender{pub: pub, deviceID: deviceID}
}

func (c *CommandSender) send(ctx context.Context, capability string, cmd any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	topic := mqtt.Topics{}.DeviceCommand(c.deviceID, capability)
	if err := c.pub.PublishJSON(topic, cmd, commandQoS); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCommandFailed, capability, err)
	}
	return nil
}

// SMS returns the engine.SMSAdapter view.
func (c *CommandSender) SMS() engine.SMSAdapter { return smsSender{c} }

// Wifi returns the engine.WifiAdapter view.
func (c *CommandSender) Wifi() engine.WifiAdapter { return wifiSender{c} }

// Notification returns the engine.NotificationAdapter view.
func (c *CommandSender) Notification() engine.NotificationAdapter { return notificationSender{c} }

type smsSender struct{ c *CommandSender }

func (s smsSender) Send(ctx context.Context, number, message string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return fmt.Errorf("%w: empty phone number", ErrInvalidCommand)
	}
	return s.c.send(ctx, engine.CapabilitySMS, SMSCommand{Number: number, Message: message})
}

type wifiSender struct{ c *CommandSender }

func (w wifiSender) SetEnabled(ctx context.Context, on bool) error {
	return w.c.send(ctx, engine.CapabilityWifi, WifiCommand{Enabled: on})
}

type notificationSender struct{ c *CommandSender }

func (n notificationSender) Notify(ctx context.Context, title, message string) error {
	return n.c.send(ctx, engine.CapabilityNotification, NotificationCommand{Title: title, Message: message})
}
