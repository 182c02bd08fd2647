package continuation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sinapsi/sinapsi-core/internal/engine"
	"github.com/sinapsi/sinapsi-core/internal/infrastructure/mqtt"
)

// EventBridge carries the device's system events over MQTT. It implements
// engine.EventSubscriber: the platform side publishes to
// sinapsi/device/{id}/event/{category} and the activation manager receives
// the decoded Event.
type EventBridge struct {
	ctx      context.Context
	broker   Broker
	deviceID int
	logger   Logger
}

// NewEventBridge creates a bridge for the local device. Events are
// delivered with ctx.
func NewEventBridge(ctx context.Context, broker Broker, deviceID int, logger Logger) *EventBridge {
	if logger == nil {
		logger = noopLogger{}
	}
	return &EventBridge{ctx: ctx, broker: broker, deviceID: deviceID, logger: logger}
}

// Subscribe implements engine.EventSubscriber.
func (b *EventBridge) Subscribe(category engine.EventCategory, handle func(ctx context.Context, ev engine.Event)) error {
	topic := mqtt.Topics{}.DeviceEvent(b.deviceID, string(category))
	return b.broker.Subscribe(topic, 0, func(_ string, payload []byte) error {
		params, err := decodeEventParams(payload)
		if err != nil {
			return fmt.Errorf("decoding %s event: %w", category, err)
		}
		b.logger.Debug("system event received", "category", category)
		handle(b.ctx, engine.Event{Category: category, Params: params})
		return nil
	})
}

// Unsubscribe implements engine.EventUnsubscriber.
func (b *EventBridge) Unsubscribe(category engine.EventCategory) error {
	return b.broker.Unsubscribe(mqtt.Topics{}.DeviceEvent(b.deviceID, string(category)))
}

// Publish raises ev on the local device's event topic.
func (b *EventBridge) Publish(ev engine.Event) error {
	payload, err := json.Marshal(ev.Params)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Category, err)
	}
	return b.broker.Publish(mqtt.Topics{}.DeviceEvent(b.deviceID, string(ev.Category)), payload, 0, false)
}

// decodeEventParams accepts a JSON object or an empty payload.
func decodeEventParams(payload []byte) (map[string]any, error) {
	params := map[string]any{}
	if len(payload) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}
