package continuation

import (
	"context"
	"fmt"
	"time"

	"github.com/sinapsi/sinapsi-core/internal/engine"
	"github.com/sinapsi/sinapsi-core/internal/infrastructure/mqtt"
)

// qosAtLeastOnce is used for envelopes: a duplicate is absorbed by the
// receiver's ledger, a loss is not recoverable.
const qosAtLeastOnce = 1

// Broker is the MQTT surface the transport needs. *mqtt.Client implements it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// TransportOptions bounds hand-off delivery.
type TransportOptions struct {
	// Attempts is the number of publish attempts per hand-off. Default: 3
	Attempts int
	// Backoff is the delay before the first retry, doubled per attempt.
	Backoff time.Duration
}

// Transport delivers hand-offs between devices over MQTT. It implements
// engine.RemoteExecutor for outbound descriptors and feeds the device's
// inbox to a Dispatcher.
//
// Delivery completes when the broker acknowledges the envelope; the sender
// never waits for the receiving device to run it.
type Transport struct {
	broker     Broker
	deviceID   int
	opts       TransportOptions
	dispatcher *Dispatcher
	logger     Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewTransport creates a transport for the local device.
func NewTransport(broker Broker, deviceID int, dispatcher *Dispatcher, opts TransportOptions, logger Logger) *Transport {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Transport{
		broker:     broker,
		deviceID:   deviceID,
		opts:       opts,
		dispatcher: dispatcher,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Start subscribes to the local inbox. Envelopes are handled with ctx.
func (t *Transport) Start(ctx context.Context) error {
	topic := mqtt.Topics{}.DeviceInbox(t.deviceID)
	if err := t.broker.Subscribe(topic, qosAtLeastOnce, func(_ string, payload []byte) error {
		return t.dispatcher.HandleMessage(ctx, payload)
	}); err != nil {
		return fmt.Errorf("subscribing to inbox: %w", err)
	}
	t.logger.Info("listening for continuations", "topic", topic)
	return nil
}

// ContinueExecutionOnDevice publishes d to the target device's inbox.
//
// Returns:
//   - error: wrapped ErrDeliveryFailed after the configured attempts, or
//     ctx's error if it ends while waiting to retry
func (t *Transport) ContinueExecutionOnDevice(ctx context.Context, d engine.RemoteExecutionDescriptor, deviceID int) error {
	payload, err := EncodeDescriptor(d)
	if err != nil {
		return err
	}
	if err := t.publish(ctx, mqtt.Topics{}.DeviceInbox(deviceID), payload); err != nil {
		return err
	}
	t.logger.Debug("continuation published",
		"macro_id", d.MacroID,
		"target_device", deviceID,
		"key", d.IdempotencyKey(),
	)
	return nil
}

// NotifyModelUpdated tells each device that the shared catalog changed.
// It returns the first delivery error after trying every device.
func (t *Transport) NotifyModelUpdated(ctx context.Context, deviceIDs []int) error {
	var first error
	for _, id := range deviceIDs {
		if id == t.deviceID {
			continue
		}
		if err := t.publish(ctx, mqtt.Topics{}.DeviceInbox(id), EncodeModelUpdated()); err != nil {
			t.logger.Warn("model update notification failed", "target_device", id, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (t *Transport) publish(ctx context.Context, topic string, payload []byte) error {
	backoff := t.opts.Backoff
	var lastErr error
	for attempt := 1; attempt <= t.opts.Attempts; attempt++ {
		lastErr = t.broker.Publish(topic, payload, qosAtLeastOnce, false)
		if lastErr == nil {
			return nil
		}
		if attempt == t.opts.Attempts {
			break
		}
		t.logger.Warn("publish failed, retrying", "topic", topic, "attempt", attempt, "error", lastErr)
		if err := t.sleep(ctx, backoff); err != nil {
			return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %d attempts to %s: %w", ErrDeliveryFailed, t.opts.Attempts, topic, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
