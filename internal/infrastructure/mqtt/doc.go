// Package mqtt provides MQTT connectivity for a Sinapsi device.
//
// The broker links the user's devices. Each device owns a topic subtree
// (see Topics) where it receives continuation envelopes handed off by other
// devices, publishes the system events it observes, and receives commands
// for its capability adapters.
//
//	Device 1 ↔ MQTT Broker ↔ Device 2
//
// The client keeps a persistent session so QoS 1 envelopes queued while a
// device is offline reach it on reconnect, and sets a Last Will so peers see
// the device go offline.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Device.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.DeviceInbox(cfg.Device.ID), 1,
//	    func(topic string, payload []byte) error {
//	        return dispatcher.HandleMessage(ctx, payload)
//	    })
package mqtt
