package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Sinapsi topic layout. Every device owns a subtree keyed by its numeric ID:
//
//	sinapsi/device/{id}/inbox                continuation envelopes for the device
//	sinapsi/device/{id}/event/{category}     system events raised on the device
//	sinapsi/device/{id}/command/{capability} commands for the device's adapters
//	sinapsi/device/{id}/status               retained online/offline status
const (
	// TopicPrefix is the base of every Sinapsi topic.
	TopicPrefix = "sinapsi"

	// TopicPrefixDevice is the base of the per-device subtrees.
	TopicPrefixDevice = "sinapsi/device"
)

// Topic kinds under a device subtree.
const (
	KindInbox   = "inbox"
	KindEvent   = "event"
	KindCommand = "command"
	KindStatus  = "status"
)

// Topics provides builders for Sinapsi MQTT topics.
//
//	topics := mqtt.Topics{}
//	inbox := topics.DeviceInbox(2)
//	// Returns: "sinapsi/device/2/inbox"
type Topics struct{}

// DeviceInbox returns the topic a device receives continuation envelopes on.
//
// Example: sinapsi/device/2/inbox
func (Topics) DeviceInbox(deviceID int) string {
	return fmt.Sprintf("%s/%d/%s", TopicPrefixDevice, deviceID, KindInbox)
}

// DeviceEvent returns the topic for one category of system events.
//
// Example: sinapsi/device/1/event/WIFI
func (Topics) DeviceEvent(deviceID int, category string) string {
	return fmt.Sprintf("%s/%d/%s/%s", TopicPrefixDevice, deviceID, KindEvent, category)
}

// DeviceCommand returns the topic an adapter publishes device commands to.
//
// Example: sinapsi/device/1/command/sms
func (Topics) DeviceCommand(deviceID int, capability string) string {
	return fmt.Sprintf("%s/%d/%s/%s", TopicPrefixDevice, deviceID, KindCommand, capability)
}

// DeviceStatus returns the retained status topic of a device.
//
// Example: sinapsi/device/1/status
func (Topics) DeviceStatus(deviceID int) string {
	return fmt.Sprintf("%s/%d/%s", TopicPrefixDevice, deviceID, KindStatus)
}

// AllDeviceEvents returns a pattern matching every event of one device.
//
// Pattern: sinapsi/device/1/event/+
func (Topics) AllDeviceEvents(deviceID int) string {
	return fmt.Sprintf("%s/%d/%s/+", TopicPrefixDevice, deviceID, KindEvent)
}

// AllDeviceStatus returns a pattern matching the status of every device.
//
// Pattern: sinapsi/device/+/status
func (Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/+/%s", TopicPrefixDevice, KindStatus)
}

// DeviceTopic is a parsed per-device topic.
type DeviceTopic struct {
	DeviceID int
	Kind     string
	// Leaf is the event category or command capability; empty for inbox
	// and status topics.
	Leaf string
}

// ParseDeviceTopic splits a topic built by Topics into its parts.
// It returns false for topics outside the per-device subtrees.
func ParseDeviceTopic(topic string) (DeviceTopic, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixDevice+"/")
	if !ok {
		return DeviceTopic{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		return DeviceTopic{}, false
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return DeviceTopic{}, false
	}

	dt := DeviceTopic{DeviceID: id, Kind: parts[1]}
	switch dt.Kind {
	case KindInbox, KindStatus:
		if len(parts) != 2 {
			return DeviceTopic{}, false
		}
	case KindEvent, KindCommand:
		if len(parts) != 3 || parts[2] == "" {
			return DeviceTopic{}, false
		}
		dt.Leaf = parts[2]
	default:
		return DeviceTopic{}, false
	}
	return dt, true
}
