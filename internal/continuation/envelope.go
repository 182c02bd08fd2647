package continuation

import (
	"encoding/json"
	"fmt"

	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// Message types carried in an Envelope.
const (
	MsgRemoteExecutionDescriptor = "REMOTE_EXECUTION_DESCRIPTOR"
	MsgModelUpdatedNotification  = "MODEL_UPDATED_NOTIFICATION"
)

// Envelope is the unit exchanged between devices over MQTT, HTTP and
// WebSocket.
//
//	{"msgType": "REMOTE_EXECUTION_DESCRIPTOR", "data": {"idMacro": 3, ...}}
type Envelope struct {
	MsgType string          `json:"msgType"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// EncodeDescriptor wraps a descriptor in an envelope.
func EncodeDescriptor(d engine.RemoteExecutionDescriptor) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding descriptor: %w", err)
	}
	return json.Marshal(Envelope{MsgType: MsgRemoteExecutionDescriptor, Data: data})
}

// EncodeModelUpdated builds a MODEL_UPDATED_NOTIFICATION envelope.
func EncodeModelUpdated() []byte {
	b, _ := json.Marshal(Envelope{MsgType: MsgModelUpdatedNotification}) //nolint:errcheck // constant shape
	return b
}

// DecodeEnvelope parses an envelope without interpreting its data.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.MsgType == "" {
		return Envelope{}, fmt.Errorf("%w: missing msgType", ErrMalformedEnvelope)
	}
	return env, nil
}
