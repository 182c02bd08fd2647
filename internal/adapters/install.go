package adapters

import (
	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// Set is the adapters a device offers to its macros.
type Set struct {
	Commands *CommandSender
	Prompts  *PromptBroker
	Log      *MacroLog
}

// Install registers every non-nil adapter of s on facade. Without Commands
// the SMS, Wi-Fi and notification actions stay unavailable on this device.
func Install(facade *engine.SystemFacade, s Set) {
	if s.Commands != nil {
		facade.AddCapability(engine.CapabilitySMS, s.Commands.SMS())
		facade.AddCapability(engine.CapabilityWifi, s.Commands.Wifi())
		facade.AddCapability(engine.CapabilityNotification, s.Commands.Notification())
	}
	if s.Prompts != nil {
		facade.AddCapability(engine.CapabilityDialogs, s.Prompts)
	}
	if s.Log != nil {
		facade.AddCapability(engine.CapabilityLog, s.Log)
	}
}
